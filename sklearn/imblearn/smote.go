// Package imblearn はクラス不均衡への対処を提供します。
//
// SMOTE は少数クラスの各点とその同クラス k 近傍の間を線形補間して合成点を
// 作ります。Pipeline は学習時にだけサンプラーを適用し、推論は分類器に
// そのまま委譲します。
package imblearn

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/core/parallel"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

func init() {
	gob.Register(&SMOTE{})
}

// サンプリング戦略
const (
	// StrategyAuto は多数クラス以外の全クラスを多数クラスの数まで増やす
	StrategyAuto = "auto"
	// StrategyMinority は最少クラスだけを多数クラスの数まで増やす
	StrategyMinority = "minority"
)

// SMOTE は Synthetic Minority Over-sampling Technique の実装
type SMOTE struct {
	KNeighbors  int
	Strategy    string
	RandomState int64 // 負の値は毎回異なるシード
	NJobs       int
}

// SMOTEOption は SMOTE の設定関数
type SMOTEOption func(*SMOTE)

// WithKNeighbors は近傍数を設定する
func WithKNeighbors(k int) SMOTEOption {
	return func(s *SMOTE) { s.KNeighbors = k }
}

// WithStrategy はサンプリング戦略を設定する
func WithStrategy(strategy string) SMOTEOption {
	return func(s *SMOTE) { s.Strategy = strategy }
}

// WithRandomState は乱数シードを設定する
func WithRandomState(seed int64) SMOTEOption {
	return func(s *SMOTE) { s.RandomState = seed }
}

// WithNJobs は近傍探索の並列数を設定する
func WithNJobs(n int) SMOTEOption {
	return func(s *SMOTE) { s.NJobs = n }
}

// NewSMOTE は k=5, strategy=auto の SMOTE を作成する
func NewSMOTE(opts ...SMOTEOption) *SMOTE {
	s := &SMOTE{
		KNeighbors:  5,
		Strategy:    StrategyAuto,
		RandomState: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FitResample は元の行の後ろに合成行を追加した (X, y) を返す。入力は変更しない。
// 増やす対象のクラスの標本数が KNeighbors 以下の場合、または1クラスしか
// ない場合は TrainingError を返す。
func (s *SMOTE) FitResample(X, y mat.Matrix) (Xr, yr *mat.Dense, err error) {
	defer errors.RecoverAs(&err, "SMOTE.FitResample", func(e error) error {
		return errors.NewTrainingError("resample", e)
	})

	if s.KNeighbors < 1 {
		return nil, nil, errors.NewValidationError("k_neighbors", "must be >= 1", s.KNeighbors)
	}
	n, d := X.Dims()
	yRows, _ := y.Dims()
	if n == 0 || d == 0 {
		return nil, nil, errors.NewTrainingError("resample", errors.ErrEmptyData)
	}
	if yRows != n {
		return nil, nil, errors.NewTrainingError("resample", errors.NewDimensionError("SMOTE.FitResample", n, yRows, 0))
	}

	byClass := make(map[int][]int)
	for i := 0; i < n; i++ {
		c := int(y.At(i, 0))
		byClass[c] = append(byClass[c], i)
	}
	if len(byClass) < 2 {
		return nil, nil, errors.NewTrainingError("resample", errors.ErrSingleClass)
	}

	targets, err := s.targets(byClass)
	if err != nil {
		return nil, nil, err
	}

	seed := s.RandomState
	if seed < 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))

	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}

	type synth struct {
		label int
		row   []float64
	}
	var out []synth
	for _, c := range sortedKeys(byClass) {
		nNew := targets[c]
		if nNew == 0 {
			continue
		}
		members := byClass[c]
		if len(members) <= s.KNeighbors {
			return nil, nil, errors.NewTrainingError("resample", errors.Newf(
				"class %d has %d samples, need more than k_neighbors=%d", c, len(members), s.KNeighbors))
		}
		nn := s.neighbors(rows, members)
		for j := 0; j < nNew; j++ {
			m := rng.Intn(len(members))
			base := rows[members[m]]
			other := rows[nn[m][rng.Intn(s.KNeighbors)]]
			gap := rng.Float64()
			row := make([]float64, d)
			for f := range row {
				row[f] = base[f] + gap*(other[f]-base[f])
			}
			out = append(out, synth{label: c, row: row})
		}
	}

	total := n + len(out)
	Xr = mat.NewDense(total, d, nil)
	yr = mat.NewDense(total, 1, nil)
	for i := 0; i < n; i++ {
		Xr.SetRow(i, rows[i])
		yr.Set(i, 0, y.At(i, 0))
	}
	for j, sp := range out {
		Xr.SetRow(n+j, sp.row)
		yr.Set(n+j, 0, float64(sp.label))
	}
	return Xr, yr, nil
}

// targets はクラスごとに生成する合成標本数を返す
func (s *SMOTE) targets(byClass map[int][]int) (map[int]int, error) {
	majority := 0
	for _, m := range byClass {
		if len(m) > majority {
			majority = len(m)
		}
	}
	out := make(map[int]int, len(byClass))
	switch s.Strategy {
	case StrategyAuto, "not majority":
		for c, m := range byClass {
			out[c] = majority - len(m)
		}
	case StrategyMinority:
		minC, minN := 0, -1
		for _, c := range sortedKeys(byClass) {
			if minN < 0 || len(byClass[c]) < minN {
				minC, minN = c, len(byClass[c])
			}
		}
		out[minC] = majority - minN
	default:
		return nil, errors.NewValidationError("sampling_strategy", "must be 'auto' or 'minority'", s.Strategy)
	}
	return out, nil
}

// neighbors は members 内の各点について、自身を除く同クラス k 近傍の行番号を返す。
// 距離が同じ場合は行番号の小さい方を優先する。
func (s *SMOTE) neighbors(rows [][]float64, members []int) [][]int {
	k := s.KNeighbors
	nn := make([][]int, len(members))
	parallel.ParallelizeN(len(members), parallel.Workers(s.NJobs), func(start, end int) {
		type cand struct {
			idx  int
			dist float64
		}
		cands := make([]cand, 0, len(members)-1)
		for a := start; a < end; a++ {
			cands = cands[:0]
			for b, j := range members {
				if b == a {
					continue
				}
				cands = append(cands, cand{idx: j, dist: floats.Distance(rows[members[a]], rows[j], 2)})
			}
			sort.Slice(cands, func(p, q int) bool {
				if cands[p].dist != cands[q].dist {
					return cands[p].dist < cands[q].dist
				}
				return cands[p].idx < cands[q].idx
			})
			out := make([]int, k)
			for r := 0; r < k; r++ {
				out[r] = cands[r].idx
			}
			nn[a] = out
		}
	})
	return nn
}

// GetParams はハイパーパラメータを返す
func (s *SMOTE) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"k_neighbors":       s.KNeighbors,
		"sampling_strategy": s.Strategy,
		"random_state":      s.RandomState,
	}
}

// SetParams はハイパーパラメータを設定する
func (s *SMOTE) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "k_neighbors":
			s.KNeighbors, ok = value.(int)
		case "sampling_strategy":
			s.Strategy, ok = value.(string)
		case "random_state":
			s.RandomState, ok = value.(int64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

// String は設定の要約
func (s *SMOTE) String() string {
	return fmt.Sprintf("SMOTE(k_neighbors=%d, sampling_strategy=%s, random_state=%d)", s.KNeighbors, s.Strategy, s.RandomState)
}

func sortedKeys(m map[int][]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

var (
	_ model.Sampler         = (*SMOTE)(nil)
	_ model.ParameterGetter = (*SMOTE)(nil)
	_ model.ParameterSetter = (*SMOTE)(nil)
)
