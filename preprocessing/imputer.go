package preprocessing

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

// 補完戦略
const (
	StrategyMedian       = "median"
	StrategyMean         = "mean"
	StrategyMostFrequent = "most_frequent"
	StrategyConstant     = "constant"
)

// SimpleImputer はscikit-learn互換の数値欠損値補完器
// NaN を欠損とみなし、学習時の統計量で置き換える
type SimpleImputer struct {
	model.StateManager

	// Strategy は補完戦略 ("median", "mean", "most_frequent", "constant")
	Strategy string

	// FillValue は Strategy が "constant" のときの補完値
	FillValue float64

	// Statistics は各特徴量の補完値
	Statistics []float64
}

// NewSimpleImputer は新しいSimpleImputerを作成する
//
// 使用例:
//
//	imp := preprocessing.NewSimpleImputer(preprocessing.StrategyMedian)
//	XFilled, err := imp.FitTransform(X)
func NewSimpleImputer(strategy string) *SimpleImputer {
	return &SimpleImputer{Strategy: strategy}
}

// Fit は各列の補完値を学習する。全て欠損の列はエラー
func (s *SimpleImputer) Fit(X mat.Matrix) (err error) {
	defer errors.Recover(&err, "SimpleImputer.Fit")

	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("SimpleImputer.Fit", "empty data", errors.ErrEmptyData)
	}

	stats := make([]float64, c)
	col := make([]float64, 0, r)
	for j := 0; j < c; j++ {
		col = col[:0]
		for i := 0; i < r; i++ {
			if v := X.At(i, j); !math.IsNaN(v) {
				col = append(col, v)
			}
		}
		if s.Strategy == StrategyConstant {
			stats[j] = s.FillValue
			continue
		}
		if len(col) == 0 {
			return errors.NewValueError("SimpleImputer.Fit",
				fmt.Sprintf("feature %d has no observed values", j))
		}

		switch s.Strategy {
		case StrategyMedian, "":
			stats[j] = median(col)
		case StrategyMean:
			stats[j] = stat.Mean(col, nil)
		case StrategyMostFrequent:
			stats[j] = modeFloat(col)
		default:
			return errors.NewValidationError("strategy", "unknown imputation strategy", s.Strategy)
		}
	}

	s.Statistics = stats
	s.MarkFitted(c, r)
	return nil
}

// Transform は NaN を学習済みの補完値で埋めた新しい行列を返す
func (s *SimpleImputer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.RequireFitted("SimpleImputer", "Transform"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := s.RequireFeatures("SimpleImputer.Transform", c); err != nil {
		return nil, err
	}

	out := mat.DenseCopyOf(X)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(out.At(i, j)) {
				out.Set(i, j, s.Statistics[j])
			}
		}
	}
	return out, nil
}

// FitTransform はFitとTransformを同時に実行する
func (s *SimpleImputer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

var _ model.Transformer = (*SimpleImputer)(nil)

// median は偶数個のとき中央2値の平均を返す（numpy.median と同じ）
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// modeFloat は最頻値を返す。同数の場合は最小値
func modeFloat(values []float64) float64 {
	counts := make(map[float64]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := math.Inf(1), 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}

// CategoricalImputer は文字列列の欠損値補完器
// 入力は列優先 (cols[j][i] が j 列目 i 行目)。空文字を欠損とみなす
type CategoricalImputer struct {
	model.StateManager

	// Strategy は "most_frequent" または "constant"
	Strategy string

	// FillValue は "constant" 戦略の補完値
	FillValue string

	// Statistics は各列の補完値
	Statistics []string
}

// NewCategoricalImputer は新しいCategoricalImputerを作成する
func NewCategoricalImputer(strategy string) *CategoricalImputer {
	return &CategoricalImputer{Strategy: strategy}
}

// Fit は各列の最頻値を学習する。同数の場合は辞書順で最小の値
func (c *CategoricalImputer) Fit(cols [][]string) error {
	if len(cols) == 0 || len(cols[0]) == 0 {
		return errors.NewModelError("CategoricalImputer.Fit", "empty data", errors.ErrEmptyData)
	}

	stats := make([]string, len(cols))
	for j, col := range cols {
		if c.Strategy == StrategyConstant {
			stats[j] = c.FillValue
			continue
		}
		if c.Strategy != StrategyMostFrequent && c.Strategy != "" {
			return errors.NewValidationError("strategy", "unknown imputation strategy", c.Strategy)
		}

		counts := make(map[string]int)
		for _, v := range col {
			if v != "" {
				counts[v]++
			}
		}
		if len(counts) == 0 {
			return errors.NewValueError("CategoricalImputer.Fit",
				fmt.Sprintf("feature %d has no observed values", j))
		}
		best, bestCount := "", 0
		for v, n := range counts {
			if n > bestCount || (n == bestCount && v < best) {
				best, bestCount = v, n
			}
		}
		stats[j] = best
	}

	c.Statistics = stats
	c.MarkFitted(len(cols), len(cols[0]))
	return nil
}

// Transform は欠損セルを補完した新しい列集合を返す。入力は変更しない
func (c *CategoricalImputer) Transform(cols [][]string) ([][]string, error) {
	if err := c.RequireFitted("CategoricalImputer", "Transform"); err != nil {
		return nil, err
	}
	if err := c.RequireFeatures("CategoricalImputer.Transform", len(cols)); err != nil {
		return nil, err
	}

	out := make([][]string, len(cols))
	for j, col := range cols {
		filled := make([]string, len(col))
		for i, v := range col {
			if v == "" {
				filled[i] = c.Statistics[j]
			} else {
				filled[i] = v
			}
		}
		out[j] = filled
	}
	return out, nil
}

// FitTransform はFitとTransformを同時に実行する
func (c *CategoricalImputer) FitTransform(cols [][]string) ([][]string, error) {
	if err := c.Fit(cols); err != nil {
		return nil, err
	}
	return c.Transform(cols)
}
