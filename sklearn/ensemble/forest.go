// Package ensemble は決定木のバギング集合 RandomForestClassifier を提供します。
//
// 各木はブートストラップ標本（重み付きで表現）と balanced クラス重みで
// 独立に学習され、CPU ワーカーに分配されます。ラベルは多数決（hard）、
// 確率は木ごとの葉のクラス分布の平均です。
package ensemble

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/core/parallel"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
	"github.com/YuminosukeSato/failrisk/sklearn/tree"
)

// 投票方式
const (
	VotingHard = "hard"
	VotingSoft = "soft"
)

// RandomForestClassifier はランダムフォレスト分類器
type RandomForestClassifier struct {
	state *model.StateManager

	// ハイパーパラメータ
	nEstimators     int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	bootstrap       bool
	classWeight     string // "balanced", "balanced_subsample" or ""
	voting          string
	nJobs           int
	randomState     int64

	logger log.Logger

	// 学習結果
	trees        []*tree.DecisionTreeClassifier
	classes_     []int
	nFeatures_   int
	importances_ []float64
}

// Option は RandomForestClassifier の設定関数
type Option func(*RandomForestClassifier)

// WithNEstimators は木の本数を設定する
func WithNEstimators(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nEstimators = n }
}

// WithCriterion は不純度の基準を設定する ("gini" or "entropy")
func WithCriterion(c string) Option {
	return func(rf *RandomForestClassifier) { rf.criterion = c }
}

// WithMaxDepth は各木の最大深さを設定する（0 以下は無制限）
func WithMaxDepth(d int) Option {
	return func(rf *RandomForestClassifier) { rf.maxDepth = d }
}

// WithMinSamplesSplit は分割に必要な最小サンプル数を設定する
func WithMinSamplesSplit(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesSplit = n }
}

// WithMinSamplesLeaf は葉の最小サンプル数を設定する
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

// WithMaxFeatures は分割ごとの特徴量サブサンプル規則を設定する
func WithMaxFeatures(rule string) Option {
	return func(rf *RandomForestClassifier) { rf.maxFeatures = rule }
}

// WithBootstrap はブートストラップ標本の使用を切り替える
func WithBootstrap(b bool) Option {
	return func(rf *RandomForestClassifier) { rf.bootstrap = b }
}

// WithClassWeight はクラス重みを設定する
func WithClassWeight(cw string) Option {
	return func(rf *RandomForestClassifier) { rf.classWeight = cw }
}

// WithVoting は Predict の投票方式を設定する ("hard" or "soft")
func WithVoting(v string) Option {
	return func(rf *RandomForestClassifier) { rf.voting = v }
}

// WithNJobs は並列ワーカー数を設定する（0 以下は全コア）
func WithNJobs(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nJobs = n }
}

// WithRandomState は乱数シードを設定する（負の値は毎回異なるシード）
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// WithLogger はロガーを設定する
func WithLogger(logger log.Logger) Option {
	return func(rf *RandomForestClassifier) { rf.logger = logger }
}

// NewRandomForestClassifier は新しい RandomForestClassifier を作成する。
// 既定値は 300 本、balanced クラス重み、max_features=sqrt、hard voting。
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     300,
		criterion:       "gini",
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		bootstrap:       true,
		classWeight:     "balanced",
		voting:          VotingHard,
		randomState:     -1,
		logger:          log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// SetLogger は読み込み後の推定器にロガーを付け直す
func (rf *RandomForestClassifier) SetLogger(logger log.Logger) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	rf.logger = logger
}

func (rf *RandomForestClassifier) validateParams() error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", rf.nEstimators)
	}
	switch rf.classWeight {
	case "", "balanced", "balanced_subsample":
	default:
		return errors.NewValidationError("class_weight", "must be 'balanced', 'balanced_subsample' or empty", rf.classWeight)
	}
	switch rf.voting {
	case VotingHard, VotingSoft:
	default:
		return errors.NewValidationError("voting", "must be 'hard' or 'soft'", rf.voting)
	}
	return nil
}

// Fit はフォレストを学習する。y は (n, 1) のクラス番号
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")

	if err := rf.validateParams(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, _ := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows != nSamples {
		return errors.NewDimensionError("RandomForestClassifier.Fit", nSamples, yRows, 0)
	}

	classes, yIdx := encodeClasses(y)
	if len(classes) < 2 {
		return errors.NewModelError("RandomForestClassifier.Fit", "single class", errors.ErrSingleClass)
	}
	nClasses := len(classes)

	start := time.Now()
	rf.logger.Info("Fitting random forest",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.ClassesKey, nClasses,
		log.TreesKey, rf.nEstimators,
	)

	cols := tree.ColumnsOf(X)
	var classW []float64
	if rf.classWeight == "balanced" {
		classW = tree.BalancedClassWeights(yIdx, nClasses)
	}

	// 木ごとのシードはマスター乱数から順に引く（並列実行順に依存しない）
	master := rand.New(rand.NewSource(rf.seed()))
	seeds := make([]int64, rf.nEstimators)
	for t := range seeds {
		seeds[t] = master.Int63()
	}

	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	err = parallel.ForEach(rf.nEstimators, parallel.Workers(rf.nJobs), func(t int) error {
		w := rf.sampleWeights(yIdx, nClasses, classW, rand.New(rand.NewSource(seeds[t])))
		dt := tree.NewDecisionTreeClassifier(
			tree.WithCriterion(rf.criterion),
			tree.WithMaxDepth(rf.maxDepth),
			tree.WithMinSamplesSplit(rf.minSamplesSplit),
			tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
			tree.WithMaxFeatures(rf.maxFeatures),
			tree.WithRandomState(seeds[t]),
		)
		if err := dt.FitColumns(cols, yIdx, w, nClasses); err != nil {
			return errors.Wrapf(err, "tree %d", t)
		}
		trees[t] = dt
		return nil
	})
	if err != nil {
		return err
	}

	rf.trees = trees
	rf.classes_ = classes
	rf.nFeatures_ = nFeatures
	rf.importances_ = meanImportances(trees, nFeatures)
	rf.state.MarkFitted(nFeatures, nSamples)

	rf.logger.Info("Random forest fitted",
		log.OperationKey, log.OperationFit,
		log.TreesKey, len(trees),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (rf *RandomForestClassifier) seed() int64 {
	if rf.randomState < 0 {
		return rand.Int63()
	}
	return rf.randomState
}

// sampleWeights はブートストラップの出現回数とクラス重みの積を返す
func (rf *RandomForestClassifier) sampleWeights(y []int, nClasses int, classW []float64, rng *rand.Rand) []float64 {
	n := len(y)
	w := make([]float64, n)
	if rf.bootstrap {
		for i := 0; i < n; i++ {
			w[rng.Intn(n)]++
		}
	} else {
		for i := range w {
			w[i] = 1
		}
	}

	switch rf.classWeight {
	case "balanced":
		for i := range w {
			w[i] *= classW[y[i]]
		}
	case "balanced_subsample":
		// ブートストラップ標本上のクラス頻度で重み付けする
		var drawn []int
		for i, c := range w {
			for k := 0; k < int(c); k++ {
				drawn = append(drawn, y[i])
			}
		}
		sub := tree.BalancedClassWeights(drawn, nClasses)
		for i := range w {
			w[i] *= sub[y[i]]
		}
	}
	return w
}

func meanImportances(trees []*tree.DecisionTreeClassifier, nFeatures int) []float64 {
	out := make([]float64, nFeatures)
	for _, dt := range trees {
		floats.Add(out, dt.FeatureImportances())
	}
	if total := floats.Sum(out); total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}

func (rf *RandomForestClassifier) checkInput(op string, X mat.Matrix) error {
	if err := rf.state.RequireFitted("RandomForestClassifier", op); err != nil {
		return err
	}
	return rf.state.RequireFeatures("RandomForestClassifier."+op, colsOf(X))
}

func colsOf(X mat.Matrix) int {
	_, c := X.Dims()
	return c
}

// sequentialRows 行以下の推論は並列化しない
const sequentialRows = 16

// PredictProba は木ごとのクラス分布の平均を (n, n_classes) で返す
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.checkInput("PredictProba", X); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	out := mat.NewDense(rows, len(rf.classes_), nil)
	parallel.ParallelizeWithThreshold(rows, sequentialRows, parallel.Workers(rf.nJobs), func(start, end int) {
		x := make([]float64, cols)
		for i := start; i < end; i++ {
			mat.Row(x, i, X)
			out.SetRow(i, rf.PredictProbaRow(x))
		}
	})
	return out, nil
}

// PredictProbaRow は1行分の平均クラス分布を返す
func (rf *RandomForestClassifier) PredictProbaRow(x []float64) []float64 {
	proba := make([]float64, len(rf.classes_))
	for _, dt := range rf.trees {
		floats.Add(proba, dt.PredictProbaRow(x))
	}
	floats.Scale(1/float64(len(rf.trees)), proba)
	return proba
}

// Predict はクラスラベルを (n, 1) で返す。
// hard voting では各木の予測の多数決。同票は平均確率、次に小さいクラス番号で決める。
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.checkInput("Predict", X); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	out := mat.NewDense(rows, 1, nil)
	parallel.ParallelizeWithThreshold(rows, sequentialRows, parallel.Workers(rf.nJobs), func(start, end int) {
		x := make([]float64, cols)
		for i := start; i < end; i++ {
			mat.Row(x, i, X)
			out.Set(i, 0, float64(rf.classes_[rf.predictIndex(x)]))
		}
	})
	return out, nil
}

// predictIndex は1行の予測クラスのインデックスを返す
func (rf *RandomForestClassifier) predictIndex(x []float64) int {
	nClasses := len(rf.classes_)
	proba := make([]float64, nClasses)
	votes := make([]int, nClasses)
	for _, dt := range rf.trees {
		p := dt.PredictProbaRow(x)
		floats.Add(proba, p)
		votes[argmax(p)]++
	}

	if rf.voting == VotingSoft {
		return argmax(proba)
	}
	best := 0
	for k := 1; k < nClasses; k++ {
		if votes[k] > votes[best] || (votes[k] == votes[best] && proba[k] > proba[best]) {
			best = k
		}
	}
	return best
}

// argmax は最大値の最小インデックスを返す
func argmax(v []float64) int {
	best := 0
	for k := 1; k < len(v); k++ {
		if v[k] > v[best] {
			best = k
		}
	}
	return best
}

// Score は (X, y) に対する正解率を返す
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0, err
	}
	rows, _ := y.Dims()
	if rows == 0 {
		return 0, errors.NewModelError("RandomForestClassifier.Score", "empty data", errors.ErrEmptyData)
	}
	correct := 0
	for i := 0; i < rows; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows), nil
}

// IsFitted は学習済みかどうかを返す
func (rf *RandomForestClassifier) IsFitted() bool { return rf.state.IsFitted() }

// Classes は学習時に見たクラスラベルを昇順で返す
func (rf *RandomForestClassifier) Classes() []int { return append([]int(nil), rf.classes_...) }

// NFeatures は学習時の特徴量数
func (rf *RandomForestClassifier) NFeatures() int { return rf.nFeatures_ }

// Trees は学習済みの木を返す。木のクラス番号は Classes() のインデックス
func (rf *RandomForestClassifier) Trees() []*tree.DecisionTreeClassifier { return rf.trees }

// FeatureImportances は木ごとの MDI 重要度の平均（合計 1 に正規化）
func (rf *RandomForestClassifier) FeatureImportances() []float64 {
	return append([]float64(nil), rf.importances_...)
}

// ArtifactKind implements model.Artifact.
func (rf *RandomForestClassifier) ArtifactKind() string { return "RandomForestClassifier" }

// GetParams はハイパーパラメータを返す
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"class_weight":      rf.classWeight,
		"voting":            rf.voting,
		"n_jobs":            rf.nJobs,
		"random_state":      rf.randomState,
	}
}

// SetParams はハイパーパラメータを設定する
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "n_estimators":
			rf.nEstimators, ok = value.(int)
		case "criterion":
			rf.criterion, ok = value.(string)
		case "max_depth":
			rf.maxDepth, ok = value.(int)
		case "min_samples_split":
			rf.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			rf.minSamplesLeaf, ok = value.(int)
		case "max_features":
			rf.maxFeatures, ok = value.(string)
		case "bootstrap":
			rf.bootstrap, ok = value.(bool)
		case "class_weight":
			rf.classWeight, ok = value.(string)
		case "voting":
			rf.voting, ok = value.(string)
		case "n_jobs":
			rf.nJobs, ok = value.(int)
		case "random_state":
			rf.randomState, ok = value.(int64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return rf.validateParams()
}

var (
	_ model.Classifier         = (*RandomForestClassifier)(nil)
	_ model.FeatureImportancer = (*RandomForestClassifier)(nil)
	_ model.ParameterGetter    = (*RandomForestClassifier)(nil)
	_ model.ParameterSetter    = (*RandomForestClassifier)(nil)
)

type forestSnapshot struct {
	State       model.ModelState
	Params      forestParams
	Trees       []*tree.DecisionTreeClassifier
	Classes     []int
	NFeatures   int
	Importances []float64
}

type forestParams struct {
	NEstimators     int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	Bootstrap       bool
	ClassWeight     string
	Voting          string
	NJobs           int
	RandomState     int64
}

// GobEncode implements gob.GobEncoder.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestSnapshot{
		State: rf.state.Snapshot(),
		Params: forestParams{
			NEstimators:     rf.nEstimators,
			Criterion:       rf.criterion,
			MaxDepth:        rf.maxDepth,
			MinSamplesSplit: rf.minSamplesSplit,
			MinSamplesLeaf:  rf.minSamplesLeaf,
			MaxFeatures:     rf.maxFeatures,
			Bootstrap:       rf.bootstrap,
			ClassWeight:     rf.classWeight,
			Voting:          rf.voting,
			NJobs:           rf.nJobs,
			RandomState:     rf.randomState,
		},
		Trees:       rf.trees,
		Classes:     rf.classes_,
		NFeatures:   rf.nFeatures_,
		Importances: rf.importances_,
	})
	return buf.Bytes(), err
}

// GobDecode implements gob.GobDecoder.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var s forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	rf.state = model.NewStateManager()
	rf.state.Restore(s.State)
	p := s.Params
	rf.nEstimators = p.NEstimators
	rf.criterion = p.Criterion
	rf.maxDepth = p.MaxDepth
	rf.minSamplesSplit = p.MinSamplesSplit
	rf.minSamplesLeaf = p.MinSamplesLeaf
	rf.maxFeatures = p.MaxFeatures
	rf.bootstrap = p.Bootstrap
	rf.classWeight = p.ClassWeight
	rf.voting = p.Voting
	rf.nJobs = p.NJobs
	rf.randomState = p.RandomState
	rf.trees = s.Trees
	rf.classes_ = s.Classes
	rf.nFeatures_ = s.NFeatures
	rf.importances_ = s.Importances
	if rf.logger == nil {
		rf.logger = log.NewNopLogger()
	}
	return nil
}

// encodeClasses は y の値を昇順に 0..K-1 へ写す
func encodeClasses(y mat.Matrix) ([]int, []int) {
	rows, _ := y.Dims()
	raw := make([]int, rows)
	seen := make(map[int]struct{})
	for i := 0; i < rows; i++ {
		raw[i] = int(y.At(i, 0))
		seen[raw[i]] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	pos := make(map[int]int, len(classes))
	for k, c := range classes {
		pos[c] = k
	}
	idx := make([]int, rows)
	for i, c := range raw {
		idx[i] = pos[c]
	}
	return classes, idx
}

func init() {
	// imblearn.Pipeline の Classifier フィールドとして保存できるようにする
	gob.Register(&RandomForestClassifier{})
}
