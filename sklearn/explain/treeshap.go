// Package explain computes exact path-dependent TreeSHAP attributions for
// decision trees and forests built by sklearn/tree.
//
// For every row and class the attributions satisfy local accuracy:
//
//	BaseValues[c] + sum_j Values[c].At(i, j) == PredictProba(X).At(i, c)
//
// where the model output is the average of the trees' normalized leaf class
// distributions.
package explain

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/core/parallel"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
	"github.com/YuminosukeSato/failrisk/sklearn/tree"
)

// TreeEnsemble is implemented by ensemble.RandomForestClassifier.
type TreeEnsemble interface {
	Trees() []*tree.DecisionTreeClassifier
	Classes() []int
}

// Explanation holds SHAP values for a set of rows.
type Explanation struct {
	// Values[c] is (samples x features) for class index c.
	Values []*mat.Dense
	// BaseValues[c] is the expected model output for class c.
	BaseValues   []float64
	Classes      []int
	FeatureNames []string
}

// MeanAbs returns mean |SHAP| per feature for class index c.
func (e *Explanation) MeanAbs(c int) []float64 {
	rows, cols := e.Values[c].Dims()
	out := make([]float64, cols)
	if rows == 0 {
		return out
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[j] += math.Abs(e.Values[c].At(i, j))
		}
	}
	for j := range out {
		out[j] /= float64(rows)
	}
	return out
}

// MeanAbsOverall sums MeanAbs over classes, which is what a multi-class
// summary bar chart stacks.
func (e *Explanation) MeanAbsOverall() []float64 {
	var out []float64
	for c := range e.Values {
		m := e.MeanAbs(c)
		if out == nil {
			out = make([]float64, len(m))
		}
		for j, v := range m {
			out[j] += v
		}
	}
	return out
}

// FeatureRank pairs a feature with its mean |SHAP|.
type FeatureRank struct {
	Name  string  `json:"feature"`
	Index int     `json:"index"`
	Value float64 `json:"mean_abs_shap"`
}

// Ranking returns features sorted by MeanAbsOverall, largest first.
func (e *Explanation) Ranking() []FeatureRank {
	m := e.MeanAbsOverall()
	out := make([]FeatureRank, len(m))
	for j, v := range m {
		name := ""
		if j < len(e.FeatureNames) {
			name = e.FeatureNames[j]
		}
		out[j] = FeatureRank{Name: name, Index: j, Value: v}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Value > out[b].Value })
	return out
}

// TreeSHAP explains a fitted tree ensemble.
type TreeSHAP struct {
	trees        []*tree.DecisionTreeClassifier
	classes      []int
	featureNames []string
	nJobs        int
	logger       log.Logger
}

// Option configures TreeSHAP.
type Option func(*TreeSHAP)

// WithFeatureNames labels the explained columns.
func WithFeatureNames(names []string) Option {
	return func(ts *TreeSHAP) { ts.featureNames = names }
}

// WithNJobs sets the number of workers rows are spread over.
func WithNJobs(n int) Option {
	return func(ts *TreeSHAP) { ts.nJobs = n }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(ts *TreeSHAP) { ts.logger = logger }
}

// NewTreeSHAP creates an explainer for a fitted ensemble.
func NewTreeSHAP(model TreeEnsemble, opts ...Option) (*TreeSHAP, error) {
	trees := model.Trees()
	if len(trees) == 0 {
		return nil, errors.NewNotFittedError("TreeSHAP", "NewTreeSHAP")
	}
	return newTreeSHAP(trees, model.Classes(), opts...)
}

// NewTreeSHAPForTree explains a single decision tree.
func NewTreeSHAPForTree(dt *tree.DecisionTreeClassifier, opts ...Option) (*TreeSHAP, error) {
	if !dt.IsFitted() {
		return nil, errors.NewNotFittedError("TreeSHAP", "NewTreeSHAPForTree")
	}
	return newTreeSHAP([]*tree.DecisionTreeClassifier{dt}, dt.Classes(), opts...)
}

func newTreeSHAP(trees []*tree.DecisionTreeClassifier, classes []int, opts ...Option) (*TreeSHAP, error) {
	ts := &TreeSHAP{
		trees:   trees,
		classes: classes,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(ts)
	}
	nf := trees[0].NFeatures()
	if ts.featureNames != nil && len(ts.featureNames) != nf {
		return nil, errors.NewDimensionError("TreeSHAP", nf, len(ts.featureNames), 1)
	}
	return ts, nil
}

// BaseValues returns the cover-weighted mean leaf distribution averaged over trees.
func (ts *TreeSHAP) BaseValues() []float64 {
	base := make([]float64, len(ts.classes))
	for _, dt := range ts.trees {
		nodes := dt.Nodes()
		root := nodes[0].WeightedNSamples
		for i := range nodes {
			if !nodes[i].IsLeaf() {
				continue
			}
			p := leafProba(&nodes[i])
			for c := range base {
				base[c] += p[c] * nodes[i].WeightedNSamples / root
			}
		}
	}
	for c := range base {
		base[c] /= float64(len(ts.trees))
	}
	return base
}

// Explain computes SHAP values for every row of X.
func (ts *TreeSHAP) Explain(X mat.Matrix) (*Explanation, error) {
	rows, cols := X.Dims()
	nf := ts.trees[0].NFeatures()
	if cols != nf {
		return nil, errors.NewDimensionError("TreeSHAP.Explain", nf, cols, 1)
	}
	start := time.Now()
	nClasses := len(ts.classes)

	values := make([]*mat.Dense, nClasses)
	for c := range values {
		values[c] = mat.NewDense(max(rows, 1), cols, nil)
	}

	parallel.ParallelizeN(rows, parallel.Workers(ts.nJobs), func(lo, hi int) {
		x := make([]float64, cols)
		for i := lo; i < hi; i++ {
			mat.Row(x, i, X)
			phi := ts.explainRow(x)
			for c := 0; c < nClasses; c++ {
				for j := 0; j < cols; j++ {
					values[c].Set(i, j, phi[j][c])
				}
			}
		}
	})
	if rows == 0 {
		for c := range values {
			values[c] = &mat.Dense{}
		}
	}

	ts.logger.Info("SHAP values computed",
		log.OperationKey, log.OperationExplain,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.TreesKey, len(ts.trees),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return &Explanation{
		Values:       values,
		BaseValues:   ts.BaseValues(),
		Classes:      append([]int(nil), ts.classes...),
		FeatureNames: ts.featureNames,
	}, nil
}

// explainRow returns phi[feature][class] averaged over trees.
func (ts *TreeSHAP) explainRow(x []float64) [][]float64 {
	nClasses := len(ts.classes)
	phi := make([][]float64, len(x))
	for j := range phi {
		phi[j] = make([]float64, nClasses)
	}
	for _, dt := range ts.trees {
		w := walker{nodes: dt.Nodes(), x: x, phi: phi}
		w.recurse(0, nil, 1, 1, -1)
	}
	scale := 1 / float64(len(ts.trees))
	for j := range phi {
		for c := range phi[j] {
			phi[j][c] *= scale
		}
	}
	return phi
}

func leafProba(n *tree.Node) []float64 {
	out := make([]float64, len(n.Value))
	sum := 0.0
	for _, v := range n.Value {
		sum += v
	}
	if sum > 0 {
		for k, v := range n.Value {
			out[k] = v / sum
		}
	}
	return out
}
