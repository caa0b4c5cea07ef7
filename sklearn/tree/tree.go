// Package tree implements a CART decision tree classifier compatible with
// scikit-learn's DecisionTreeClassifier: weighted gini/entropy impurity,
// midpoint thresholds, feature subsampling and impurity-based importances.
// Fitted trees are stored as a flat node array so they can be walked by the
// forest and by TreeSHAP without pointer chasing.
package tree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

// LeafFeature marks a leaf in Node.Feature.
const LeafFeature = -1

// Node is one node of a fitted tree.
type Node struct {
	// Feature is the split feature, LeafFeature for leaves.
	Feature int
	// Threshold: samples with x[Feature] <= Threshold go left.
	Threshold float64
	Left      int
	Right     int
	Impurity  float64
	// NSamples is the number of distinct training rows reaching the node.
	NSamples int
	// WeightedNSamples is the sum of sample weights reaching the node (the
	// node cover used by TreeSHAP).
	WeightedNSamples float64
	// Value holds weighted class counts.
	Value []float64
}

// IsLeaf reports whether the node is a leaf.
func (n *Node) IsLeaf() bool { return n.Feature == LeafFeature }

// DecisionTreeClassifier is a CART classification tree.
type DecisionTreeClassifier struct {
	state *model.StateManager

	// Hyperparameters
	criterion       string  // "gini" or "entropy"
	maxDepth        int     // <= 0 means unlimited
	minSamplesSplit int     // minimum samples required to split an internal node
	minSamplesLeaf  int     // minimum samples required at a leaf
	maxFeatures     string  // "sqrt", "log2", "all"
	maxFeaturesN    int     // explicit feature count, overrides maxFeatures when > 0
	classWeight     string  // "balanced" or ""
	randomState     int64   // < 0 draws a seed from the global source
	minImpurityDec  float64 // minimum impurity decrease to split

	// Learned
	nodes               []Node
	classes_            []int
	nClasses_           int
	nFeatures_          int
	featureImportances_ []float64
	depth_              int
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// WithCriterion sets the impurity criterion ("gini" or "entropy").
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.criterion = criterion
	}
}

// WithMaxDepth limits tree depth; 0 or less means unlimited.
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum samples needed to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum samples in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesLeaf = n
	}
}

// WithMaxFeatures sets the per-split feature subsample rule: "sqrt", "log2"
// or "all".
func WithMaxFeatures(rule string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxFeatures = rule
		dt.maxFeaturesN = 0
	}
}

// WithMaxFeaturesN sets an explicit per-split feature count.
func WithMaxFeaturesN(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxFeaturesN = n
	}
}

// WithClassWeight sets "balanced" class weighting.
func WithClassWeight(cw string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.classWeight = cw
	}
}

// WithRandomState sets the seed for feature subsampling.
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.randomState = seed
	}
}

// WithMinImpurityDecrease sets the minimum weighted impurity decrease.
func WithMinImpurityDecrease(v float64) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minImpurityDec = v
	}
}

// NewDecisionTreeClassifier creates a tree with scikit-learn defaults.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        0,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "all",
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// Fit builds the tree from X and class labels y (n, 1).
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	return dt.FitWeighted(X, y, nil)
}

// FitWeighted builds the tree with per-sample weights (nil means all ones).
func (dt *DecisionTreeClassifier) FitWeighted(X, y mat.Matrix, sampleWeight []float64) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows != nSamples {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", "y must be a column vector")
	}
	if sampleWeight != nil && len(sampleWeight) != nSamples {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, len(sampleWeight), 0)
	}

	classes, yIdx := encodeClasses(y)
	w := make([]float64, nSamples)
	for i := range w {
		w[i] = 1
		if sampleWeight != nil {
			w[i] = sampleWeight[i]
		}
	}
	if dt.classWeight == "balanced" {
		cw := BalancedClassWeights(yIdx, len(classes))
		for i := range w {
			w[i] *= cw[yIdx[i]]
		}
	}

	if err := dt.FitColumns(ColumnsOf(X), yIdx, w, len(classes)); err != nil {
		return err
	}
	dt.classes_ = classes
	return nil
}

// FitColumns builds the tree from column-major features and class indices
// in [0, nClasses). Rows with zero weight are ignored. Classes() reports
// 0..nClasses-1; callers map indices back to their labels.
func (dt *DecisionTreeClassifier) FitColumns(X Columns, y []int, sampleWeight []float64, nClasses int) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	if err := dt.validateParams(); err != nil {
		return err
	}
	nFeatures := len(X)
	if nFeatures == 0 || len(y) == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	for j := range X {
		if len(X[j]) != len(y) {
			return errors.NewDimensionError("DecisionTreeClassifier.Fit", len(y), len(X[j]), 0)
		}
		if err := errors.CheckFinite("DecisionTreeClassifier.Fit", X[j]); err != nil {
			return err
		}
	}
	if len(sampleWeight) != len(y) {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", len(y), len(sampleWeight), 0)
	}

	seed := dt.randomState
	if seed < 0 {
		seed = rand.Int63()
	}

	b := &builder{
		X:               X,
		y:               y,
		w:               sampleWeight,
		nClasses:        nClasses,
		criterion:       dt.criterion,
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		maxFeatures:     dt.resolveMaxFeatures(nFeatures),
		minImpurityDec:  dt.minImpurityDec,
		rng:             rand.New(rand.NewSource(seed)),
		importances:     make([]float64, nFeatures),
	}
	idx := make([]int, 0, len(y))
	for i, wi := range sampleWeight {
		if wi > 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", "all sample weights are zero")
	}
	b.build(idx)

	dt.nodes = b.nodes
	dt.depth_ = b.maxSeenDepth
	dt.nClasses_ = nClasses
	dt.nFeatures_ = nFeatures
	dt.classes_ = make([]int, nClasses)
	for k := range dt.classes_ {
		dt.classes_[k] = k
	}

	total := 0.0
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}
	dt.featureImportances_ = b.importances

	dt.state.MarkFitted(nFeatures, len(idx))
	return nil
}

func (dt *DecisionTreeClassifier) validateParams() error {
	switch dt.criterion {
	case "gini", "entropy":
	default:
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.criterion)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.minSamplesLeaf)
	}
	switch dt.maxFeatures {
	case "sqrt", "log2", "all", "":
	default:
		return errors.NewValidationError("max_features", "must be 'sqrt', 'log2' or 'all'", dt.maxFeatures)
	}
	return nil
}

func (dt *DecisionTreeClassifier) resolveMaxFeatures(nFeatures int) int {
	var k int
	switch {
	case dt.maxFeaturesN > 0:
		k = dt.maxFeaturesN
	case dt.maxFeatures == "sqrt":
		k = int(math.Sqrt(float64(nFeatures)))
	case dt.maxFeatures == "log2":
		k = int(math.Log2(float64(nFeatures)))
	default:
		k = nFeatures
	}
	if k < 1 {
		k = 1
	}
	if k > nFeatures {
		k = nFeatures
	}
	return k
}

// Predict returns the most probable class for each row as an (n, 1) matrix.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, cols := proba.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		for k := 1; k < cols; k++ {
			if proba.At(i, k) > proba.At(i, best) {
				best = k
			}
		}
		out.Set(i, 0, float64(dt.classes_[best]))
	}
	return out, nil
}

// PredictProba returns normalized leaf class distributions, one column per
// class in Classes() order.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if cols != dt.nFeatures_ {
		return nil, errors.NewDimensionError("DecisionTreeClassifier.PredictProba", dt.nFeatures_, cols, 1)
	}

	out := mat.NewDense(rows, dt.nClasses_, nil)
	x := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(x, i, X)
		out.SetRow(i, dt.PredictProbaRow(x))
	}
	return out, nil
}

// PredictProbaRow returns the normalized class distribution of the leaf x
// falls into. The tree must be fitted and x must have NFeatures entries.
func (dt *DecisionTreeClassifier) PredictProbaRow(x []float64) []float64 {
	leaf := &dt.nodes[dt.ApplyRow(x)]
	out := make([]float64, len(leaf.Value))
	sum := 0.0
	for _, v := range leaf.Value {
		sum += v
	}
	for k, v := range leaf.Value {
		if sum > 0 {
			out[k] = v / sum
		}
	}
	return out
}

// ApplyRow returns the index of the leaf x falls into.
func (dt *DecisionTreeClassifier) ApplyRow(x []float64) int {
	i := 0
	for !dt.nodes[i].IsLeaf() {
		n := &dt.nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

// Score returns mean accuracy on (X, y); 0 if prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	rows, _ := y.Dims()
	if rows == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < rows; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.state.IsFitted() }

// Classes returns the class labels seen during fitting.
func (dt *DecisionTreeClassifier) Classes() []int { return append([]int(nil), dt.classes_...) }

// NClasses returns the number of classes.
func (dt *DecisionTreeClassifier) NClasses() int { return dt.nClasses_ }

// NFeatures returns the number of features seen during fitting.
func (dt *DecisionTreeClassifier) NFeatures() int { return dt.nFeatures_ }

// Nodes exposes the fitted node array. Callers must not modify it.
func (dt *DecisionTreeClassifier) Nodes() []Node { return dt.nodes }

// GetFeatureImportances returns normalized MDI importances.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// FeatureImportances implements model.FeatureImportancer.
func (dt *DecisionTreeClassifier) FeatureImportances() []float64 { return dt.GetFeatureImportances() }

// GetDepth returns the depth of the fitted tree (root only = 0).
func (dt *DecisionTreeClassifier) GetDepth() int { return dt.depth_ }

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	n := 0
	for i := range dt.nodes {
		if dt.nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}

// GetParams returns the model hyperparameters
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":             dt.criterion,
		"max_depth":             dt.maxDepth,
		"min_samples_split":     dt.minSamplesSplit,
		"min_samples_leaf":      dt.minSamplesLeaf,
		"max_features":          dt.maxFeatures,
		"max_features_n":        dt.maxFeaturesN,
		"class_weight":          dt.classWeight,
		"random_state":          dt.randomState,
		"min_impurity_decrease": dt.minImpurityDec,
	}
}

// SetParams sets the model hyperparameters
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "criterion":
			dt.criterion, ok = value.(string)
		case "max_depth":
			dt.maxDepth, ok = value.(int)
		case "min_samples_split":
			dt.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			dt.minSamplesLeaf, ok = value.(int)
		case "max_features":
			dt.maxFeatures, ok = value.(string)
		case "max_features_n":
			dt.maxFeaturesN, ok = value.(int)
		case "class_weight":
			dt.classWeight, ok = value.(string)
		case "random_state":
			dt.randomState, ok = value.(int64)
		case "min_impurity_decrease":
			dt.minImpurityDec, ok = value.(float64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

// treeSnapshot is the gob form of a fitted tree.
var (
	_ model.Classifier         = (*DecisionTreeClassifier)(nil)
	_ model.FeatureImportancer = (*DecisionTreeClassifier)(nil)
	_ model.ParameterGetter    = (*DecisionTreeClassifier)(nil)
	_ model.ParameterSetter    = (*DecisionTreeClassifier)(nil)
)

type treeSnapshot struct {
	State               model.ModelState
	Criterion           string
	MaxDepth            int
	MinSamplesSplit     int
	MinSamplesLeaf      int
	MaxFeatures         string
	MaxFeaturesN        int
	ClassWeight         string
	RandomState         int64
	MinImpurityDecrease float64
	Nodes               []Node
	Classes             []int
	NFeatures           int
	Importances         []float64
	Depth               int
}

// GobEncode implements gob.GobEncoder.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(treeSnapshot{
		State:               dt.state.Snapshot(),
		Criterion:           dt.criterion,
		MaxDepth:            dt.maxDepth,
		MinSamplesSplit:     dt.minSamplesSplit,
		MinSamplesLeaf:      dt.minSamplesLeaf,
		MaxFeatures:         dt.maxFeatures,
		MaxFeaturesN:        dt.maxFeaturesN,
		ClassWeight:         dt.classWeight,
		RandomState:         dt.randomState,
		MinImpurityDecrease: dt.minImpurityDec,
		Nodes:               dt.nodes,
		Classes:             dt.classes_,
		NFeatures:           dt.nFeatures_,
		Importances:         dt.featureImportances_,
		Depth:               dt.depth_,
	})
	return buf.Bytes(), err
}

// GobDecode implements gob.GobDecoder.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var s treeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	dt.state = model.NewStateManager()
	dt.state.Restore(s.State)
	dt.criterion = s.Criterion
	dt.maxDepth = s.MaxDepth
	dt.minSamplesSplit = s.MinSamplesSplit
	dt.minSamplesLeaf = s.MinSamplesLeaf
	dt.maxFeatures = s.MaxFeatures
	dt.maxFeaturesN = s.MaxFeaturesN
	dt.classWeight = s.ClassWeight
	dt.randomState = s.RandomState
	dt.minImpurityDec = s.MinImpurityDecrease
	dt.nodes = s.Nodes
	dt.classes_ = s.Classes
	dt.nClasses_ = len(s.Classes)
	dt.nFeatures_ = s.NFeatures
	dt.featureImportances_ = s.Importances
	dt.depth_ = s.Depth
	return nil
}

// encodeClasses maps the distinct values of y to 0..K-1 in ascending order.
func encodeClasses(y mat.Matrix) ([]int, []int) {
	rows, _ := y.Dims()
	seen := make(map[int]bool)
	raw := make([]int, rows)
	for i := 0; i < rows; i++ {
		raw[i] = int(y.At(i, 0))
		seen[raw[i]] = true
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sortInts(classes)
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

// BalancedClassWeights returns n_samples / (n_classes * count_k) per class
// index. Classes with no samples get weight 0.
func BalancedClassWeights(y []int, nClasses int) []float64 {
	counts := make([]float64, nClasses)
	for _, k := range y {
		counts[k]++
	}
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	w := make([]float64, nClasses)
	for k, c := range counts {
		if c > 0 {
			w[k] = float64(len(y)) / (float64(present) * c)
		}
	}
	return w
}
