package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

// TargetEncoder replaces each category with a smoothed mean of the target
// over training rows sharing that category:
//
//	weight  = 1 / (1 + exp(-(count - MinSamplesLeaf) / Smoothing))
//	encoded = prior*(1-weight) + categoryMean*weight
//
// Categories unseen during Fit encode to the prior (the global target mean).
// Input is column-major: cols[j][i] is row i of column j.
type TargetEncoder struct {
	model.StateManager

	MinSamplesLeaf int
	Smoothing      float64

	// Columns names each input column for warnings; optional.
	Columns []string

	// Prior is the mean of y over the training rows.
	Prior float64

	// Mapping[j] maps category → encoded value for column j.
	Mapping []map[string]float64
}

// TargetEncoderOption configures a TargetEncoder.
type TargetEncoderOption func(*TargetEncoder)

// WithMinSamplesLeaf sets the count at which the category mean gets half weight.
func WithMinSamplesLeaf(n int) TargetEncoderOption {
	return func(t *TargetEncoder) {
		t.MinSamplesLeaf = n
	}
}

// WithSmoothing sets the steepness of the weighting sigmoid.
func WithSmoothing(s float64) TargetEncoderOption {
	return func(t *TargetEncoder) {
		t.Smoothing = s
	}
}

// WithEncoderColumns names the input columns.
func WithEncoderColumns(columns []string) TargetEncoderOption {
	return func(t *TargetEncoder) {
		t.Columns = append([]string(nil), columns...)
	}
}

// NewTargetEncoder creates a TargetEncoder with min_samples_leaf=20 and
// smoothing=10.
func NewTargetEncoder(opts ...TargetEncoderOption) *TargetEncoder {
	t := &TargetEncoder{
		MinSamplesLeaf: 20,
		Smoothing:      10,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Fit learns per-column encodings from cols and the numeric target y.
func (t *TargetEncoder) Fit(cols [][]string, y []float64) (err error) {
	defer errors.Recover(&err, "TargetEncoder.Fit")

	if len(cols) == 0 || len(y) == 0 {
		return errors.NewModelError("TargetEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	if t.Smoothing <= 0 {
		return errors.NewValidationError("smoothing", "must be positive", t.Smoothing)
	}
	if t.MinSamplesLeaf < 0 {
		return errors.NewValidationError("min_samples_leaf", "must be non-negative", t.MinSamplesLeaf)
	}
	for j, col := range cols {
		if len(col) != len(y) {
			return errors.NewDimensionError("TargetEncoder.Fit", len(y), len(col), j)
		}
	}
	if err := errors.CheckFinite("TargetEncoder.Fit", y); err != nil {
		return err
	}

	prior := stat.Mean(y, nil)
	mapping := make([]map[string]float64, len(cols))
	for j, col := range cols {
		sums := make(map[string]float64)
		counts := make(map[string]int)
		for i, v := range col {
			sums[v] += y[i]
			counts[v]++
		}

		m := make(map[string]float64, len(counts))
		for v, n := range counts {
			mean := sums[v] / float64(n)
			weight := 1 / (1 + math.Exp(-(float64(n)-float64(t.MinSamplesLeaf))/t.Smoothing))
			m[v] = prior*(1-weight) + mean*weight
		}
		mapping[j] = m
	}

	t.Prior = prior
	t.Mapping = mapping
	t.MarkFitted(len(cols), len(y))
	return nil
}

// Transform encodes cols into an (n, len(cols)) matrix. Unseen categories
// map to Prior and raise an UnseenCategoryWarning per column.
func (t *TargetEncoder) Transform(cols [][]string) (*mat.Dense, error) {
	if err := t.RequireFitted("TargetEncoder", "Transform"); err != nil {
		return nil, err
	}
	if err := t.RequireFeatures("TargetEncoder.Transform", len(cols)); err != nil {
		return nil, err
	}
	n := len(cols[0])
	if n == 0 {
		return nil, errors.NewModelError("TargetEncoder.Transform", "empty data", errors.ErrEmptyData)
	}

	out := mat.NewDense(n, len(cols), nil)
	for j, col := range cols {
		if len(col) != n {
			return nil, errors.NewDimensionError("TargetEncoder.Transform", n, len(col), j)
		}
		unseen := 0
		for i, v := range col {
			enc, ok := t.Mapping[j][v]
			if !ok {
				enc = t.Prior
				unseen++
			}
			out.Set(i, j, enc)
		}
		if unseen > 0 {
			errors.Warn(errors.NewUnseenCategoryWarning(t.columnName(j), unseen))
		}
	}
	return out, nil
}

// FitTransform はFitとTransformを同時に実行する
func (t *TargetEncoder) FitTransform(cols [][]string, y []float64) (*mat.Dense, error) {
	if err := t.Fit(cols, y); err != nil {
		return nil, err
	}
	return t.Transform(cols)
}

func (t *TargetEncoder) columnName(j int) string {
	if j < len(t.Columns) {
		return t.Columns[j]
	}
	return "feature_" + itoa(j)
}
