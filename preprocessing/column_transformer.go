// Package preprocessing provides the column-wise feature transformer: median
// imputation for numeric columns, most-frequent imputation followed by target
// encoding for categorical columns.
package preprocessing

import (
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/dataset"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

// ColumnTransformer turns a raw Frame into a numeric matrix. Output columns
// are NumericColumns followed by CategoricalColumns; any other input column is
// dropped. The fitted transformer is the preprocessor artifact.
type ColumnTransformer struct {
	model.StateManager

	NumericColumns     []string
	CategoricalColumns []string

	NumericImputer     *SimpleImputer
	CategoricalImputer *CategoricalImputer
	Encoder            *TargetEncoder

	logger log.Logger
}

// ColumnTransformerOption configures a ColumnTransformer.
type ColumnTransformerOption func(*ColumnTransformer)

// WithNumericColumns overrides the numeric column list.
func WithNumericColumns(columns ...string) ColumnTransformerOption {
	return func(c *ColumnTransformer) {
		c.NumericColumns = append([]string(nil), columns...)
	}
}

// WithCategoricalColumns overrides the categorical column list.
func WithCategoricalColumns(columns ...string) ColumnTransformerOption {
	return func(c *ColumnTransformer) {
		c.CategoricalColumns = append([]string(nil), columns...)
	}
}

// WithTargetEncoder replaces the default encoder.
func WithTargetEncoder(enc *TargetEncoder) ColumnTransformerOption {
	return func(c *ColumnTransformer) {
		c.Encoder = enc
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) ColumnTransformerOption {
	return func(c *ColumnTransformer) {
		c.logger = logger
	}
}

// NewColumnTransformer builds the transformer for the dataset schema.
func NewColumnTransformer(opts ...ColumnTransformerOption) *ColumnTransformer {
	c := &ColumnTransformer{
		NumericColumns:     append([]string(nil), dataset.NumericColumns...),
		CategoricalColumns: append([]string(nil), dataset.CategoricalColumns...),
		NumericImputer:     NewSimpleImputer(StrategyMedian),
		CategoricalImputer: NewCategoricalImputer(StrategyMostFrequent),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Encoder == nil {
		c.Encoder = NewTargetEncoder()
	}
	c.Encoder.Columns = append([]string(nil), c.CategoricalColumns...)
	return c
}

// ArtifactKind implements model.Artifact.
func (c *ColumnTransformer) ArtifactKind() string { return "ColumnTransformer" }

// SetLogger attaches a logger after loading from disk.
func (c *ColumnTransformer) SetLogger(logger log.Logger) { c.logger = logger }

func (c *ColumnTransformer) log() log.Logger {
	if c.logger == nil {
		return log.NewNopLogger()
	}
	return c.logger
}

// FeatureNames returns the output column names.
func (c *ColumnTransformer) FeatureNames() []string {
	out := make([]string, 0, len(c.NumericColumns)+len(c.CategoricalColumns))
	out = append(out, c.NumericColumns...)
	return append(out, c.CategoricalColumns...)
}

// Fit learns imputation statistics and target encodings from the training
// frame and the numeric target y (class indices).
func (c *ColumnTransformer) Fit(frame *dataset.Frame, y []float64) (err error) {
	defer errors.RecoverAs(&err, "ColumnTransformer.Fit", func(e error) error {
		return errors.NewTransformationError("fit", "", e)
	})
	start := time.Now()

	if frame.Len() == 0 {
		return errors.NewTransformationError("fit", "", errors.ErrEmptyData)
	}
	if len(y) != frame.Len() {
		return errors.NewTransformationError("fit", "",
			errors.NewDimensionError("ColumnTransformer.Fit", frame.Len(), len(y), 0))
	}

	num, cat, err := c.extract(frame, "fit")
	if err != nil {
		return err
	}

	if len(c.NumericColumns) > 0 {
		if err := c.NumericImputer.Fit(num); err != nil {
			return errors.NewTransformationError("fit", strings.Join(c.NumericColumns, ","), err)
		}
	}
	if len(c.CategoricalColumns) > 0 {
		filled, err := c.CategoricalImputer.FitTransform(cat)
		if err != nil {
			return errors.NewTransformationError("fit", strings.Join(c.CategoricalColumns, ","), err)
		}
		if err := c.Encoder.Fit(filled, y); err != nil {
			return errors.NewTransformationError("fit", strings.Join(c.CategoricalColumns, ","), err)
		}
	}

	c.MarkFitted(len(c.NumericColumns)+len(c.CategoricalColumns), frame.Len())

	c.log().Info("ColumnTransformer fitted",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, frame.Len(),
		log.FeaturesKey, len(c.NumericColumns)+len(c.CategoricalColumns),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// Transform applies the fitted statistics. It never mutates frame and is
// deterministic, so applying it twice yields the same matrix.
func (c *ColumnTransformer) Transform(frame *dataset.Frame) (out *mat.Dense, err error) {
	defer errors.RecoverAs(&err, "ColumnTransformer.Transform", func(e error) error {
		return errors.NewTransformationError("transform", "", e)
	})

	if !c.IsFitted() {
		return nil, errors.NewTransformationError("transform", "",
			errors.NewNotFittedError("ColumnTransformer", "Transform"))
	}
	if frame.Len() == 0 {
		return nil, errors.NewTransformationError("transform", "", errors.ErrEmptyData)
	}

	num, cat, err := c.extract(frame, "transform")
	if err != nil {
		return nil, err
	}

	n := frame.Len()
	out = mat.NewDense(n, len(c.NumericColumns)+len(c.CategoricalColumns), nil)

	if len(c.NumericColumns) > 0 {
		filled, err := c.NumericImputer.Transform(num)
		if err != nil {
			return nil, errors.NewTransformationError("transform", strings.Join(c.NumericColumns, ","), err)
		}
		out.Slice(0, n, 0, len(c.NumericColumns)).(*mat.Dense).Copy(filled)
	}
	if len(c.CategoricalColumns) > 0 {
		filled, err := c.CategoricalImputer.Transform(cat)
		if err != nil {
			return nil, errors.NewTransformationError("transform", strings.Join(c.CategoricalColumns, ","), err)
		}
		enc, err := c.Encoder.Transform(filled)
		if err != nil {
			return nil, errors.NewTransformationError("transform", strings.Join(c.CategoricalColumns, ","), err)
		}
		off := len(c.NumericColumns)
		out.Slice(0, n, off, off+len(c.CategoricalColumns)).(*mat.Dense).Copy(enc)
	}

	c.log().Debug("ColumnTransformer applied",
		log.OperationKey, log.OperationTransform,
		log.SamplesKey, n,
	)
	return out, nil
}

// FitTransform はFitとTransformを同時に実行する
func (c *ColumnTransformer) FitTransform(frame *dataset.Frame, y []float64) (*mat.Dense, error) {
	if err := c.Fit(frame, y); err != nil {
		return nil, err
	}
	return c.Transform(frame)
}

// extract pulls the configured columns out of frame: numeric cells parsed
// into a matrix with NaN for missing, categorical cells passed through
// dataset.NormalizeCategory with missing tokens mapped to "".
func (c *ColumnTransformer) extract(frame *dataset.Frame, op string) (*mat.Dense, [][]string, error) {
	for _, name := range c.FeatureNames() {
		if !frame.HasColumn(name) {
			return nil, nil, errors.NewTransformationError(op, name,
				errors.New("required column is absent"))
		}
	}

	n := frame.Len()
	var num *mat.Dense
	if len(c.NumericColumns) > 0 {
		num = mat.NewDense(n, len(c.NumericColumns), nil)
		for j, name := range c.NumericColumns {
			col, _ := frame.Column(name)
			for i, cell := range col {
				if dataset.IsMissing(cell) {
					num.Set(i, j, math.NaN())
					continue
				}
				v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
				if err != nil {
					return nil, nil, errors.NewTransformationError(op, name,
						errors.Newf("row %d: cannot parse %q as a number", i, cell))
				}
				num.Set(i, j, v)
			}
		}
	}

	cat := make([][]string, len(c.CategoricalColumns))
	for j, name := range c.CategoricalColumns {
		col, _ := frame.Column(name)
		for i, cell := range col {
			if dataset.IsMissing(cell) {
				col[i] = ""
			} else {
				col[i] = dataset.NormalizeCategory(cell)
			}
		}
		cat[j] = col
	}
	return num, cat, nil
}
