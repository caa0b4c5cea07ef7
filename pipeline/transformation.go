package pipeline

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/config"
	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/dataset"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
	"github.com/YuminosukeSato/failrisk/preprocessing"
)

// TransformationResult holds the numeric train/test matrices and the fitted
// objects that produced them.
type TransformationResult struct {
	XTrain *mat.Dense
	XTest  *mat.Dense
	YTrain []int
	YTest  []int

	Labels       *preprocessing.LabelEncoder
	Transformer  *preprocessing.ColumnTransformer
	FeatureNames []string
}

// DataTransformation fits the column transformer on the training split,
// applies it to both splits and persists it as the preprocessor artifact.
type DataTransformation struct {
	paths    config.PathsConfig
	training config.TrainingConfig
	store    *model.Store
	logger   log.Logger
}

// NewDataTransformation creates the transformation stage.
func NewDataTransformation(cfg *config.Config, opts ...Option) *DataTransformation {
	o := newOptions(opts)
	return &DataTransformation{
		paths:    cfg.Paths,
		training: cfg.Training,
		store:    o.store,
		logger:   o.logger.With(log.PhaseKey, log.PhaseTransformation),
	}
}

// Initiate reads both splits and returns the transformed data.
func (d *DataTransformation) Initiate(trainPath, testPath string) (res *TransformationResult, err error) {
	defer errors.RecoverAs(&err, "DataTransformation.Initiate", func(e error) error {
		return errors.NewTransformationError("initiate", "", e)
	})
	start := time.Now()

	train, err := d.readSplit(trainPath)
	if err != nil {
		return nil, err
	}
	test, err := d.readSplit(testPath)
	if err != nil {
		return nil, err
	}
	d.logger.Info("Read train and test data",
		"train_rows", train.Len(),
		"test_rows", test.Len(),
	)

	trainLabels, _ := train.Column(dataset.ColLabel)
	testLabels, _ := test.Column(dataset.ColLabel)

	labels := preprocessing.NewLabelEncoder()
	yTrain, err := labels.FitTransform(trainLabels)
	if err != nil {
		return nil, errors.NewTransformationError("encode_target", dataset.ColLabel, err)
	}
	yTest, err := labels.Transform(testLabels)
	if err != nil {
		return nil, errors.NewTransformationError("encode_target", dataset.ColLabel, err)
	}

	transformer := preprocessing.NewColumnTransformer(
		preprocessing.WithTargetEncoder(preprocessing.NewTargetEncoder(
			preprocessing.WithMinSamplesLeaf(d.training.MinSamplesLeaf),
			preprocessing.WithSmoothing(d.training.Smoothing),
		)),
		preprocessing.WithLogger(d.logger),
	)

	trainFeatures := features(train)
	if err := transformer.Fit(trainFeatures, toFloats(yTrain)); err != nil {
		return nil, err
	}
	XTrain, err := transformer.Transform(trainFeatures)
	if err != nil {
		return nil, err
	}
	XTest, err := transformer.Transform(features(test))
	if err != nil {
		return nil, err
	}

	if err := d.store.Save(d.paths.Preprocessor, transformer); err != nil {
		return nil, errors.NewTransformationError("persist", "", err)
	}

	d.logger.Info("Data transformation completed",
		log.FeaturesKey, len(transformer.FeatureNames()),
		log.ClassesKey, labels.NClasses(),
		log.PathKey, d.paths.Preprocessor,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return &TransformationResult{
		XTrain:       XTrain,
		XTest:        XTest,
		YTrain:       yTrain,
		YTest:        yTest,
		Labels:       labels,
		Transformer:  transformer,
		FeatureNames: transformer.FeatureNames(),
	}, nil
}

// readSplit loads a split and drops the rows whose label is missing.
func (d *DataTransformation) readSplit(path string) (*dataset.Frame, error) {
	frame, err := dataset.ReadCSVFile(path)
	if err != nil {
		return nil, errors.NewTransformationError("read", "", err)
	}
	if !frame.HasColumn(dataset.ColLabel) {
		return nil, errors.NewTransformationError("read", dataset.ColLabel,
			errors.New("target column is absent"))
	}

	col, _ := frame.Column(dataset.ColLabel)
	keep := make([]int, 0, len(col))
	for i, v := range col {
		if !dataset.IsMissing(v) {
			keep = append(keep, i)
		}
	}
	if dropped := len(col) - len(keep); dropped > 0 {
		d.logger.Warn("Dropped rows without a label",
			log.PathKey, path,
			"dropped_rows", dropped,
		)
		frame = frame.Take(keep)
	}
	if frame.Len() == 0 {
		return nil, errors.NewTransformationError("read", dataset.ColLabel, errors.ErrEmptyData)
	}
	return frame, nil
}

// features strips the target and identity columns.
func features(f *dataset.Frame) *dataset.Frame {
	drop := append([]string{dataset.ColLabel}, dataset.IdentityColumns...)
	return f.Drop(drop...)
}

func toFloats(y []int) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = float64(v)
	}
	return out
}

func toColumn(y []int) *mat.Dense {
	return mat.NewDense(len(y), 1, toFloats(y))
}
