package pipeline

import (
	"time"

	"github.com/YuminosukeSato/failrisk/config"
	"github.com/YuminosukeSato/failrisk/dataset"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

// DataIngestion reads the raw CSV, keeps a copy next to the artifacts and
// writes a seeded train/test split.
type DataIngestion struct {
	paths    config.PathsConfig
	testSize float64
	seed     int64
	logger   log.Logger
}

// NewDataIngestion creates the ingestion stage.
func NewDataIngestion(cfg *config.Config, opts ...Option) *DataIngestion {
	o := newOptions(opts)
	return &DataIngestion{
		paths:    cfg.Paths,
		testSize: cfg.Training.TestSize,
		seed:     cfg.Training.RandomState,
		logger:   o.logger.With(log.PhaseKey, log.PhaseIngestion),
	}
}

// Initiate runs the stage and returns the train and test CSV paths.
func (d *DataIngestion) Initiate() (trainPath, testPath string, err error) {
	defer errors.Recover(&err, "DataIngestion.Initiate")
	start := time.Now()
	d.logger.Info("Data ingestion started", log.PathKey, d.paths.RawData)

	raw, err := dataset.ReadCSVFile(d.paths.RawData)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to read raw dataset")
	}
	if raw.Len() == 0 {
		return "", "", errors.Wrapf(errors.ErrEmptyData, "raw dataset %s has no rows", d.paths.RawData)
	}
	d.logger.Info("Read the dataset",
		log.SamplesKey, raw.Len(),
		log.FeaturesKey, len(raw.Columns()),
	)

	if err := raw.WriteCSVFile(d.paths.RawCopy); err != nil {
		return "", "", err
	}

	train, test, err := dataset.TrainTestSplit(raw, d.testSize, d.seed)
	if err != nil {
		return "", "", err
	}
	if err := train.WriteCSVFile(d.paths.Train); err != nil {
		return "", "", err
	}
	if err := test.WriteCSVFile(d.paths.Test); err != nil {
		return "", "", err
	}

	d.logger.Info("Data ingestion completed",
		"train_rows", train.Len(),
		"test_rows", test.Len(),
		log.RandomSeedKey, d.seed,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return d.paths.Train, d.paths.Test, nil
}
