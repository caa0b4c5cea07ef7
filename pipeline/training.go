package pipeline

import (
	"context"
	"time"

	"github.com/YuminosukeSato/failrisk/config"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

// RunResult is everything a training run produced.
type RunResult struct {
	TrainPath      string
	TestPath       string
	Transformation *TransformationResult
	Model          *TrainedModel
	Evaluation     *Evaluation
}

// Predictor returns a PredictPipeline over the in-memory artifacts of the run.
func (r *RunResult) Predictor(opts ...Option) (*PredictPipeline, error) {
	return NewPredictPipelineFrom(r.Transformation.Transformer, r.Model, opts...)
}

// TrainingPipeline runs ingestion, transformation and training in order and
// stops at the first failing stage.
type TrainingPipeline struct {
	cfg    *config.Config
	opts   []Option
	logger log.Logger
}

// NewTrainingPipeline creates a training run for cfg.
func NewTrainingPipeline(cfg *config.Config, opts ...Option) *TrainingPipeline {
	o := newOptions(opts)
	// 全段階で同じ Store とロガーを使う
	shared := []Option{WithLogger(o.logger), WithStore(o.store)}
	return &TrainingPipeline{
		cfg:    cfg,
		opts:   shared,
		logger: o.logger,
	}
}

// Run executes the whole workflow. ctx is checked between stages.
func (t *TrainingPipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	t.logger.Info("Training pipeline started",
		log.RandomSeedKey, t.cfg.Training.RandomState,
		log.HyperParamsKey, map[string]interface{}{
			"n_estimators": t.cfg.Training.NEstimators,
			"max_depth":    t.cfg.Training.MaxDepth,
			"k_neighbors":  t.cfg.Training.KNeighbors,
			"voting":       t.cfg.Training.Voting,
		},
	)

	res := &RunResult{}
	var err error

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "stage %s", log.PhaseIngestion)
	}
	res.TrainPath, res.TestPath, err = NewDataIngestion(t.cfg, t.opts...).Initiate()
	if err != nil {
		return nil, t.abort(log.PhaseIngestion, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "stage %s", log.PhaseTransformation)
	}
	res.Transformation, err = NewDataTransformation(t.cfg, t.opts...).Initiate(res.TrainPath, res.TestPath)
	if err != nil {
		return nil, t.abort(log.PhaseTransformation, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "stage %s", log.PhaseTraining)
	}
	res.Model, res.Evaluation, err = NewModelTrainer(t.cfg, t.opts...).Train(res.Transformation)
	if err != nil {
		return nil, t.abort(log.PhaseTraining, err)
	}

	t.logger.Info("Training pipeline completed",
		log.AccuracyKey, res.Evaluation.Accuracy,
		log.EstimatorIDKey, res.Evaluation.RunID,
		log.DurationSecondsKey, time.Since(start).Seconds(),
	)
	return res, nil
}

func (t *TrainingPipeline) abort(stage string, err error) error {
	t.logger.Error("Training pipeline failed",
		log.PhaseKey, stage,
		log.ErrAttrKey, err,
	)
	return errors.Wrapf(err, "stage %s", stage)
}
