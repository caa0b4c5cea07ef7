package pipeline

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/dataset"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
	"github.com/YuminosukeSato/failrisk/preprocessing"
)

// State is the lifecycle state of a PredictPipeline.
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateServing
	// StateFailed は読み込み失敗後の終端状態
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoaded:
		return "loaded"
	case StateServing:
		return "serving"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is one prediction with its class probabilities.
type Result struct {
	Label         string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// PredictPipeline applies the persisted transformer and model to new records.
// The artifacts are read-only after loading, so Predict is safe for
// concurrent use.
type PredictPipeline struct {
	mu          sync.RWMutex
	state       State
	loadErr     error
	transformer *preprocessing.ColumnTransformer
	model       *TrainedModel

	store  *model.Store
	logger log.Logger
}

// NewPredictPipeline creates an unloaded pipeline.
func NewPredictPipeline(opts ...Option) *PredictPipeline {
	o := newOptions(opts)
	return &PredictPipeline{
		state:  StateUninitialized,
		store:  o.store,
		logger: o.logger.With(log.PhaseKey, log.PhaseInference),
	}
}

// NewPredictPipelineFrom wraps in-memory artifacts, for example the ones a
// training run just produced. The pipeline starts in StateLoaded.
func NewPredictPipelineFrom(transformer *preprocessing.ColumnTransformer, trained *TrainedModel, opts ...Option) (*PredictPipeline, error) {
	p := NewPredictPipeline(opts...)
	if err := p.install(transformer, trained); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads both artifacts. Any failure moves the pipeline to StateFailed,
// which is permanent.
func (p *PredictPipeline) Load(preprocessorPath, modelPath string) error {
	p.mu.RLock()
	state, loadErr := p.state, p.loadErr
	p.mu.RUnlock()
	switch state {
	case StateFailed:
		return errors.NewPredictionError("artifacts failed to load", loadErr)
	case StateLoaded, StateServing:
		return errors.NewPredictionError("artifacts already loaded", nil)
	}

	start := time.Now()
	transformer := preprocessing.NewColumnTransformer()
	if _, err := p.store.Load(preprocessorPath, transformer); err != nil {
		return p.fail(err)
	}
	trained := &TrainedModel{}
	if _, err := p.store.Load(modelPath, trained); err != nil {
		return p.fail(err)
	}
	if err := p.install(transformer, trained); err != nil {
		return p.fail(err)
	}

	p.logger.Info("Prediction artifacts loaded",
		"preprocessor", preprocessorPath,
		"model", modelPath,
		log.FeaturesKey, len(trained.FeatureNames),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *PredictPipeline) fail(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateFailed
	p.loadErr = err
	p.logger.Error("Failed to load prediction artifacts", log.ErrAttrKey, err)
	return err
}

// install checks that the artifacts fit together and moves to StateLoaded.
func (p *PredictPipeline) install(transformer *preprocessing.ColumnTransformer, trained *TrainedModel) error {
	if transformer == nil || !transformer.IsFitted() {
		return errors.NewNotFittedError("ColumnTransformer", "PredictPipeline")
	}
	if trained == nil {
		return errors.NewNotFittedError("TrainedModel", "PredictPipeline")
	}
	if err := trained.validate(); err != nil {
		return err
	}
	got := len(transformer.FeatureNames())
	if want := len(trained.FeatureNames); want != got {
		return errors.NewDimensionError("PredictPipeline", want, got, 1)
	}
	trained.Pipeline.SetLogger(p.logger)
	transformer.SetLogger(p.logger)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.transformer = transformer
	p.model = trained
	p.state = StateLoaded
	return nil
}

// MarkServing moves a loaded pipeline to StateServing.
func (p *PredictPipeline) MarkServing() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case StateLoaded, StateServing:
		p.state = StateServing
		return nil
	case StateFailed:
		return errors.NewPredictionError("artifacts failed to load", p.loadErr)
	default:
		return errors.NewPredictionError("cannot serve before loading", errors.ErrNotReady)
	}
}

// State returns the current lifecycle state.
func (p *PredictPipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Ready reports whether predictions can be made.
func (p *PredictPipeline) Ready() bool {
	s := p.State()
	return s == StateLoaded || s == StateServing
}

// Classes returns the labels in PredictProba column order.
func (p *PredictPipeline) Classes() ([]string, error) {
	_, trained, err := p.artifacts()
	if err != nil {
		return nil, err
	}
	return trained.classLabels()
}

func (p *PredictPipeline) artifacts() (*preprocessing.ColumnTransformer, *TrainedModel, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch p.state {
	case StateLoaded, StateServing:
		return p.transformer, p.model, nil
	case StateFailed:
		return nil, nil, errors.NewPredictionError("artifacts failed to load", p.loadErr)
	default:
		return nil, nil, errors.NewPredictionError("artifacts not loaded", errors.ErrNotReady)
	}
}

// Predict returns one label per record, in input order. An empty batch
// still fails while the pipeline is not ready.
func (p *PredictPipeline) Predict(records []dataset.Record) ([]string, error) {
	if _, _, err := p.artifacts(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []string{}, nil
	}
	return p.PredictFrame(dataset.FromRecords(records))
}

// PredictFrame predicts raw rows, e.g. a CSV read for batch scoring. Columns
// outside the feature set are ignored.
func (p *PredictPipeline) PredictFrame(frame *dataset.Frame) (labels []string, err error) {
	defer errors.RecoverAs(&err, "PredictPipeline.PredictFrame", func(e error) error {
		return errors.NewPredictionError("predict", e)
	})
	X, trained, err := p.transform(frame)
	if err != nil {
		return nil, err
	}
	return p.vote(X, trained)
}

func (p *PredictPipeline) vote(X *mat.Dense, trained *TrainedModel) ([]string, error) {
	pred, err := trained.Pipeline.Predict(X)
	if err != nil {
		return nil, errors.NewPredictionError("predict", err)
	}
	labels, err := trained.labelsOf(pred)
	if err != nil {
		return nil, errors.NewPredictionError("predict", err)
	}
	p.logger.Debug("Predicted",
		log.OperationKey, log.OperationPredict,
		log.PredsKey, len(labels),
	)
	return labels, nil
}

// PredictResults returns labels with class probabilities. The label is the
// pipeline's vote, which under hard voting can differ from the most probable
// class.
func (p *PredictPipeline) PredictResults(frame *dataset.Frame) (results []Result, err error) {
	defer errors.RecoverAs(&err, "PredictPipeline.PredictResults", func(e error) error {
		return errors.NewPredictionError("predict", e)
	})
	X, trained, err := p.transform(frame)
	if err != nil {
		return nil, err
	}
	labels, err := p.vote(X, trained)
	if err != nil {
		return nil, err
	}
	proba, err := trained.Pipeline.PredictProba(X)
	if err != nil {
		return nil, errors.NewPredictionError("predict_proba", err)
	}
	names, err := trained.classLabels()
	if err != nil {
		return nil, errors.NewPredictionError("predict_proba", err)
	}

	results = make([]Result, len(labels))
	for i, label := range labels {
		r := Result{Label: label, Probabilities: make(map[string]float64, len(names))}
		for k, name := range names {
			v := proba.At(i, k)
			r.Probabilities[name] = v
			if name == label {
				r.Confidence = v
			}
		}
		results[i] = r
	}
	return results, nil
}

func (p *PredictPipeline) transform(frame *dataset.Frame) (*mat.Dense, *TrainedModel, error) {
	transformer, trained, err := p.artifacts()
	if err != nil {
		return nil, nil, err
	}
	if frame.Len() == 0 {
		return nil, nil, errors.NewPredictionError("no records", errors.ErrEmptyData)
	}
	X, err := transformer.Transform(frame)
	if err != nil {
		return nil, nil, errors.NewPredictionError("transform", err)
	}
	return X, trained, nil
}
