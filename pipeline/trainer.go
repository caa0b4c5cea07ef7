package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/config"
	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/metrics"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
	"github.com/YuminosukeSato/failrisk/report"
	"github.com/YuminosukeSato/failrisk/sklearn/ensemble"
	"github.com/YuminosukeSato/failrisk/sklearn/explain"
	"github.com/YuminosukeSato/failrisk/sklearn/imblearn"
)

// Evaluation is the outcome of a training run, also written to metrics.json.
type Evaluation struct {
	RunID     string    `json:"run_id"`
	TrainedAt time.Time `json:"trained_at"`

	TrainRows     int `json:"train_rows"`
	ResampledRows int `json:"resampled_rows"`
	TestRows      int `json:"test_rows"`
	Trees         int `json:"trees"`

	Accuracy        float64         `json:"accuracy"`
	AUC             *float64        `json:"auc,omitempty"`
	LogLoss         *float64        `json:"log_loss,omitempty"`
	Report          *metrics.Report `json:"report"`
	Labels          []string        `json:"labels"`
	ConfusionMatrix [][]float64     `json:"confusion_matrix"`

	Hyperparameters    map[string]interface{} `json:"hyperparameters"`
	FeatureImportances map[string]float64     `json:"feature_importances"`
	SHAPRanking        []explain.FeatureRank  `json:"shap_ranking"`
}

// ModelTrainer fits the SMOTE + random forest pipeline, evaluates it on the
// untouched test matrix and writes every training artifact.
type ModelTrainer struct {
	paths    config.PathsConfig
	training config.TrainingConfig
	store    *model.Store
	logger   log.Logger
}

// NewModelTrainer creates the training stage.
func NewModelTrainer(cfg *config.Config, opts ...Option) *ModelTrainer {
	o := newOptions(opts)
	return &ModelTrainer{
		paths:    cfg.Paths,
		training: cfg.Training,
		store:    o.store,
		logger:   o.logger.With(log.PhaseKey, log.PhaseTraining),
	}
}

// newPipeline builds the unfitted sampler + classifier composition.
func (m *ModelTrainer) newPipeline() *imblearn.Pipeline {
	t := m.training
	smote := imblearn.NewSMOTE(
		imblearn.WithKNeighbors(t.KNeighbors),
		imblearn.WithRandomState(t.RandomState),
		imblearn.WithNJobs(t.NJobs),
	)
	forest := ensemble.NewRandomForestClassifier(
		ensemble.WithNEstimators(t.NEstimators),
		ensemble.WithMaxDepth(t.MaxDepth),
		ensemble.WithClassWeight("balanced"),
		ensemble.WithVoting(t.Voting),
		ensemble.WithNJobs(t.NJobs),
		ensemble.WithRandomState(t.RandomState),
		ensemble.WithLogger(m.logger),
	)
	p := imblearn.NewPipeline(smote, forest)
	p.SetLogger(m.logger)
	return p
}

// Train fits, evaluates, explains and persists the model.
func (m *ModelTrainer) Train(data *TransformationResult) (trained *TrainedModel, eval *Evaluation, err error) {
	defer errors.RecoverAs(&err, "ModelTrainer.Train", func(e error) error {
		return errors.NewTrainingError("train", e)
	})
	start := time.Now()

	if data == nil || data.XTrain == nil || data.XTest == nil {
		return nil, nil, errors.NewTrainingError("validate", errors.ErrEmptyData)
	}
	_, trainCols := data.XTrain.Dims()
	_, testCols := data.XTest.Dims()
	if trainCols != testCols {
		return nil, nil, errors.NewTrainingError("validate",
			errors.NewDimensionError("ModelTrainer.Train", trainCols, testCols, 1))
	}
	for _, X := range []*mat.Dense{data.XTrain, data.XTest} {
		if err := errors.CheckMatrix("ModelTrainer.Train", X); err != nil {
			return nil, nil, errors.NewTrainingError("validate", err)
		}
	}

	pipe := m.newPipeline()
	if err := pipe.Fit(data.XTrain, toColumn(data.YTrain)); err != nil {
		return nil, nil, asTrainingError("fit", err)
	}
	forest := pipe.Classifier.(*ensemble.RandomForestClassifier)
	trained = &TrainedModel{
		Pipeline:     pipe,
		Labels:       data.Labels,
		FeatureNames: data.FeatureNames,
	}

	eval, err = m.evaluate(trained, data)
	if err != nil {
		return nil, nil, asTrainingError("evaluate", err)
	}
	eval.ResampledRows = pipe.ResampledRows
	eval.Trees = len(forest.Trees())
	eval.Hyperparameters = pipe.GetParams()
	eval.FeatureImportances = make(map[string]float64, len(data.FeatureNames))
	for j, v := range forest.FeatureImportances() {
		eval.FeatureImportances[data.FeatureNames[j]] = v
	}

	explain := func() error { return m.explain(forest, data, eval) }
	if err := errors.SafeExecute("TreeSHAP", explain); err != nil {
		return nil, nil, asTrainingError("explain", err)
	}

	if err := m.store.Save(m.paths.Model, trained); err != nil {
		return nil, nil, asTrainingError("persist", err)
	}
	if err := writeJSON(m.paths.Metrics, eval); err != nil {
		return nil, nil, asTrainingError("persist", err)
	}

	m.logger.Info("Model training completed",
		log.AccuracyKey, eval.Accuracy,
		log.MacroF1Key, eval.Report.MacroAvg.F1,
		log.TreesKey, eval.Trees,
		log.PathKey, m.paths.Model,
		log.DurationSecondsKey, time.Since(start).Seconds(),
	)
	return trained, eval, nil
}

// evaluate scores the fitted pipeline on the held-out matrix and saves the
// confusion-matrix image.
func (m *ModelTrainer) evaluate(trained *TrainedModel, data *TransformationResult) (*Evaluation, error) {
	pred, err := trained.Pipeline.Predict(data.XTest)
	if err != nil {
		return nil, err
	}
	rows, _ := pred.Dims()
	yPred := make([]int, rows)
	for i := range yPred {
		yPred[i] = int(pred.At(i, 0))
	}

	classes := make([]int, data.Labels.NClasses())
	for k := range classes {
		classes[k] = k
	}
	names := data.Labels.ClassLabels

	rep, err := metrics.ClassificationReport(data.YTest, yPred, classes, names)
	if err != nil {
		return nil, err
	}
	cm, err := metrics.ConfusionMatrix(data.YTest, yPred, classes)
	if err != nil {
		return nil, err
	}
	if err := report.SaveConfusionMatrix(cm, names, m.paths.ConfusionMatrix); err != nil {
		return nil, err
	}

	trainRows, _ := data.XTrain.Dims()
	eval := &Evaluation{
		RunID:           uuid.New().String(),
		TrainedAt:       time.Now().UTC(),
		TrainRows:       trainRows,
		TestRows:        rows,
		Accuracy:        rep.Accuracy,
		Report:          rep,
		Labels:          append([]string(nil), names...),
		ConfusionMatrix: denseRows(cm),
	}

	if len(classes) == 2 {
		m.binaryScores(trained, data, eval)
	}

	m.logger.Info("Model evaluated",
		log.OperationKey, log.OperationScore,
		log.PhaseKey, log.PhaseEvaluation,
		log.SamplesKey, rows,
		log.AccuracyKey, rep.Accuracy,
		log.PathKey, m.paths.ConfusionMatrix,
	)
	return eval, nil
}

// binaryScores fills AUC and log loss for the label encoded as 1. Failures
// only cost the metric, never the run.
func (m *ModelTrainer) binaryScores(trained *TrainedModel, data *TransformationResult, eval *Evaluation) {
	proba, err := trained.Pipeline.PredictProba(data.XTest)
	if err != nil {
		m.logger.Warn("Skipping probability metrics", log.ErrAttrKey, err)
		return
	}
	col := -1
	for k, c := range trained.Pipeline.Classes() {
		if c == 1 {
			col = k
		}
	}
	if col < 0 {
		return
	}
	n := len(data.YTest)
	yTrue := mat.NewVecDense(n, toFloats(data.YTest))
	score := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		score.SetVec(i, proba.At(i, col))
	}

	if auc, err := metrics.AUC(yTrue, score); err != nil {
		m.logger.Warn("Skipping AUC", log.ErrAttrKey, err)
	} else {
		eval.AUC = &auc
	}
	if loss, err := metrics.BinaryLogLoss(yTrue, score); err != nil {
		m.logger.Warn("Skipping log loss", log.ErrAttrKey, err)
	} else {
		eval.LogLoss = &loss
	}
}

// explain computes TreeSHAP over the training matrix and saves the summary
// chart. SHAPMaxRows > 0 limits the rows explained.
func (m *ModelTrainer) explain(forest *ensemble.RandomForestClassifier, data *TransformationResult, eval *Evaluation) error {
	ts, err := explain.NewTreeSHAP(forest,
		explain.WithFeatureNames(data.FeatureNames),
		explain.WithNJobs(m.training.NJobs),
		explain.WithLogger(m.logger),
	)
	if err != nil {
		return err
	}

	X := mat.Matrix(data.XTrain)
	rows, cols := data.XTrain.Dims()
	if limit := m.training.SHAPMaxRows; limit > 0 && limit < rows {
		X = data.XTrain.Slice(0, limit, 0, cols)
	}
	exp, err := ts.Explain(X)
	if err != nil {
		return err
	}
	eval.SHAPRanking = exp.Ranking()
	return report.SaveSHAPSummary(data.FeatureNames, exp.MeanAbsOverall(), m.paths.SHAPSummary, 0)
}

// asTrainingError keeps an existing TrainingError and wraps anything else.
func asTrainingError(stage string, err error) error {
	var te *errors.TrainingError
	if errors.As(err, &te) {
		return err
	}
	return errors.NewTrainingError(stage, err)
}

func denseRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

// writeJSON writes v indented to path, creating parent directories.
func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode metrics")
	}
	return errors.Wrapf(os.WriteFile(path, b, 0o644), "failed to write %s", path)
}
