package imblearn

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

// Pipeline はサンプラーと分類器を順に適用する。
// Sampler は Fit のときだけ使われ、Predict/PredictProba は分類器へ直接渡される。
//
// gob で保存するため、Sampler と Classifier の具象型は gob.Register 済みである必要がある。
type Pipeline struct {
	Sampler    model.Sampler
	Classifier model.Classifier

	// 直近の Fit で再標本化後に分類器が見た行数
	ResampledRows int

	logger log.Logger
}

// NewPipeline は新しい Pipeline を作成する。sampler が nil の場合は再標本化しない
func NewPipeline(sampler model.Sampler, classifier model.Classifier) *Pipeline {
	return &Pipeline{
		Sampler:    sampler,
		Classifier: classifier,
		logger:     log.NewNopLogger(),
	}
}

// SetLogger はロガーを設定する
func (p *Pipeline) SetLogger(logger log.Logger) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	p.logger = logger
}

func (p *Pipeline) log() log.Logger {
	if p.logger == nil {
		return log.NewNopLogger()
	}
	return p.logger
}

// Fit は (X, y) を再標本化してから分類器を学習する。X, y は変更しない
func (p *Pipeline) Fit(X, y mat.Matrix) (err error) {
	defer errors.RecoverAs(&err, "Pipeline.Fit", func(e error) error {
		return errors.NewTrainingError("fit", e)
	})

	if p.Classifier == nil {
		return errors.NewTrainingError("fit", errors.New("pipeline has no classifier"))
	}

	Xfit, yfit := X, y
	if p.Sampler != nil {
		start := time.Now()
		before, _ := X.Dims()
		Xr, yr, err := p.Sampler.FitResample(X, y)
		if err != nil {
			return err
		}
		after, _ := Xr.Dims()
		p.log().Info("Resampled training data",
			log.OperationKey, log.OperationResample,
			log.SamplesKey, after,
			"samples_before", before,
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)
		Xfit, yfit = Xr, yr
	}

	if err := p.Classifier.Fit(Xfit, yfit); err != nil {
		return errors.NewTrainingError("fit", err)
	}
	p.ResampledRows, _ = Xfit.Dims()
	return nil
}

// Predict はクラスラベルを返す
func (p *Pipeline) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := p.requireFitted("Predict"); err != nil {
		return nil, err
	}
	return p.Classifier.Predict(X)
}

// PredictProba はクラス確率を返す
func (p *Pipeline) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := p.requireFitted("PredictProba"); err != nil {
		return nil, err
	}
	return p.Classifier.PredictProba(X)
}

func (p *Pipeline) requireFitted(method string) error {
	if !p.IsFitted() {
		return errors.NewNotFittedError("Pipeline", method)
	}
	return nil
}

// IsFitted は分類器が学習済みかどうかを返す
func (p *Pipeline) IsFitted() bool {
	return p.Classifier != nil && p.Classifier.IsFitted()
}

// Classes は分類器のクラスを返す
func (p *Pipeline) Classes() []int {
	if p.Classifier == nil {
		return nil
	}
	return p.Classifier.Classes()
}

// FeatureImportances は分類器が重要度を持つ場合にそれを返す
func (p *Pipeline) FeatureImportances() []float64 {
	if fi, ok := p.Classifier.(model.FeatureImportancer); ok {
		return fi.FeatureImportances()
	}
	return nil
}

// ArtifactKind implements model.Artifact.
func (p *Pipeline) ArtifactKind() string { return "Pipeline" }

// ステップ名。パラメータは "<step>__<name>" で参照する
const (
	SamplerStep    = "smote"
	ClassifierStep = "clf"
)

// GetParams は各ステップのハイパーパラメータを "<step>__<name>" のキーで返す
func (p *Pipeline) GetParams() map[string]interface{} {
	params := make(map[string]interface{})
	for step, est := range p.steps() {
		getter, ok := est.(model.ParameterGetter)
		if !ok {
			continue
		}
		for k, v := range getter.GetParams() {
			params[step+"__"+k] = v
		}
	}
	return params
}

// SetParams は "<step>__<name>" のキーを該当ステップへ振り分ける
func (p *Pipeline) SetParams(params map[string]interface{}) error {
	steps := p.steps()
	grouped := make(map[string]map[string]interface{})
	for key, value := range params {
		step, name, ok := strings.Cut(key, "__")
		if !ok || name == "" {
			return errors.NewValidationError(key, "expected <step>__<param>", value)
		}
		if _, known := steps[step]; !known {
			return errors.NewValidationError(key, fmt.Sprintf("unknown step %q", step), value)
		}
		if grouped[step] == nil {
			grouped[step] = make(map[string]interface{})
		}
		grouped[step][name] = value
	}
	for step, sub := range grouped {
		setter, ok := steps[step].(model.ParameterSetter)
		if !ok {
			return errors.NewValidationError(step, "step does not accept parameters", sub)
		}
		if err := setter.SetParams(sub); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) steps() map[string]interface{} {
	steps := make(map[string]interface{}, 2)
	if p.Sampler != nil {
		steps[SamplerStep] = p.Sampler
	}
	if p.Classifier != nil {
		steps[ClassifierStep] = p.Classifier
	}
	return steps
}

var (
	_ model.Classifier      = (*Pipeline)(nil)
	_ model.ParameterGetter = (*Pipeline)(nil)
	_ model.ParameterSetter = (*Pipeline)(nil)
)
