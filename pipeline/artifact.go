package pipeline

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/preprocessing"
	"github.com/YuminosukeSato/failrisk/sklearn/ensemble"
	"github.com/YuminosukeSato/failrisk/sklearn/imblearn"
)

// TrainedModel is the model artifact: the fitted SMOTE + forest pipeline plus
// the label vocabulary needed to turn class indices back into label strings.
type TrainedModel struct {
	Pipeline     *imblearn.Pipeline
	Labels       *preprocessing.LabelEncoder
	FeatureNames []string
}

// ArtifactKind implements model.Artifact.
func (m *TrainedModel) ArtifactKind() string { return "TrainedModel" }

// Forest returns the fitted forest inside the pipeline.
func (m *TrainedModel) Forest() (*ensemble.RandomForestClassifier, error) {
	if m.Pipeline == nil {
		return nil, errors.NewNotFittedError("TrainedModel", "Forest")
	}
	rf, ok := m.Pipeline.Classifier.(*ensemble.RandomForestClassifier)
	if !ok {
		return nil, errors.Newf("pipeline classifier is %T, not a random forest", m.Pipeline.Classifier)
	}
	return rf, nil
}

// validate checks the pieces that gob cannot check for us.
func (m *TrainedModel) validate() error {
	if m.Pipeline == nil || !m.Pipeline.IsFitted() {
		return errors.NewNotFittedError("TrainedModel", "validate")
	}
	if m.Labels == nil || !m.Labels.IsFitted() {
		return errors.NewNotFittedError("LabelEncoder", "validate")
	}
	if got := len(m.Pipeline.Classes()); got > m.Labels.NClasses() {
		return errors.NewDimensionError("TrainedModel.validate", m.Labels.NClasses(), got, 0)
	}
	return nil
}

// labelsOf maps a (n, 1) prediction matrix of class indices to label strings.
func (m *TrainedModel) labelsOf(pred mat.Matrix) ([]string, error) {
	rows, _ := pred.Dims()
	codes := make([]int, rows)
	for i := range codes {
		codes[i] = int(pred.At(i, 0))
	}
	return m.Labels.InverseTransform(codes)
}

// classLabels returns the label of each PredictProba column.
func (m *TrainedModel) classLabels() ([]string, error) {
	return m.Labels.InverseTransform(m.Pipeline.Classes())
}
