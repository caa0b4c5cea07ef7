package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSaveConfusionMatrix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "images", "confusion_matrix.png")

	cm := mat.NewDense(2, 2, []float64{8, 2, 1, 9})
	require.NoError(t, SaveConfusionMatrix(cm, []string{"Fail", "Pass"}, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// 全セルが同じ値でも描ける
	flat := filepath.Join(dir, "flat.png")
	require.NoError(t, SaveConfusionMatrix(mat.NewDense(2, 2, nil), []string{"a", "b"}, flat))
}

func TestSaveConfusionMatrix_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cm.png")
	assert.Error(t, SaveConfusionMatrix(mat.NewDense(2, 3, nil), []string{"a", "b"}, path))
	assert.Error(t, SaveConfusionMatrix(mat.NewDense(2, 2, nil), []string{"a"}, path))
}

func TestSaveSHAPSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shap_summary.png")
	names := []string{"Age", "Gender", "City"}
	require.NoError(t, SaveSHAPSummary(names, []float64{0.2, 0.05, 0.1}, path, 2))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, SaveSHAPSummary(names, []float64{0.1}, path, 0))
	assert.Error(t, SaveSHAPSummary(nil, nil, path, 0))
}
