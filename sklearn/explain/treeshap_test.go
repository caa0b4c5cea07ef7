package explain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/sklearn/ensemble"
	"github.com/YuminosukeSato/failrisk/sklearn/tree"
)

func TestTreeSHAP_SingleSplit(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{0, 5, 1, 6, 10, 5, 11, 6})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	dt := tree.NewDecisionTreeClassifier()
	require.NoError(t, dt.Fit(X, y))

	ts, err := NewTreeSHAPForTree(dt, WithFeatureNames([]string{"a", "b"}))
	require.NoError(t, err)
	exp, err := ts.Explain(mat.NewDense(1, 2, []float64{0, 5}))
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{0.5, 0.5}, exp.BaseValues, 1e-12)
	assert.InDelta(t, 0.5, exp.Values[0].At(0, 0), 1e-12)
	assert.InDelta(t, -0.5, exp.Values[1].At(0, 0), 1e-12)
	assert.Equal(t, 0.0, exp.Values[0].At(0, 1), "unused feature gets no credit")
	assert.Equal(t, "a", exp.Ranking()[0].Name)
}

func TestTreeSHAP_LocalAccuracyForest(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	n, d := 120, 4
	X := mat.NewDense(n, d, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			X.Set(i, j, rng.Float64())
		}
		// クラスは特徴量0と1の相互作用で決まる
		label := 0.0
		if X.At(i, 0)+X.At(i, 1) > 1 {
			label = 1
		}
		if X.At(i, 2) > 0.85 {
			label = 2
		}
		y.Set(i, 0, label)
	}

	rf := ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(12), ensemble.WithRandomState(9), ensemble.WithMaxDepth(6))
	require.NoError(t, rf.Fit(X, y))

	ts, err := NewTreeSHAP(rf, WithNJobs(2))
	require.NoError(t, err)
	exp, err := ts.Explain(X)
	require.NoError(t, err)
	require.Len(t, exp.Values, 3)

	proba, err := rf.PredictProba(X)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		for c := 0; c < 3; c++ {
			sum := exp.BaseValues[c]
			for j := 0; j < d; j++ {
				sum += exp.Values[c].At(i, j)
			}
			assert.InDelta(t, proba.At(i, c), sum, 1e-9, "row %d class %d", i, c)
		}
	}

	// クラス確率は合計1なので SHAP のクラス和は0
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			s := exp.Values[0].At(i, j) + exp.Values[1].At(i, j) + exp.Values[2].At(i, j)
			assert.InDelta(t, 0, s, 1e-9)
		}
	}

	rank := exp.Ranking()
	assert.NotEqual(t, 3, rank[0].Index, "noise feature must not rank first")
	assert.Len(t, exp.MeanAbs(1), d)
}

func TestTreeSHAP_RepeatedFeatureOnPath(t *testing.T) {
	// 同じ特徴量で2回分割される木（unwind の経路）
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 3, 4, 5})
	y := mat.NewDense(6, 1, []float64{0, 0, 1, 1, 0, 0})
	dt := tree.NewDecisionTreeClassifier()
	require.NoError(t, dt.Fit(X, y))
	require.GreaterOrEqual(t, dt.GetDepth(), 2)

	ts, err := NewTreeSHAPForTree(dt)
	require.NoError(t, err)
	exp, err := ts.Explain(X)
	require.NoError(t, err)

	proba, err := dt.PredictProba(X)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		assert.InDelta(t, proba.At(i, 1), exp.BaseValues[1]+exp.Values[1].At(i, 0), 1e-12)
	}
}

func TestTreeSHAP_Errors(t *testing.T) {
	_, err := NewTreeSHAP(ensemble.NewRandomForestClassifier())
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	_, err = NewTreeSHAPForTree(tree.NewDecisionTreeClassifier())
	assert.True(t, errors.As(err, &nf))

	X := mat.NewDense(4, 2, []float64{0, 0, 1, 1, 5, 5, 6, 6})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	dt := tree.NewDecisionTreeClassifier()
	require.NoError(t, dt.Fit(X, y))

	_, err = NewTreeSHAPForTree(dt, WithFeatureNames([]string{"only"}))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	ts, err := NewTreeSHAPForTree(dt)
	require.NoError(t, err)
	_, err = ts.Explain(mat.NewDense(1, 3, nil))
	assert.True(t, errors.As(err, &de))
}
