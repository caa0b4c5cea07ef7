package ensemble

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/core/model"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
)

// blobs は特徴量0だけがクラスを決める2クラスデータを作る
func blobs(n int, seed int64, labels [2]float64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		k := i % 2
		X.Set(i, 0, float64(k)*4+rng.NormFloat64()*0.5)
		X.Set(i, 1, rng.Float64())
		X.Set(i, 2, rng.Float64())
		y.Set(i, 0, labels[k])
	}
	return X, y
}

func TestRandomForestClassifier_FitPredict(t *testing.T) {
	X, y := blobs(80, 1, [2]float64{0, 1})
	XTest, yTest := blobs(40, 2, [2]float64{0, 1})

	rf := NewRandomForestClassifier(WithNEstimators(25), WithRandomState(42))
	require.NoError(t, rf.Fit(X, y))
	assert.True(t, rf.IsFitted())
	assert.Len(t, rf.Trees(), 25)
	assert.Equal(t, []int{0, 1}, rf.Classes())

	acc, err := rf.Score(XTest, yTest)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, 0.95)

	proba, err := rf.PredictProba(XTest)
	require.NoError(t, err)
	rows, cols := proba.Dims()
	assert.Equal(t, 40, rows)
	assert.Equal(t, 2, cols)
	for i := 0; i < rows; i++ {
		assert.InDelta(t, 1.0, floats.Sum(mat.Row(nil, i, proba)), 1e-9)
	}
}

func TestRandomForestClassifier_Deterministic(t *testing.T) {
	X, y := blobs(60, 3, [2]float64{0, 1})

	a := NewRandomForestClassifier(WithNEstimators(10), WithRandomState(7), WithNJobs(1))
	b := NewRandomForestClassifier(WithNEstimators(10), WithRandomState(7), WithNJobs(4))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))

	pa, err := a.PredictProba(X)
	require.NoError(t, err)
	pb, err := b.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pa, pb), "worker count must not change the fitted forest")
}

func TestRandomForestClassifier_LabelsAndImportances(t *testing.T) {
	X, y := blobs(60, 4, [2]float64{3, 9})

	rf := NewRandomForestClassifier(WithNEstimators(15), WithRandomState(1))
	require.NoError(t, rf.Fit(X, y))
	assert.Equal(t, []int{3, 9}, rf.Classes())

	pred, err := rf.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 60; i++ {
		v := pred.At(i, 0)
		assert.True(t, v == 3 || v == 9)
	}

	imp := rf.FeatureImportances()
	require.Len(t, imp, 3)
	assert.InDelta(t, 1.0, floats.Sum(imp), 1e-9)
	assert.Greater(t, imp[0], imp[1])
	assert.Greater(t, imp[0], imp[2])
}

func TestRandomForestClassifier_SoftVoting(t *testing.T) {
	X, y := blobs(60, 5, [2]float64{0, 1})

	hard := NewRandomForestClassifier(WithNEstimators(15), WithRandomState(3))
	soft := NewRandomForestClassifier(WithNEstimators(15), WithRandomState(3), WithVoting(VotingSoft))
	require.NoError(t, hard.Fit(X, y))
	require.NoError(t, soft.Fit(X, y))

	ph, err := hard.Predict(X)
	require.NoError(t, err)
	ps, err := soft.Predict(X)
	require.NoError(t, err)

	// 学習データ上ではほぼ全木が一致するため両方式の予測は一致する
	agree := 0
	for i := 0; i < 60; i++ {
		if ph.At(i, 0) == ps.At(i, 0) {
			agree++
		}
	}
	assert.GreaterOrEqual(t, agree, 58)
}

func TestRandomForestClassifier_BalancedSubsample(t *testing.T) {
	X, y := blobs(40, 6, [2]float64{0, 1})
	rf := NewRandomForestClassifier(
		WithNEstimators(5),
		WithRandomState(2),
		WithClassWeight("balanced_subsample"),
		WithBootstrap(false),
	)
	require.NoError(t, rf.Fit(X, y))
	acc, err := rf.Score(X, y)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acc, 0.95)
}

func TestRandomForestClassifier_Errors(t *testing.T) {
	X, y := blobs(20, 7, [2]float64{0, 1})

	t.Run("not fitted", func(t *testing.T) {
		_, err := NewRandomForestClassifier().Predict(X)
		var nf *errors.NotFittedError
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("single class", func(t *testing.T) {
		err := NewRandomForestClassifier(WithNEstimators(2)).Fit(X, mat.NewDense(20, 1, nil))
		assert.True(t, errors.Is(err, errors.ErrSingleClass))
	})

	t.Run("width mismatch", func(t *testing.T) {
		rf := NewRandomForestClassifier(WithNEstimators(2), WithRandomState(1))
		require.NoError(t, rf.Fit(X, y))
		_, err := rf.PredictProba(mat.NewDense(1, 2, nil))
		var de *errors.DimensionError
		assert.True(t, errors.As(err, &de))
	})

	t.Run("invalid params", func(t *testing.T) {
		err := NewRandomForestClassifier(WithVoting("rank")).Fit(X, y)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))

		err = NewRandomForestClassifier().SetParams(map[string]interface{}{"n_estimators": 0})
		assert.True(t, errors.As(err, &ve))
	})
}

func TestRandomForestClassifier_SaveLoad(t *testing.T) {
	X, y := blobs(50, 8, [2]float64{0, 1})
	rf := NewRandomForestClassifier(WithNEstimators(8), WithRandomState(11))
	require.NoError(t, rf.Fit(X, y))

	path := filepath.Join(t.TempDir(), "artifacts", "random_forest_model.bin")
	require.NoError(t, model.SaveModel(rf, path))

	loaded := NewRandomForestClassifier()
	require.NoError(t, model.LoadModel(loaded, path))
	loaded.SetLogger(log.NewNopLogger())

	assert.Equal(t, rf.GetParams(), loaded.GetParams())
	assert.Equal(t, rf.FeatureImportances(), loaded.FeatureImportances())

	want, err := rf.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}

func TestRandomForestClassifier_Logging(t *testing.T) {
	X, y := blobs(20, 9, [2]float64{0, 1})
	logger, _ := log.NewTestLogger(log.LevelInfo)
	rf := NewRandomForestClassifier(WithNEstimators(3), WithRandomState(1), WithLogger(logger))
	require.NoError(t, rf.Fit(X, y))
	assert.True(t, logger.ContainsMessage("Random forest fitted"))
	assert.True(t, logger.ContainsField(log.TreesKey, float64(3)))
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 0, argmax([]float64{0.5, 0.5}))
	assert.Equal(t, 1, argmax([]float64{0.2, 0.8}))
}
