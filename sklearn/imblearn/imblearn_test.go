package imblearn

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/sklearn/ensemble"
)

// imbalanced は クラス0が nMaj 行、クラス1が nMin 行のデータを作る
func imbalanced(nMaj, nMin int) (*mat.Dense, *mat.Dense) {
	n := nMaj + nMin
	X := mat.NewDense(n, 2, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < nMaj; i++ {
		X.Set(i, 0, float64(i%7))
		X.Set(i, 1, float64(i%5))
	}
	for j := 0; j < nMin; j++ {
		i := nMaj + j
		X.Set(i, 0, 20+float64(j))
		X.Set(i, 1, 30+float64(j%3))
		y.Set(i, 0, 1)
	}
	return X, y
}

func countClass(y mat.Matrix, c float64) int {
	rows, _ := y.Dims()
	n := 0
	for i := 0; i < rows; i++ {
		if y.At(i, 0) == c {
			n++
		}
	}
	return n
}

func TestSMOTE_BalancesClasses(t *testing.T) {
	X, y := imbalanced(30, 8)
	Xc := mat.DenseCopyOf(X)

	s := NewSMOTE(WithRandomState(42))
	Xr, yr, err := s.FitResample(X, y)
	require.NoError(t, err)

	rows, cols := Xr.Dims()
	assert.Equal(t, 60, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, 30, countClass(yr, 0))
	assert.Equal(t, 30, countClass(yr, 1))
	assert.True(t, mat.Equal(Xc, X), "input must not be modified")

	// 元の行は先頭にそのまま残る
	for i := 0; i < 38; i++ {
		assert.Equal(t, mat.Row(nil, i, X), mat.Row(nil, i, Xr))
		assert.Equal(t, y.At(i, 0), yr.At(i, 0))
	}

	// 合成点は少数クラスの凸包（ここでは軸ごとの範囲）に入る
	for i := 38; i < rows; i++ {
		assert.Equal(t, 1.0, yr.At(i, 0))
		assert.True(t, Xr.At(i, 0) >= 20 && Xr.At(i, 0) <= 27)
		assert.True(t, Xr.At(i, 1) >= 30 && Xr.At(i, 1) <= 32)
	}
}

func TestSMOTE_Deterministic(t *testing.T) {
	X, y := imbalanced(20, 7)
	a, _, err := NewSMOTE(WithRandomState(1)).FitResample(X, y)
	require.NoError(t, err)
	b, _, err := NewSMOTE(WithRandomState(1), WithNJobs(3)).FitResample(X, y)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))
}

func TestSMOTE_InterpolatesBetweenNeighbours(t *testing.T) {
	// 少数クラスが直線上にあれば合成点も同じ直線上にある
	X := mat.NewDense(8, 2, []float64{
		0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5,
		10, 0,
		11, 0,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 0, 0, 1, 1})
	Xr, yr, err := NewSMOTE(WithKNeighbors(1), WithRandomState(3)).FitResample(X, y)
	require.NoError(t, err)
	rows, _ := Xr.Dims()
	assert.Equal(t, 12, rows)
	for i := 8; i < rows; i++ {
		assert.Equal(t, 1.0, yr.At(i, 0))
		assert.Equal(t, 0.0, Xr.At(i, 1))
		assert.True(t, Xr.At(i, 0) >= 10 && Xr.At(i, 0) <= 11)
	}
}

func TestSMOTE_Minority(t *testing.T) {
	// 3クラス: minority 戦略では最少クラスだけ増える
	X := mat.NewDense(12, 1, nil)
	y := mat.NewDense(12, 1, nil)
	labels := []float64{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2}
	for i, l := range labels {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, l)
	}
	_, yr, err := NewSMOTE(WithKNeighbors(1), WithStrategy(StrategyMinority), WithRandomState(0)).FitResample(X, y)
	require.NoError(t, err)
	assert.Equal(t, 6, countClass(yr, 0))
	assert.Equal(t, 4, countClass(yr, 1))
	assert.Equal(t, 6, countClass(yr, 2))
}

func TestSMOTE_Errors(t *testing.T) {
	tests := []struct {
		name string
		X    *mat.Dense
		y    *mat.Dense
		opts []SMOTEOption
	}{
		{
			name: "single class",
			X:    mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6}),
			y:    mat.NewDense(6, 1, nil),
		},
		{
			name: "minority not larger than k",
			X:    mat.NewDense(8, 1, []float64{1, 2, 3, 4, 5, 6, 7, 8}),
			y:    mat.NewDense(8, 1, []float64{0, 0, 0, 1, 1, 1, 1, 1}),
		},
		{
			name: "length mismatch",
			X:    mat.NewDense(3, 1, []float64{1, 2, 3}),
			y:    mat.NewDense(2, 1, []float64{0, 1}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewSMOTE(tt.opts...).FitResample(tt.X, tt.y)
			require.Error(t, err)
			var te *errors.TrainingError
			assert.True(t, errors.As(err, &te), "got %T", err)
		})
	}

	_, _, err := NewSMOTE(WithStrategy("all")).FitResample(imbalanced(10, 7))
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestSMOTE_AlreadyBalanced(t *testing.T) {
	// 多数クラスと同数なら合成しないので k の制約も受けない
	X := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	Xr, _, err := NewSMOTE().FitResample(X, y)
	require.NoError(t, err)
	assert.True(t, mat.Equal(X, Xr))
}

func newPipeline() *Pipeline {
	return NewPipeline(
		NewSMOTE(WithRandomState(42)),
		ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(10), ensemble.WithRandomState(42)),
	)
}

func TestPipeline_ResamplesOnlyDuringFit(t *testing.T) {
	X, y := imbalanced(30, 8)
	XTest := mat.NewDense(3, 2, []float64{1, 1, 22, 31, 3, 2})
	XTestCopy := mat.DenseCopyOf(XTest)

	p := newPipeline()
	require.NoError(t, p.Fit(X, y))
	assert.Equal(t, 60, p.ResampledRows)
	assert.True(t, p.IsFitted())
	assert.Equal(t, []int{0, 1}, p.Classes())

	pred, err := p.Predict(XTest)
	require.NoError(t, err)
	rows, _ := pred.Dims()
	assert.Equal(t, 3, rows, "prediction keeps the test rows as they are")
	assert.Equal(t, []float64{0, 1, 0}, mat.Col(nil, 0, pred))
	assert.True(t, mat.Equal(XTestCopy, XTest))

	proba, err := p.PredictProba(XTest)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-9)
	}
	assert.Len(t, p.FeatureImportances(), 2)
}

func TestPipeline_Errors(t *testing.T) {
	p := newPipeline()
	_, err := p.Predict(mat.NewDense(1, 2, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	X, y := imbalanced(10, 3)
	err = p.Fit(X, y)
	var te *errors.TrainingError
	assert.True(t, errors.As(err, &te))
}

func TestPipeline_GobRoundTrip(t *testing.T) {
	X, y := imbalanced(30, 8)
	p := newPipeline()
	require.NoError(t, p.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(p))
	loaded := &Pipeline{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(loaded))

	want, err := p.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
	assert.IsType(t, &SMOTE{}, loaded.Sampler)
}

func TestPipeline_Params(t *testing.T) {
	p := NewPipeline(
		NewSMOTE(WithKNeighbors(3)),
		ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(10)),
	)
	params := p.GetParams()
	assert.Equal(t, 3, params["smote__k_neighbors"])
	assert.Equal(t, StrategyAuto, params["smote__sampling_strategy"])
	assert.Equal(t, 10, params["clf__n_estimators"])

	require.NoError(t, p.SetParams(map[string]interface{}{
		"smote__k_neighbors": 2,
		"clf__n_estimators":  4,
		"clf__voting":        "soft",
	}))
	params = p.GetParams()
	assert.Equal(t, 2, params["smote__k_neighbors"])
	assert.Equal(t, 4, params["clf__n_estimators"])
	assert.Equal(t, "soft", params["clf__voting"])

	// 設定後の値で学習できること
	X, y := imbalanced(20, 6)
	require.NoError(t, p.Fit(X, y))
	assert.Equal(t, 40, p.ResampledRows)

	var ve *errors.ValidationError
	for _, bad := range []map[string]interface{}{
		{"n_estimators": 5},
		{"knn__k": 5},
		{"clf__unknown": 1},
		{"smote__k_neighbors": "3"},
	} {
		assert.True(t, errors.As(p.SetParams(bad), &ve), "%v", bad)
	}

	noSampler := NewPipeline(nil, ensemble.NewRandomForestClassifier())
	assert.NotContains(t, noSampler.GetParams(), "smote__k_neighbors")
	assert.True(t, errors.As(noSampler.SetParams(map[string]interface{}{"smote__k_neighbors": 2}), &ve))
}
