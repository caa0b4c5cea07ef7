// Package model は推定器・変換器・サンプラーの共通インターフェースと、
// 学習状態の管理、成果物の永続化（Object Store）を提供します。
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる。y は (n, 1) のクラス番号列
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を (n, 1) で返す
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Estimator は学習と予測の両方を持つモデル
type Estimator interface {
	Fitter
	Predictor
	IsFitted() bool
}

// Classifier combines interfaces for classification models.
type Classifier interface {
	Estimator

	// PredictProba returns probability estimates for each class,
	// one column per entry of Classes().
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the unique classes seen during fitting.
	Classes() []int
}

// FeatureImportancer is implemented by models that expose impurity-based
// importances, normalized to sum to 1.
type FeatureImportancer interface {
	FeatureImportances() []float64
}

// Sampler は学習データを再標本化するステップ（SMOTE 等）のインターフェース。
// 学習時にのみ適用され、推論経路には現れない。
type Sampler interface {
	FitResample(X, y mat.Matrix) (*mat.Dense, *mat.Dense, error)
}

// Transformer は数値行列の変換のインターフェース
type Transformer interface {
	// Fit は変換に必要なパラメータを学習する
	Fit(X mat.Matrix) error

	// Transform はデータを変換する。入力は変更しない
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform はFitとTransformを同時に実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	// SetParams sets the model's hyperparameters.
	SetParams(params map[string]interface{}) error
}

// Artifact は Object Store に保存できる学習済みオブジェクト。
// ArtifactKind はヘッダに書き込まれ、読み込み時に型の取り違えを検出する。
type Artifact interface {
	ArtifactKind() string
}
