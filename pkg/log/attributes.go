// Standard attribute keys shared by the training and serving pipelines.
//
// Keys follow a dotted "category.name" convention so log queries can filter on
// a prefix (e.g. every "data.*" field emitted during ingestion).

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the estimator or transformer type.
	// Examples: "RandomForestClassifier", "TargetEncoder", "SMOTE"
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies a specific trained instance (artifact id).
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "resample", "explain"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package emitted the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates the pipeline stage.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	SamplesKey = "data.samples"
	FeaturesKey = "data.features"

	// ClassesKey records the number of distinct target classes.
	ClassesKey = "data.classes"

	// ColumnKey names the raw input column being processed.
	ColumnKey = "data.column"

	// PathKey records a filesystem path (dataset, artifact, report).
	PathKey = "data.path"

	// DataSizeKey indicates a payload size in bytes.
	DataSizeKey = "data.size_bytes"

	BatchSizeKey = "data.batch_size"
)

// Performance Metrics
const (
	DurationMsKey = "perf.duration_ms"

	DurationSecondsKey = "perf.duration_seconds"

	// AccuracyKey records classification accuracy on the held-out split.
	AccuracyKey = "metrics.accuracy"

	// MacroF1Key records the unweighted mean F1 across classes.
	MacroF1Key = "metrics.macro_f1"

	// AUCKey records ROC AUC for the positive class (binary targets only).
	AUCKey = "metrics.auc"

	// TreesKey records the number of fitted trees.
	TreesKey = "training.trees"
)

// Prediction and Output Context
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"

	// ConfidenceKey records prediction probability.
	ConfidenceKey = "preds.confidence"

	// CacheHitKey reports whether a single prediction was served from cache.
	CacheHitKey = "preds.cache_hit"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// ErrAttrKey is the field under which error values are recorded.
	ErrAttrKey = "error"

	// StacktraceKey contains stack trace information for debugging.
	// Automatically populated when an error carrying a stack is logged.
	StacktraceKey = "error.stacktrace"
)

// Hyperparameters and Configuration
const (
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// ConfigPathKey records the configuration file that was loaded.
	ConfigPathKey = "config.path"
)

// HTTP serving
const (
	RequestIDKey     = "http.request_id"
	MethodKey        = "http.method"
	RouteKey         = "http.route"
	StatusKey        = "http.status"
	ResponseBytesKey = "http.response_bytes"
	AddrKey          = "http.addr"
)

// Standard attribute value constants for common operations.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationResample     = "resample"
	OperationExplain      = "explain"
	OperationScore        = "score"

	PhaseIngestion      = "ingestion"
	PhaseTransformation = "transformation"
	PhaseTraining       = "training"
	PhaseEvaluation     = "evaluation"
	PhaseInference      = "inference"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorArtifact          = "ARTIFACT"
)
