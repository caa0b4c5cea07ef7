// Package config loads failrisk settings.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then FAILRISK_* environment variables. Variables
// already present in the process environment win over the .env file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FAILRISK_"

// Config is the full application configuration.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Training TrainingConfig `yaml:"training"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// PathsConfig locates inputs and artifacts.
type PathsConfig struct {
	RawData         string `yaml:"raw_data"`
	ArtifactsDir    string `yaml:"artifacts_dir"`
	RawCopy         string `yaml:"raw_copy"`
	Train           string `yaml:"train"`
	Test            string `yaml:"test"`
	Preprocessor    string `yaml:"preprocessor"`
	Model           string `yaml:"model"`
	Metrics         string `yaml:"metrics"`
	ConfusionMatrix string `yaml:"confusion_matrix"`
	SHAPSummary     string `yaml:"shap_summary"`
}

// TrainingConfig holds the ingestion split and estimator settings.
type TrainingConfig struct {
	TestSize       float64 `yaml:"test_size"`
	RandomState    int64   `yaml:"random_state"`
	NEstimators    int     `yaml:"n_estimators"`
	MaxDepth       int     `yaml:"max_depth"`
	KNeighbors     int     `yaml:"k_neighbors"`
	Voting         string  `yaml:"voting"`
	NJobs          int     `yaml:"n_jobs"`
	MinSamplesLeaf int     `yaml:"encoder_min_samples_leaf"`
	Smoothing      float64 `yaml:"encoder_smoothing"`
	SHAPMaxRows    int     `yaml:"shap_max_rows"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CacheSize       int           `yaml:"cache_size"`
	MaxBulkRecords  int           `yaml:"max_bulk_records"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{
		Paths: PathsConfig{
			RawData:      filepath.Join("notebook", "data", "data.csv"),
			ArtifactsDir: "artifacts",
		},
		Training: TrainingConfig{
			TestSize:       0.2,
			RandomState:    42,
			NEstimators:    300,
			MaxDepth:       0,
			KNeighbors:     5,
			Voting:         "hard",
			NJobs:          0,
			MinSamplesLeaf: 20,
			Smoothing:      10,
			SHAPMaxRows:    0,
		},
		Server: ServerConfig{
			Addr:            ":8000",
			CacheSize:       1024,
			MaxBulkRecords:  0,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
	c.fillArtifactPaths()
	return c
}

// fillArtifactPaths derives every empty artifact path from ArtifactsDir.
func (c *Config) fillArtifactPaths() {
	dir := c.Paths.ArtifactsDir
	set := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(dir, name)
		}
	}
	set(&c.Paths.RawCopy, "raw.csv")
	set(&c.Paths.Train, "train.csv")
	set(&c.Paths.Test, "test.csv")
	set(&c.Paths.Preprocessor, "preprocessor.bin")
	set(&c.Paths.Model, "random_forest_model.bin")
	set(&c.Paths.Metrics, "metrics.json")
	set(&c.Paths.ConfusionMatrix, filepath.Join("images", "confusion_matrix.png"))
	set(&c.Paths.SHAPSummary, filepath.Join("images", "shap_summary.png"))
}

// SetArtifactsDir moves every derived artifact path under dir.
func (c *Config) SetArtifactsDir(dir string) {
	c.Paths = PathsConfig{RawData: c.Paths.RawData, ArtifactsDir: dir}
	c.fillArtifactPaths()
}

// Load builds the configuration. path may be empty to skip the YAML file;
// envFile may be empty to skip the .env file, and a missing .env file is not
// an error.
func Load(path, envFile string) (*Config, error) {
	c := Default()
	// 派生パスは YAML/環境変数で artifacts_dir が変わった後に埋め直す
	c.Paths = PathsConfig{RawData: c.Paths.RawData, ArtifactsDir: c.Paths.ArtifactsDir}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to load env file %s", envFile)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.fillArtifactPaths()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	var firstErr error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil && firstErr == nil {
				firstErr = errors.NewValidationError(EnvPrefix+key, "must be an integer", v)
			}
			if err == nil {
				*dst = n
			}
		}
	}
	num64 := func(key string, dst *int64) {
		if v, ok := lookup(key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil && firstErr == nil {
				firstErr = errors.NewValidationError(EnvPrefix+key, "must be an integer", v)
			}
			if err == nil {
				*dst = n
			}
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil && firstErr == nil {
				firstErr = errors.NewValidationError(EnvPrefix+key, "must be a number", v)
			}
			if err == nil {
				*dst = f
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil && firstErr == nil {
				firstErr = errors.NewValidationError(EnvPrefix+key, "must be a duration", v)
			}
			if err == nil {
				*dst = d
			}
		}
	}

	str("RAW_DATA", &c.Paths.RawData)
	str("ARTIFACTS_DIR", &c.Paths.ArtifactsDir)
	str("PREPROCESSOR_PATH", &c.Paths.Preprocessor)
	str("MODEL_PATH", &c.Paths.Model)

	flt("TEST_SIZE", &c.Training.TestSize)
	num64("RANDOM_STATE", &c.Training.RandomState)
	num("N_ESTIMATORS", &c.Training.NEstimators)
	num("MAX_DEPTH", &c.Training.MaxDepth)
	num("K_NEIGHBORS", &c.Training.KNeighbors)
	str("VOTING", &c.Training.Voting)
	num("N_JOBS", &c.Training.NJobs)
	num("SHAP_MAX_ROWS", &c.Training.SHAPMaxRows)

	str("ADDR", &c.Server.Addr)
	num("CACHE_SIZE", &c.Server.CacheSize)
	num("MAX_BULK_RECORDS", &c.Server.MaxBulkRecords)
	dur("READ_TIMEOUT", &c.Server.ReadTimeout)
	dur("WRITE_TIMEOUT", &c.Server.WriteTimeout)
	dur("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	if v, ok := lookup("CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	return firstErr
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	t := c.Training
	switch {
	case t.TestSize <= 0 || t.TestSize >= 1:
		return errors.NewValidationError("training.test_size", "must be in (0, 1)", t.TestSize)
	case t.NEstimators < 1:
		return errors.NewValidationError("training.n_estimators", "must be >= 1", t.NEstimators)
	case t.MaxDepth < 0:
		return errors.NewValidationError("training.max_depth", "must be >= 0 (0 = unlimited)", t.MaxDepth)
	case t.KNeighbors < 1:
		return errors.NewValidationError("training.k_neighbors", "must be >= 1", t.KNeighbors)
	case t.Voting != "hard" && t.Voting != "soft":
		return errors.NewValidationError("training.voting", "must be 'hard' or 'soft'", t.Voting)
	case t.MinSamplesLeaf < 1:
		return errors.NewValidationError("training.encoder_min_samples_leaf", "must be >= 1", t.MinSamplesLeaf)
	case t.Smoothing <= 0:
		return errors.NewValidationError("training.encoder_smoothing", "must be > 0", t.Smoothing)
	case t.SHAPMaxRows < 0:
		return errors.NewValidationError("training.shap_max_rows", "must be >= 0 (0 = all rows)", t.SHAPMaxRows)
	}

	s := c.Server
	switch {
	case s.Addr == "":
		return errors.NewValidationError("server.addr", "must not be empty", s.Addr)
	case s.CacheSize < 0:
		return errors.NewValidationError("server.cache_size", "must be >= 0 (0 disables the cache)", s.CacheSize)
	case s.MaxBulkRecords < 0:
		return errors.NewValidationError("server.max_bulk_records", "must be >= 0 (0 = unbounded)", s.MaxBulkRecords)
	case s.ReadTimeout <= 0 || s.WriteTimeout <= 0 || s.ShutdownTimeout <= 0:
		return errors.NewValidationError("server.timeouts", "must be positive", s)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return errors.NewValidationError("log.format", "must be 'json' or 'console'", c.Log.Format)
	}
	if c.Paths.ArtifactsDir == "" {
		return errors.NewValidationError("paths.artifacts_dir", "must not be empty", c.Paths.ArtifactsDir)
	}
	return nil
}
