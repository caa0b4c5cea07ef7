package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/failrisk/pkg/errors"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 300, c.Training.NEstimators)
	assert.Equal(t, int64(42), c.Training.RandomState)
	assert.Equal(t, 0.2, c.Training.TestSize)
	assert.Equal(t, ":8000", c.Server.Addr)
	assert.Equal(t, 0, c.Server.MaxBulkRecords, "bulk endpoint is unbounded by default")
	assert.Equal(t, filepath.Join("artifacts", "preprocessor.bin"), c.Paths.Preprocessor)
	assert.Equal(t, filepath.Join("artifacts", "random_forest_model.bin"), c.Paths.Model)
}

func TestLoad_LayersYAMLDotenvAndEnv(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "failrisk.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
paths:
  artifacts_dir: out
training:
  n_estimators: 50
  voting: soft
server:
  addr: ":9000"
  read_timeout: 5s
`), 0o644))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("FAILRISK_K_NEIGHBORS=3\nFAILRISK_CACHE_SIZE=10\n"), 0o644))

	// プロセス環境の値は .env より優先される
	t.Setenv("FAILRISK_CACHE_SIZE", "99")
	t.Setenv("FAILRISK_MAX_BULK_RECORDS", "500")
	t.Setenv("FAILRISK_CORS_ORIGINS", "http://a.example, http://b.example")
	// .env が設定する変数はテスト終了時に消す
	t.Setenv("FAILRISK_K_NEIGHBORS", "")
	require.NoError(t, os.Unsetenv("FAILRISK_K_NEIGHBORS"))

	c, err := Load(yamlPath, envPath)
	require.NoError(t, err)

	assert.Equal(t, 50, c.Training.NEstimators)
	assert.Equal(t, "soft", c.Training.Voting)
	assert.Equal(t, ":9000", c.Server.Addr)
	assert.Equal(t, 5*time.Second, c.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, c.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, 3, c.Training.KNeighbors)
	assert.Equal(t, 99, c.Server.CacheSize)
	assert.Equal(t, 500, c.Server.MaxBulkRecords)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, c.Server.CORSOrigins)
	assert.Equal(t, filepath.Join("out", "random_forest_model.bin"), c.Paths.Model)
	assert.Equal(t, filepath.Join("out", "images", "confusion_matrix.png"), c.Paths.ConfusionMatrix)
}

func TestLoad_MissingDotenvIsIgnored(t *testing.T) {
	c, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 300, c.Training.NEstimators)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("training: [1, 2"), 0o644))
	_, err = Load(bad, "")
	assert.Error(t, err)

	t.Run("non numeric env", func(t *testing.T) {
		t.Setenv("FAILRISK_N_ESTIMATORS", "many")
		_, err := Load("", "")
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"test size", func(c *Config) { c.Training.TestSize = 1 }},
		{"estimators", func(c *Config) { c.Training.NEstimators = 0 }},
		{"depth", func(c *Config) { c.Training.MaxDepth = -1 }},
		{"neighbors", func(c *Config) { c.Training.KNeighbors = 0 }},
		{"voting", func(c *Config) { c.Training.Voting = "rank" }},
		{"smoothing", func(c *Config) { c.Training.Smoothing = 0 }},
		{"addr", func(c *Config) { c.Server.Addr = "" }},
		{"bulk", func(c *Config) { c.Server.MaxBulkRecords = -1 }},
		{"timeout", func(c *Config) { c.Server.ReadTimeout = 0 }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve), "got %v", err)
		})
	}
}

func TestSetArtifactsDir(t *testing.T) {
	c := Default()
	c.SetArtifactsDir("run1")
	assert.Equal(t, "run1", c.Paths.ArtifactsDir)
	assert.Equal(t, filepath.Join("run1", "train.csv"), c.Paths.Train)
	assert.Equal(t, filepath.Join("run1", "images", "shap_summary.png"), c.Paths.SHAPSummary)
	assert.Equal(t, filepath.Join("notebook", "data", "data.csv"), c.Paths.RawData)
}
