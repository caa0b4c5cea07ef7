package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frerrors "github.com/YuminosukeSato/failrisk/pkg/errors"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	provider, err := Setup(Options{Level: "debug", Output: &buf})
	require.NoError(t, err)

	logger := provider.GetLoggerWithName("pipeline.trainer").With(ModelNameKey, "RandomForestClassifier")
	logger.Info("training completed", AccuracyKey, 0.9, TreesKey, 300)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "training completed", lines[0]["message"])
	assert.Equal(t, "pipeline.trainer", lines[0][ComponentKey])
	assert.Equal(t, "RandomForestClassifier", lines[0][ModelNameKey])
	assert.Equal(t, 0.9, lines[0][AccuracyKey])
	assert.Equal(t, 300.0, lines[0][TreesKey])
	assert.Contains(t, lines[0], "time")
}

func TestSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	provider, err := Setup(Options{Level: "warn", Output: &buf})
	require.NoError(t, err)

	logger := provider.GetLogger()
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])

	assert.False(t, logger.Enabled(context.Background(), LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), LevelError))

	provider.SetLevel(LevelDebug)
	assert.True(t, provider.GetLogger().Enabled(context.Background(), LevelDebug))
}

func TestSetup_InvalidOptions(t *testing.T) {
	_, err := Setup(Options{Level: "verbose"})
	assert.Error(t, err)

	_, err = Setup(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestZerologLogger_ErrorFieldCarriesStack(t *testing.T) {
	var buf bytes.Buffer
	provider, err := Setup(Options{Output: &buf})
	require.NoError(t, err)

	cause := frerrors.NewTrainingError("smote", frerrors.New("class 'Yes' has 3 samples"))
	provider.GetLogger().Error("training failed", cause, PhaseKey, PhaseTraining)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0][ErrAttrKey], "training failed at stage smote")
	assert.NotEmpty(t, lines[0][StacktraceKey])
	assert.Equal(t, PhaseTraining, lines[0][PhaseKey])
}

func TestZerologLogger_OddFields(t *testing.T) {
	var buf bytes.Buffer
	provider, err := Setup(Options{Output: &buf})
	require.NoError(t, err)

	provider.GetLogger().Info("odd", "dangling")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "dangling", lines[0]["!BADKEY"])
}

func TestSetup_BridgesWarnings(t *testing.T) {
	var buf bytes.Buffer
	_, err := Setup(Options{Output: &buf})
	require.NoError(t, err)
	defer frerrors.SetZerologWarnFunc(nil)

	frerrors.Warn(frerrors.NewUnseenCategoryWarning("Region", 2))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "warnings", lines[0][ComponentKey])
	assert.Contains(t, lines[0]["message"], "Region")
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("nothing", "k", "v")
	assert.False(t, logger.Enabled(context.Background(), LevelError))
	assert.NotNil(t, logger.With("k", "v"))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, "UNKNOWN", got.String())
		})
	}
}

func TestTestLogger_CapturesFields(t *testing.T) {
	testLogger, buffer := NewTestLogger(LevelDebug)

	testLogger.Debug("debug message", "key1", "value1", "number", 42)
	testLogger.Error("error message", fmt.Errorf("boom"), ErrorCodeKey, ErrorInvalidInput)

	require.NotEmpty(t, buffer.String())
	assert.True(t, testLogger.ContainsMessage("debug message"))
	assert.True(t, testLogger.ContainsField("key1", "value1"))
	assert.True(t, testLogger.ContainsField("number", 42.0)) // JSON numbers decode as float64
	assert.True(t, testLogger.ContainsField(ErrAttrKey, "boom"))
	assert.True(t, testLogger.ContainsField(ErrorCodeKey, ErrorInvalidInput))

	ctxLogger := testLogger.With(ModelNameKey, "SMOTE")
	ctxLogger.Info("resampled", SamplesKey, 10)
	assert.True(t, testLogger.ContainsField(ModelNameKey, "SMOTE"))

	testLogger.Clear()
	entries, err := testLogger.GetLogEntries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTestLogger_LevelFiltering(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelWarn)
	testLogger.Info("info")
	testLogger.Warn("warn")

	entries, err := testLogger.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "WARN", entries[0]["level"])
}

func TestTestLogger_Concurrent(t *testing.T) {
	testLogger, _ := NewTestLogger(LevelInfo)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			testLogger.With(RequestIDKey, i).Info("request")
		}(i)
	}
	wg.Wait()

	entries, err := testLogger.GetLogEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestTestLoggerProvider(t *testing.T) {
	provider, _ := NewTestLoggerProvider(LevelInfo)
	provider.GetLoggerWithName("serving").Info("listening")
	assert.True(t, provider.logger.ContainsField(ComponentKey, "serving"))

	provider.SetLevel(LevelError)
	provider.GetLogger().Info("dropped")
	assert.False(t, provider.logger.ContainsMessage("dropped"))
}
