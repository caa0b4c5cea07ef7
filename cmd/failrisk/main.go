// Command failrisk trains the failure-risk classifier, scores CSV files in
// batch and serves predictions over HTTP.
//
//	failrisk train [--data data.csv] [--artifacts-dir artifacts]
//	failrisk serve [--addr :8000]
//	failrisk predict input.csv [-o predictions.csv]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"

	"github.com/YuminosukeSato/failrisk/config"
	"github.com/YuminosukeSato/failrisk/dataset"
	"github.com/YuminosukeSato/failrisk/pkg/errors"
	"github.com/YuminosukeSato/failrisk/pkg/log"
	"github.com/YuminosukeSato/failrisk/pipeline"
	"github.com/YuminosukeSato/failrisk/serving"
)

type trainCmd struct {
	Data         string `arg:"--data" help:"raw CSV to train on (overrides paths.raw_data)"`
	ArtifactsDir string `arg:"--artifacts-dir" help:"directory for every training artifact"`
}

type serveCmd struct {
	Addr string `arg:"--addr" help:"listen address (overrides server.addr)"`
}

type predictCmd struct {
	Input  string `arg:"positional,required" help:"CSV with one applicant per row"`
	Output string `arg:"-o,--output" help:"output CSV, stdout when empty"`
}

type args struct {
	Train   *trainCmd   `arg:"subcommand:train" help:"ingest, transform, train and evaluate"`
	Serve   *serveCmd   `arg:"subcommand:serve" help:"serve /predict and /predict_bulk"`
	Predict *predictCmd `arg:"subcommand:predict" help:"score a CSV with the saved artifacts"`

	Config   string `arg:"-c,--config" help:"YAML configuration file"`
	EnvFile  string `arg:"--env-file" help:"dotenv file read before FAILRISK_* variables"`
	LogLevel string `arg:"--log-level" help:"debug, info, warn or error"`
}

func (args) Description() string {
	return "failrisk predicts course suitability with a SMOTE + random forest pipeline"
}

func main() {
	a := args{EnvFile: ".env"}
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand: train, serve or predict")
	}

	cfg, err := config.Load(a.Config, a.EnvFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failrisk:", err)
		os.Exit(2)
	}
	if a.LogLevel != "" {
		cfg.Log.Level = a.LogLevel
	}
	provider, err := log.Setup(log.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failrisk:", err)
		os.Exit(2)
	}
	logger := provider.GetLoggerWithName("failrisk")
	if a.Config != "" {
		logger.Info("Configuration loaded", log.ConfigPathKey, a.Config)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case a.Train != nil:
		err = runTrain(ctx, cfg, a.Train, logger, os.Stdout)
	case a.Serve != nil:
		err = runServe(ctx, cfg, a.Serve, logger)
	case a.Predict != nil:
		err = runPredict(cfg, a.Predict, logger)
	}
	if err != nil {
		logger.Error("Command failed", log.ErrAttrKey, err)
		stop()
		os.Exit(1)
	}
}

func runTrain(ctx context.Context, cfg *config.Config, cmd *trainCmd, logger log.Logger, out io.Writer) error {
	if cmd.Data != "" {
		cfg.Paths.RawData = cmd.Data
	}
	if cmd.ArtifactsDir != "" {
		cfg.SetArtifactsDir(cmd.ArtifactsDir)
	}

	res, err := pipeline.NewTrainingPipeline(cfg, pipeline.WithLogger(logger)).Run(ctx)
	if err != nil {
		return err
	}
	eval := res.Evaluation
	fmt.Fprintf(out, "Accuracy: %.4f\n\n", eval.Accuracy)
	fmt.Fprintln(out, eval.Report.String())
	if eval.AUC != nil {
		fmt.Fprintf(out, "ROC AUC: %.4f\n", *eval.AUC)
	}
	if eval.LogLoss != nil {
		fmt.Fprintf(out, "Log loss: %.4f\n", *eval.LogLoss)
	}
	fmt.Fprintf(out, "Model saved to %s\n", cfg.Paths.Model)
	return nil
}

// loadPredictor loads both artifacts. A failure here is fatal: the service
// never starts on partial state.
func loadPredictor(cfg *config.Config, logger log.Logger) (*pipeline.PredictPipeline, error) {
	p := pipeline.NewPredictPipeline(pipeline.WithLogger(logger))
	if err := p.Load(cfg.Paths.Preprocessor, cfg.Paths.Model); err != nil {
		return nil, err
	}
	return p, nil
}

func runServe(ctx context.Context, cfg *config.Config, cmd *serveCmd, logger log.Logger) error {
	if cmd.Addr != "" {
		cfg.Server.Addr = cmd.Addr
	}
	p, err := loadPredictor(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "refusing to start")
	}
	if err := p.MarkServing(); err != nil {
		return err
	}
	srv, err := serving.NewServer(p, cfg.Server, serving.WithLogger(logger))
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func runPredict(cfg *config.Config, cmd *predictCmd, logger log.Logger) error {
	p, err := loadPredictor(cfg, logger)
	if err != nil {
		return err
	}
	frame, err := dataset.ReadCSVFile(cmd.Input)
	if err != nil {
		return err
	}
	results, err := p.PredictResults(frame)
	if err != nil {
		return err
	}

	preds := make([]*dataset.Prediction, len(results))
	for i, r := range results {
		preds[i] = &dataset.Prediction{Row: i, Label: r.Label, Confidence: r.Confidence}
	}

	if cmd.Output == "" {
		return dataset.WritePredictions(os.Stdout, preds)
	}
	f, err := os.Create(cmd.Output)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", cmd.Output)
	}
	if err := dataset.WritePredictions(f, preds); err != nil {
		_ = f.Close()
		return err
	}
	logger.Info("Batch predictions written",
		log.PredsKey, len(preds),
		log.PathKey, cmd.Output,
	)
	return f.Close()
}
