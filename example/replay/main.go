package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/mudler/LocalExplorer/core/agent"
	"github.com/mudler/LocalExplorer/core/state"
	"github.com/mudler/LocalExplorer/pkg/replay"
	"github.com/mudler/xlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configFile = os.Getenv("EXPLORER_CONFIG")
var traceFile = os.Getenv("EXPLORER_TRACE")
var outputDir = os.Getenv("EXPLORER_OUTPUT_DIR")
var metricsAddr = os.Getenv("EXPLORER_METRICS_ADDR")
var stepsEnv = os.Getenv("EXPLORER_STEPS")

var steps = 200

func init() {
	if configFile == "" {
		configFile = "config.yaml"
	}
	if traceFile == "" {
		panic("EXPLORER_TRACE not set")
	}
	if stepsEnv != "" {
		n, err := strconv.Atoi(stepsEnv)
		if err != nil || n <= 0 {
			panic("EXPLORER_STEPS must be a positive number")
		}
		steps = n
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := state.Load(configFile)
	if err != nil {
		panic(err)
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}

	trace, err := replay.LoadTrace(traceFile)
	if err != nil {
		panic(err)
	}
	app, err := replay.NewApp(trace)
	if err != nil {
		panic(err)
	}

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				xlog.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	explorer, err := agent.New(
		agent.WithContext(ctx),
		agent.WithConfig(cfg),
		agent.WithSimilarity(replay.Similarity),
		agent.WithPathFinder(app),
		agent.WithCoverage(app),
	)
	if err != nil {
		panic(err)
	}
	explorer.Start()
	defer explorer.Stop()

	records, err := replay.Run(ctx, explorer, app, steps)
	if err != nil && !errors.Is(err, context.Canceled) {
		xlog.Error("Replay stopped", "error", err)
	}

	coverage, _ := app.Coverage()
	succeeded, total := explorer.GuideStats()
	xlog.Info("Replay finished", "steps", len(records), "coverage", coverage, "clusters", explorer.Index().Len(), "guides", total, "succeeded", succeeded)

	if err := writeRecords(filepath.Join(cfg.OutputDir, "replay.json"), records); err != nil {
		xlog.Error("Failed to write the replay records", "error", err)
	}
}

func writeRecords(path string, records []replay.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
