package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/observability/otelx"
	"github.com/bakkerme/filepoll/internal/runner"
	"github.com/bakkerme/filepoll/internal/runner/factory"
	"gopkg.in/yaml.v3"
)

func main() {
	env := config.LoadEnv()

	configPath := flag.String("config", env.ConfigPath, "path to poller document")
	flowID := flag.String("flow-id", env.FlowID, "flow identifier")
	runOnce := flag.Bool("run-once", env.RunOnce, "poll once and exit")
	allowPartial := flag.Bool("allow-partial", env.AllowPartialSourceErrors, "continue if a source fails")
	capacity := flag.String("dedupe-capacity", env.Dedupe.Capacity, "default seen-set capacity for sources without one (empty for unbounded)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()
	env.Dedupe.Capacity = *capacity

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := otelx.Init(ctx, logger, env.OTel)
	if err != nil {
		stop()
		log.Fatalf("failed to init tracing: %v", err)
	}

	code := 0
	if err := run(ctx, logger, env, *configPath, *flowID, *runOnce, *allowPartial); err != nil {
		logger.Error("filepoll exited with error", "error", err)
		code = 1
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, logger *slog.Logger, env config.EnvConfig, configPath, flowID string, runOnce, allowPartial bool) error {
	doc, err := loadDocument(configPath)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	f, err := factory.NewFromEnvConfig(logger, env)
	if err != nil {
		return fmt.Errorf("configure factory: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("closing seen stores failed", "error", err)
		}
	}()

	flow, err := doc.ParseToFlowWithFactory(f)
	if err != nil {
		return fmt.Errorf("parse flow: %w", err)
	}
	flow.ID = flowID

	r := runner.NewWithConfig(logger, runner.Config{AllowPartialSourceErrors: allowPartial})

	if runOnce {
		_, err := r.RunOnce(ctx, flow)
		return err
	}

	if err := r.Start(ctx, flow); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	logger.Info("filepoll started", "flow_id", flow.ID, "flow", flow.Name, "triggers", len(flow.Triggers), "sources", len(flow.Sources))

	<-ctx.Done()
	for _, trigger := range flow.Triggers {
		if err := trigger.Stop(); err != nil {
			logger.Warn("stopping trigger failed", "trigger", trigger.Name(), "error", err)
		}
	}
	r.Wait()
	logger.Info("filepoll stopped")
	return nil
}

func loadDocument(path string) (*config.PollerDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc config.PollerDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse poller document: %w", err)
	}
	return &doc, nil
}
