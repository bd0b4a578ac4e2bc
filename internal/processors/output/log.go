package output

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/core"
	"github.com/dustin/go-humanize"
)

// LogProcessor reports every admitted block as one log line. It is the
// output a flow gets when it configures none.
type LogProcessor struct {
	name  string
	level slog.Level
}

func NewLogProcessor(cfg *config.LogOutput) (*LogProcessor, error) {
	if cfg == nil {
		cfg = &config.LogOutput{}
	}
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "", "info":
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}
	return &LogProcessor{name: "log", level: level}, nil
}

func (p *LogProcessor) Name() string {
	return p.name
}

func (p *LogProcessor) Validate() error {
	return nil
}

func (p *LogProcessor) Deliver(ctx context.Context, blocks []*core.ItemBlock, run *core.Run) error {
	_ = run
	logger := core.LoggerFromContext(ctx)
	for _, block := range blocks {
		logger.Log(ctx, p.level, "item admitted",
			"id", block.ID,
			"source", block.Source,
			"size", humanize.Bytes(uint64(max(block.Size, 0))),
			"errors", len(block.Errors),
		)
	}
	return nil
}
