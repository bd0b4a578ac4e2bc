package core

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func TestContextValuesRoundTrip(t *testing.T) {
	ctx := WithRunID(WithFlowID(context.Background(), "inbox"), "run-1")
	if got := FlowIDFromContext(ctx); got != "inbox" {
		t.Fatalf("FlowIDFromContext=%q want inbox", got)
	}
	if got := RunIDFromContext(ctx); got != "run-1" {
		t.Fatalf("RunIDFromContext=%q want run-1", got)
	}
	if got := RunIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty run id, got %q", got)
	}
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if LoggerFromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
	logger := slog.New(slog.NewTextHandler(nopWriter{}, nil))
	ctx := WithLogger(context.Background(), logger)
	if LoggerFromContext(ctx) != logger {
		t.Fatalf("expected attached logger")
	}
}

func TestItemBlockAddError(t *testing.T) {
	block := &ItemBlock{ID: "/in/a.txt"}
	block.AddError("rule", "filter", nil)
	if len(block.Errors) != 0 {
		t.Fatalf("nil error should not be recorded")
	}
	block.AddError("rule", "filter", errors.New("boom"))
	if len(block.Errors) != 1 || block.Errors[0].Stage != "filter" || block.Errors[0].Error != "boom" {
		t.Fatalf("unexpected errors: %#v", block.Errors)
	}
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
