package filter

import (
	"context"
	"testing"
	"time"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/core"
)

func TestRuleProcessorDropsMatchingBlocks(t *testing.T) {
	processor, err := NewRuleProcessor(&config.RuleFilter{Name: "no_tmp", Rule: `ext == ".tmp"`, Result: "drop"})
	if err != nil {
		t.Fatalf("expected rule to compile, got error: %v", err)
	}

	blocks := []*core.ItemBlock{
		{ID: "keep", Path: "/in/report.txt", Ext: ".txt"},
		{ID: "drop", Path: "/in/scratch.tmp", Ext: ".tmp"},
	}
	kept, err := processor.Evaluate(context.Background(), blocks)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(kept) != 1 || kept[0].ID != "keep" {
		t.Fatalf("expected only keep to remain, got %+v", kept)
	}
	if blocks[1].Filter == nil || blocks[1].Filter.Result != "drop" {
		t.Fatalf("expected dropped block to record the decision, got %+v", blocks[1].Filter)
	}
	if kept[0].Filter == nil || kept[0].Filter.Result != "pass" {
		t.Fatalf("expected kept block to record pass, got %+v", kept[0].Filter)
	}
}

func TestRuleProcessorPassKeepsOnlyMatches(t *testing.T) {
	processor, err := NewRuleProcessor(&config.RuleFilter{Name: "big", Rule: "size > 1024", Result: "pass"})
	if err != nil {
		t.Fatalf("expected rule to compile, got error: %v", err)
	}

	kept, err := processor.Evaluate(context.Background(), []*core.ItemBlock{
		{ID: "small", Size: 10},
		{ID: "large", Size: 4096},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(kept) != 1 || kept[0].ID != "large" {
		t.Fatalf("expected only large to remain, got %+v", kept)
	}
}

func TestRuleProcessorEvaluatesContentAndDir(t *testing.T) {
	processor, err := NewRuleProcessor(&config.RuleFilter{
		Name:   "empty_or_archive",
		Rule:   `content.length == 0 || dir == "/in/archive"`,
		Result: "drop",
	})
	if err != nil {
		t.Fatalf("expected rule to compile, got error: %v", err)
	}

	kept, err := processor.Evaluate(context.Background(), []*core.ItemBlock{
		{ID: "empty", Path: "/in/a.txt"},
		{ID: "archived", Path: "/in/archive/b.txt", Content: "x"},
		{ID: "fresh", Path: "/in/c.txt", Content: "hello", ModTime: time.Now()},
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(kept) != 1 || kept[0].ID != "fresh" {
		t.Fatalf("expected only fresh to remain, got %+v", kept)
	}
}

func TestRuleProcessorRejectsNonBoolRule(t *testing.T) {
	if _, err := NewRuleProcessor(&config.RuleFilter{Name: "bad", Rule: "size + 1", Result: "drop"}); err == nil {
		t.Fatalf("expected compile error for non-bool rule")
	}
}

func TestRuleProcessorRejectsUnknownField(t *testing.T) {
	if _, err := NewRuleProcessor(&config.RuleFilter{Name: "bad", Rule: "comments > 1", Result: "drop"}); err == nil {
		t.Fatalf("expected compile error for unknown field")
	}
}

func TestRuleProcessorKeepsBlockOnRuntimeError(t *testing.T) {
	processor, err := NewRuleProcessor(&config.RuleFilter{Name: "numeric_name", Rule: "int(name) > 1", Result: "drop"})
	if err != nil {
		t.Fatalf("expected rule to compile, got error: %v", err)
	}
	kept, err := processor.Evaluate(context.Background(), []*core.ItemBlock{{ID: "a", Name: "not-a-number"}})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("expected block to be kept on evaluation error, got %d", len(kept))
	}
	if len(kept[0].Errors) != 1 || kept[0].Errors[0].Stage != "filter" || kept[0].Errors[0].ProcessorName != "numeric_name" {
		t.Fatalf("expected a filter error on the block, got %+v", kept[0].Errors)
	}
}
