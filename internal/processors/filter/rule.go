package filter

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/bakkerme/filepoll/internal/config"
	"github.com/bakkerme/filepoll/internal/core"
)

// RuleProcessor evaluates an expr boolean against every admitted block.
type RuleProcessor struct {
	name    string
	config  config.RuleFilter
	program *vm.Program
}

func NewRuleProcessor(cfg *config.RuleFilter) (*RuleProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rule filter config is required")
	}
	program, err := expr.Compile(cfg.Rule, expr.Env(ruleEnv(&core.ItemBlock{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile rule: %w", err)
	}
	name := cfg.Name
	if name == "" {
		name = "rule"
	}
	return &RuleProcessor{
		name:    name,
		config:  *cfg,
		program: program,
	}, nil
}

func (p *RuleProcessor) Name() string {
	return p.name
}

func (p *RuleProcessor) Validate() error {
	if p.config.Rule == "" {
		return fmt.Errorf("rule expression is required")
	}
	if p.config.Result != "pass" && p.config.Result != "drop" {
		return fmt.Errorf("rule result must be pass or drop")
	}
	return nil
}

func (p *RuleProcessor) Evaluate(ctx context.Context, blocks []*core.ItemBlock) ([]*core.ItemBlock, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logger := core.LoggerFromContext(ctx)
	kept := make([]*core.ItemBlock, 0, len(blocks))

	for _, block := range blocks {
		result, err := expr.Run(p.program, ruleEnv(block))
		if err != nil {
			block.AddError(p.name, "filter", err)
			kept = append(kept, block)
			continue
		}
		matched, ok := result.(bool)
		if !ok {
			return nil, fmt.Errorf("rule %s did not return bool", p.name)
		}

		// drop: matching blocks go; pass: only matching blocks stay.
		keep := matched != (p.config.Result == "drop")
		block.Filter = &core.FilterResult{
			ProcessorName: p.name,
			Result:        "pass",
			ProcessedAt:   time.Now().UTC(),
		}
		if !keep {
			block.Filter.Result = "drop"
			block.Filter.Reason = p.config.Rule
			logger.Debug("block dropped by rule", "rule", p.name, "id", block.ID)
			continue
		}
		kept = append(kept, block)
	}

	return kept, nil
}

func ruleEnv(block *core.ItemBlock) map[string]interface{} {
	dir := ""
	if block.Path != "" {
		dir = filepath.Dir(block.Path)
	}
	return map[string]interface{}{
		"name":     block.Name,
		"path":     block.Path,
		"ext":      block.Ext,
		"dir":      dir,
		"size":     block.Size,
		"mod_time": block.ModTime,
		"source":   block.Source,
		"title":    block.Title,
		"url":      block.URL,
		"author":   block.Author,
		"content": map[string]interface{}{
			"value":  block.Content,
			"length": len(block.Content),
		},
	}
}
