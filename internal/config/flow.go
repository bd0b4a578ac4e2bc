package config

import (
	"fmt"
	"time"

	"github.com/bakkerme/filepoll/internal/core"
)

// ParseToFlowWithFactory validates the document and builds a runnable flow,
// constructing every processor through factory. Construction errors (bad
// cron expressions, invalid capacities, unreadable stores) surface here, at
// startup, rather than on the first poll.
func (d *PollerDocument) ParseToFlowWithFactory(factory ProcessorFactory) (*core.Flow, error) {
	if factory == nil {
		return nil, fmt.Errorf("processor factory is required")
	}
	parsed, err := d.Parse()
	if err != nil {
		return nil, err
	}

	flow := &core.Flow{
		Name:           parsed.Name,
		Version:        parsed.Version,
		CreatedAt:      time.Now().UTC(),
		Status:         core.FlowStatusWaiting,
		MaxConcurrency: d.Workflow.MaxConcurrency,
	}

	for _, p := range parsed.Triggers {
		var trigger core.TriggerProcessor
		switch cfg := p.Config.(type) {
		case *CronTrigger:
			trigger, err = factory.NewCronTrigger(cfg)
		case *IntervalTrigger:
			trigger, err = factory.NewIntervalTrigger(cfg)
		case *WatchTrigger:
			trigger, err = factory.NewWatchTrigger(cfg)
		default:
			err = fmt.Errorf("unsupported trigger config %T", p.Config)
		}
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", p.Name, err)
		}
		flow.Triggers = append(flow.Triggers, trigger)
	}

	for _, p := range parsed.Sources {
		var source core.SourceProcessor
		switch cfg := p.Config.(type) {
		case *DirectorySource:
			source, err = factory.NewDirectorySource(cfg)
		case *RSSSource:
			source, err = factory.NewRSSSource(cfg)
		default:
			err = fmt.Errorf("unsupported source config %T", p.Config)
		}
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", p.Name, err)
		}
		flow.Sources = append(flow.Sources, source)
	}

	for _, p := range parsed.Processors {
		switch cfg := p.Config.(type) {
		case *RuleFilter:
			filter, err := factory.NewRuleFilter(cfg)
			if err != nil {
				return nil, fmt.Errorf("filter %s: %w", p.Name, err)
			}
			flow.Filters = append(flow.Filters, filter)
		case *MarkdownTransform:
			transform, err := factory.NewMarkdownTransform(cfg)
			if err != nil {
				return nil, fmt.Errorf("transform %s: %w", p.Name, err)
			}
			flow.Transforms = append(flow.Transforms, transform)
		default:
			return nil, fmt.Errorf("unsupported processor config %T", p.Config)
		}
	}

	for _, p := range parsed.Outputs {
		var output core.OutputProcessor
		switch cfg := p.Config.(type) {
		case *EmailOutput:
			output, err = factory.NewEmailOutput(cfg)
		case *ManifestOutput:
			output, err = factory.NewManifestOutput(cfg)
		case *LogOutput:
			output, err = factory.NewLogOutput(cfg)
		default:
			err = fmt.Errorf("unsupported output config %T", p.Config)
		}
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", p.Name, err)
		}
		flow.Outputs = append(flow.Outputs, output)
	}

	return flow, nil
}
