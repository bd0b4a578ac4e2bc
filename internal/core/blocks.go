package core

import (
	"time"
)

// ItemBlock is one admitted item flowing through the pipeline: a file found
// by a directory scan or an entry read from a feed.
type ItemBlock struct {
	FlowID       string         `json:"flow_id" yaml:"flow_id"`
	ID           string         `json:"id" yaml:"id"` // dedupe identifier
	Source       string         `json:"source" yaml:"source"`
	Path         string         `json:"path,omitempty" yaml:"path,omitempty"`
	Name         string         `json:"name" yaml:"name"`
	Ext          string         `json:"ext,omitempty" yaml:"ext,omitempty"`
	URL          string         `json:"url,omitempty" yaml:"url,omitempty"`
	Title        string         `json:"title,omitempty" yaml:"title,omitempty"`
	Author       string         `json:"author,omitempty" yaml:"author,omitempty"`
	Size         int64          `json:"size" yaml:"size"`
	ModTime      time.Time      `json:"mod_time" yaml:"mod_time"`
	Hash         string         `json:"hash,omitempty" yaml:"hash,omitempty"`
	Content      string         `json:"content,omitempty" yaml:"content,omitempty"`
	HTML         string         `json:"html,omitempty" yaml:"html,omitempty"`
	Filter       *FilterResult  `json:"filter,omitempty" yaml:"filter,omitempty"`
	DiscoveredAt time.Time      `json:"discovered_at" yaml:"discovered_at"`
	Errors       []ProcessError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// FilterResult records the last filter decision made about a block
type FilterResult struct {
	ProcessorName string    `json:"processor_name" yaml:"processor_name"`
	Result        string    `json:"result" yaml:"result"` // "pass", "drop"
	Reason        string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	ProcessedAt   time.Time `json:"processed_at" yaml:"processed_at"`
}

// ProcessError tracks errors that occur during processing
type ProcessError struct {
	ProcessorName string    `json:"processor_name" yaml:"processor_name"`
	Stage         string    `json:"stage" yaml:"stage"` // "trigger", "source", "filter", "transform", "output"
	Error         string    `json:"error" yaml:"error"`
	OccurredAt    time.Time `json:"occurred_at" yaml:"occurred_at"`
}

// AddError appends a ProcessError for the given processor and stage.
func (b *ItemBlock) AddError(processor, stage string, err error) {
	if b == nil || err == nil {
		return
	}
	b.Errors = append(b.Errors, ProcessError{
		ProcessorName: processor,
		Stage:         stage,
		Error:         err.Error(),
		OccurredAt:    time.Now().UTC(),
	})
}
