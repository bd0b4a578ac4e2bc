package core

import (
	"context"
	"time"
)

type ProcessorType string

var TriggerProcessorType ProcessorType = "trigger_processor"
var SourceProcessorType ProcessorType = "source_processor"
var FilterProcessorType ProcessorType = "filter_processor"
var TransformProcessorType ProcessorType = "transform_processor"
var OutputProcessorType ProcessorType = "output_processor"

// Processor is the base interface that all processors must implement
type Processor interface {
	// Name returns the processor name
	Name() string
	// Validate checks if the processor configuration is valid
	Validate() error
}

// TriggerEvent represents a trigger firing
type TriggerEvent struct {
	FlowID    string
	Trigger   string
	Timestamp time.Time
	Metadata  map[string]interface{}
	// Done, when set, must be called once the run started by this event has
	// finished. Fixed-delay triggers wait for it before scheduling the next poll.
	Done func()
}

// Complete calls Done if the trigger asked to be told when the run finished.
func (e TriggerEvent) Complete() {
	if e.Done != nil {
		e.Done()
	}
}

// TriggerProcessor defines when a poll runs
type TriggerProcessor interface {
	Processor
	// Start begins the trigger and returns a channel of trigger events.
	// The channel is closed once ctx is done or Stop is called.
	Start(ctx context.Context, flowID string) (<-chan TriggerEvent, error)
	// Stop gracefully shuts down the trigger
	Stop() error
}

// SourceProcessor enumerates a resource and returns the items not seen before
type SourceProcessor interface {
	Processor
	Fetch(ctx context.Context) ([]*ItemBlock, error)
}

// FilterProcessor drops blocks that should not be dispatched.
// Returns the kept blocks with Filter populated.
type FilterProcessor interface {
	Processor
	Evaluate(ctx context.Context, blocks []*ItemBlock) ([]*ItemBlock, error)
}

// TransformProcessor enriches blocks in place
type TransformProcessor interface {
	Processor
	Transform(ctx context.Context, blocks []*ItemBlock) ([]*ItemBlock, error)
}

// OutputProcessor dispatches the blocks admitted by a run
type OutputProcessor interface {
	Processor
	Deliver(ctx context.Context, blocks []*ItemBlock, run *Run) error
}

// Committer is implemented by sources that defer durable bookkeeping until a
// run has delivered its blocks. The runner calls Commit after every output
// succeeded and Abort when the run failed.
type Committer interface {
	Commit(ctx context.Context) error
	Abort()
}
