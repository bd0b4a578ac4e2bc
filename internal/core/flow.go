package core

import (
	"time"
)

// Flow represents the internal structure of a parsed Poller Document.
// It holds the processors of every stage in execution order.
type Flow struct {
	ID             string               `json:"id" yaml:"id"`
	Name           string               `json:"name" yaml:"name"`
	Version        string               `json:"version,omitempty" yaml:"version,omitempty"`
	CreatedAt      time.Time            `json:"created_at" yaml:"created_at"`
	Status         FlowStatus           `json:"status" yaml:"status"`
	MaxConcurrency int                  `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`
	Triggers       []TriggerProcessor   `json:"-" yaml:"-"`
	Sources        []SourceProcessor    `json:"-" yaml:"-"`
	Filters        []FilterProcessor    `json:"-" yaml:"-"`
	Transforms     []TransformProcessor `json:"-" yaml:"-"`
	Outputs        []OutputProcessor    `json:"-" yaml:"-"`
}

// FlowStatus represents the current state of a flow
type FlowStatus string

const (
	FlowStatusWaiting   FlowStatus = "waiting"
	FlowStatusRunning   FlowStatus = "running"
	FlowStatusCompleted FlowStatus = "completed"
	FlowStatusFailed    FlowStatus = "failed"
	FlowStatusCancelled FlowStatus = "cancelled"
)

// Run represents a single poll cycle of a Flow
type Run struct {
	ID          string         `json:"id" yaml:"id"`
	FlowID      string         `json:"flow_id" yaml:"flow_id"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status      RunStatus      `json:"status" yaml:"status"`
	TriggerType string         `json:"trigger_type" yaml:"trigger_type"`
	Blocks      []*ItemBlock   `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	Errors      []ProcessError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// RunStatus represents the current state of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)
