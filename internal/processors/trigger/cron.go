package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bakkerme/filepoll/internal/core"
	"github.com/robfig/cron/v3"
)

// CronProcessor fires on a cron schedule. A fire that lands while the previous
// event is still unconsumed is dropped, so slow polls never pile up.
type CronProcessor struct {
	name     string
	spec     string
	timezone string

	schedule cron.Schedule
	location *time.Location
	cron     *cron.Cron
	events   chan core.TriggerEvent
	stop     chan struct{}
	released chan struct{} // closed once the ctx watcher has exited
	stopOnce sync.Once
}

func NewCronProcessor(schedule, timezone string) *CronProcessor {
	return &CronProcessor{
		name:     "cron",
		spec:     schedule,
		timezone: timezone,
	}
}

func (c *CronProcessor) Name() string {
	return c.name
}

// Validate parses the schedule and timezone, caching both for Start.
func (c *CronProcessor) Validate() error {
	if c.spec == "" {
		return fmt.Errorf("cron schedule is required")
	}
	location := time.UTC
	if c.timezone != "" {
		tz, err := time.LoadLocation(c.timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
		location = tz
	}
	schedule, err := cron.ParseStandard(c.spec)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", c.spec, err)
	}
	c.schedule, c.location = schedule, location
	return nil
}

func (c *CronProcessor) Start(ctx context.Context, flowID string) (<-chan core.TriggerEvent, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	c.events = make(chan core.TriggerEvent, 1)
	c.stop = make(chan struct{})
	c.released = make(chan struct{})
	c.cron = cron.New(cron.WithLocation(c.location))
	c.cron.Schedule(c.schedule, cron.FuncJob(func() {
		now := time.Now().In(c.location)
		event := core.TriggerEvent{
			FlowID:    flowID,
			Trigger:   c.name,
			Timestamp: now.UTC(),
			Metadata:  map[string]interface{}{"schedule": c.spec, "next": c.schedule.Next(now).UTC()},
		}
		select {
		case c.events <- event:
		default:
		}
	}))
	c.cron.Start()

	go func() {
		defer close(c.released)
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-c.stop:
		}
	}()

	return c.events, nil
}

func (c *CronProcessor) Stop() error {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
		}
		if c.cron != nil {
			// Wait for a job mid-send before closing the channel under it.
			<-c.cron.Stop().Done()
		}
		if c.events != nil {
			close(c.events)
		}
	})
	return nil
}
