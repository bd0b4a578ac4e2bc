package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bakkerme/filepoll/internal/core"
	"github.com/robfig/cron/v3"
)

// IntervalProcessor polls periodically after an optional initial delay.
//
// With fixedRate the cadence is kept by the cron scheduler regardless of run
// duration, at the exact period including sub-second ones. Without it each
// event carries a Done callback and the next poll is scheduled period after
// the run that consumed the previous event finished.
type IntervalProcessor struct {
	name         string
	period       time.Duration
	initialDelay time.Duration
	fixedRate    bool

	cron     *cron.Cron
	events   chan core.TriggerEvent
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewIntervalProcessor(period, initialDelay time.Duration, fixedRate bool) *IntervalProcessor {
	return &IntervalProcessor{
		name:         "interval",
		period:       period,
		initialDelay: initialDelay,
		fixedRate:    fixedRate,
	}
}

func (p *IntervalProcessor) Name() string {
	return p.name
}

func (p *IntervalProcessor) Validate() error {
	if p.period <= 0 {
		return fmt.Errorf("interval period must be positive")
	}
	if p.initialDelay < 0 {
		return fmt.Errorf("interval initial delay must be >= 0")
	}
	return nil
}

func (p *IntervalProcessor) Start(ctx context.Context, flowID string) (<-chan core.TriggerEvent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.events = make(chan core.TriggerEvent, 1)
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	if p.fixedRate {
		go p.runFixedRate(ctx, flowID)
	} else {
		go p.runFixedDelay(ctx, flowID)
	}
	return p.events, nil
}

func (p *IntervalProcessor) Stop() error {
	p.stopOnce.Do(func() {
		if p.stop == nil {
			return
		}
		close(p.stop)
		<-p.done
	})
	return nil
}

// fixedPeriod is a cron.Schedule firing every period. cron.Every truncates to
// whole seconds, which would turn 1500ms into 1s.
type fixedPeriod time.Duration

func (d fixedPeriod) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// wait blocks for d or until the trigger is stopped. It reports false on stop.
func (p *IntervalProcessor) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-p.stop:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-p.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (p *IntervalProcessor) emit(event core.TriggerEvent) bool {
	select {
	case p.events <- event:
		return true
	default:
		return false
	}
}

func (p *IntervalProcessor) runFixedRate(ctx context.Context, flowID string) {
	defer close(p.done)
	defer close(p.events)

	if !p.wait(ctx, p.initialDelay) {
		return
	}
	p.emit(core.TriggerEvent{FlowID: flowID, Trigger: p.name, Timestamp: time.Now().UTC()})

	ticks := make(chan time.Time, 1)
	p.cron = cron.New()
	p.cron.Schedule(fixedPeriod(p.period), cron.FuncJob(func() {
		select {
		case ticks <- time.Now().UTC():
		default:
		}
	}))
	p.cron.Start()
	defer func() { <-p.cron.Stop().Done() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case at := <-ticks:
			p.emit(core.TriggerEvent{FlowID: flowID, Trigger: p.name, Timestamp: at})
		}
	}
}

func (p *IntervalProcessor) runFixedDelay(ctx context.Context, flowID string) {
	defer close(p.done)
	defer close(p.events)

	if !p.wait(ctx, p.initialDelay) {
		return
	}
	for {
		finished := make(chan struct{})
		var once sync.Once
		event := core.TriggerEvent{
			FlowID:    flowID,
			Trigger:   p.name,
			Timestamp: time.Now().UTC(),
			Done:      func() { once.Do(func() { close(finished) }) },
		}
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case p.events <- event:
		}
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-finished:
		}
		if !p.wait(ctx, p.period) {
			return
		}
	}
}
