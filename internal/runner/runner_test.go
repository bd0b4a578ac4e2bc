package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bakkerme/filepoll/internal/core"
)

type stubSource struct {
	name   string
	blocks []*core.ItemBlock
	err    error
	delay  time.Duration
	active *int32
	peak   *int32
}

func (s *stubSource) Name() string    { return s.name }
func (s *stubSource) Validate() error { return nil }

func (s *stubSource) Fetch(ctx context.Context) ([]*core.ItemBlock, error) {
	if s.active != nil {
		n := atomic.AddInt32(s.active, 1)
		defer atomic.AddInt32(s.active, -1)
		for {
			peak := atomic.LoadInt32(s.peak)
			if n <= peak || atomic.CompareAndSwapInt32(s.peak, peak, n) {
				break
			}
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.blocks, nil
}

type recordingOutput struct {
	mu     sync.Mutex
	runs   []*core.Run
	blocks [][]*core.ItemBlock
	ctxIDs []string
	err    error
}

func (o *recordingOutput) Name() string    { return "recording" }
func (o *recordingOutput) Validate() error { return nil }

func (o *recordingOutput) Deliver(ctx context.Context, blocks []*core.ItemBlock, run *core.Run) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, run)
	o.blocks = append(o.blocks, blocks)
	o.ctxIDs = append(o.ctxIDs, core.RunIDFromContext(ctx))
	return o.err
}

func (o *recordingOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

type dropAll struct{}

func (dropAll) Name() string    { return "drop_all" }
func (dropAll) Validate() error { return nil }
func (dropAll) Evaluate(ctx context.Context, blocks []*core.ItemBlock) ([]*core.ItemBlock, error) {
	return []*core.ItemBlock{}, nil
}

type upperTitle struct{}

func (upperTitle) Name() string    { return "mark" }
func (upperTitle) Validate() error { return nil }
func (upperTitle) Transform(ctx context.Context, blocks []*core.ItemBlock) ([]*core.ItemBlock, error) {
	for _, b := range blocks {
		b.HTML = "<p>" + b.Name + "</p>"
	}
	return blocks, nil
}

func TestRunOnceExecutesStagesInOrder(t *testing.T) {
	out := &recordingOutput{}
	flow := &core.Flow{
		ID:         "flow-1",
		Sources:    []core.SourceProcessor{&stubSource{name: "a", blocks: []*core.ItemBlock{{ID: "1", Name: "one"}}}, &stubSource{name: "b", blocks: []*core.ItemBlock{{ID: "2", Name: "two"}}}},
		Transforms: []core.TransformProcessor{upperTitle{}},
		Outputs:    []core.OutputProcessor{out},
	}

	run, err := New(nil).RunOnce(context.Background(), flow)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if run.Status != core.RunStatusCompleted || run.CompletedAt == nil {
		t.Fatalf("unexpected run state %+v", run)
	}
	if run.ID == "" || run.TriggerType != "manual" || run.FlowID != "flow-1" {
		t.Fatalf("unexpected run identity %+v", run)
	}
	if len(run.Blocks) != 2 || run.Blocks[0].ID != "1" || run.Blocks[1].ID != "2" {
		t.Fatalf("expected blocks in source order, got %+v", run.Blocks)
	}
	if run.Blocks[0].HTML != "<p>one</p>" {
		t.Fatalf("expected transform applied, got %q", run.Blocks[0].HTML)
	}
	if out.count() != 1 || out.ctxIDs[0] != run.ID {
		t.Fatalf("expected output to see the run id in context, got %v", out.ctxIDs)
	}
	if flow.Status != core.FlowStatusCompleted {
		t.Fatalf("expected flow status completed, got %q", flow.Status)
	}
}

func TestRunOnceUsesDistinctRunIDs(t *testing.T) {
	flow := &core.Flow{ID: "f", Outputs: []core.OutputProcessor{&recordingOutput{}}}
	r := New(nil)
	first, err := r.RunOnce(context.Background(), flow)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	second, err := r.RunOnce(context.Background(), flow)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct run ids, both %q", first.ID)
	}
}

func TestRunOnceFiltersBeforeOutputs(t *testing.T) {
	out := &recordingOutput{}
	flow := &core.Flow{
		Sources: []core.SourceProcessor{&stubSource{name: "a", blocks: []*core.ItemBlock{{ID: "1"}}}},
		Filters: []core.FilterProcessor{dropAll{}},
		Outputs: []core.OutputProcessor{out},
	}
	run, err := New(nil).RunOnce(context.Background(), flow)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(run.Blocks) != 0 || len(out.blocks[0]) != 0 {
		t.Fatalf("expected filter to remove every block")
	}
}

func TestRunOnceSourceErrorFailsRun(t *testing.T) {
	out := &recordingOutput{}
	flow := &core.Flow{
		Sources: []core.SourceProcessor{&stubSource{name: "ok"}, &stubSource{name: "bad", err: errors.New("scan failed")}},
		Outputs: []core.OutputProcessor{out},
	}
	run, err := New(nil).RunOnce(context.Background(), flow)
	if err == nil {
		t.Fatalf("expected error")
	}
	if run.Status != core.RunStatusFailed {
		t.Fatalf("expected failed status, got %q", run.Status)
	}
	if out.count() != 0 {
		t.Fatalf("outputs must not run after a source failure")
	}
}

func TestRunOnceAllowsPartialSourceErrors(t *testing.T) {
	out := &recordingOutput{}
	flow := &core.Flow{
		Sources: []core.SourceProcessor{
			&stubSource{name: "ok", blocks: []*core.ItemBlock{{ID: "1"}}},
			&stubSource{name: "bad", err: errors.New("scan failed")},
		},
		Outputs: []core.OutputProcessor{out},
	}
	run, err := NewWithConfig(nil, Config{AllowPartialSourceErrors: true}).RunOnce(context.Background(), flow)
	if err != nil {
		t.Fatalf("expected partial success, got %v", err)
	}
	if len(run.Blocks) != 1 || len(run.Errors) != 1 || run.Errors[0].ProcessorName != "bad" {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestRunOnceFailsWhenEverySourceFails(t *testing.T) {
	flow := &core.Flow{
		Sources: []core.SourceProcessor{&stubSource{name: "bad", err: errors.New("scan failed")}},
	}
	if _, err := NewWithConfig(nil, Config{AllowPartialSourceErrors: true}).RunOnce(context.Background(), flow); err == nil {
		t.Fatalf("expected error when every source fails")
	}
}

func TestRunOnceOutputError(t *testing.T) {
	flow := &core.Flow{Outputs: []core.OutputProcessor{&recordingOutput{err: errors.New("smtp down")}}}
	run, err := New(nil).RunOnce(context.Background(), flow)
	if err == nil || run.Status != core.RunStatusFailed {
		t.Fatalf("expected failed run, got %v / %+v", err, run)
	}
}

func TestRunOnceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	flow := &core.Flow{Sources: []core.SourceProcessor{&stubSource{name: "a", err: context.Canceled}}}
	run, err := New(nil).RunOnce(ctx, flow)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if run.Status != core.RunStatusCancelled {
		t.Fatalf("expected cancelled status, got %q", run.Status)
	}
}

func TestRunOnceBoundsSourceConcurrency(t *testing.T) {
	var active, peak int32
	sources := []core.SourceProcessor{}
	for i := 0; i < 6; i++ {
		sources = append(sources, &stubSource{name: "s", delay: 20 * time.Millisecond, active: &active, peak: &peak})
	}
	flow := &core.Flow{MaxConcurrency: 2, Sources: sources}
	if _, err := New(nil).RunOnce(context.Background(), flow); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := atomic.LoadInt32(&peak); got > 2 || got < 1 {
		t.Fatalf("expected at most 2 concurrent fetches, saw %d", got)
	}
}

func TestRunOnceSerialisesRunsOfAFlow(t *testing.T) {
	var active, peak int32
	flow := &core.Flow{Sources: []core.SourceProcessor{&stubSource{name: "s", delay: 10 * time.Millisecond, active: &active, peak: &peak}}}
	r := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.RunOnce(context.Background(), flow); err != nil {
				t.Errorf("run failed: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&peak); got != 1 {
		t.Fatalf("expected runs of one flow to be serialised, saw %d concurrent", got)
	}
}

type chanTrigger struct {
	events chan core.TriggerEvent
}

func (c *chanTrigger) Name() string    { return "test" }
func (c *chanTrigger) Validate() error { return nil }
func (c *chanTrigger) Start(ctx context.Context, flowID string) (<-chan core.TriggerEvent, error) {
	return c.events, nil
}
func (c *chanTrigger) Stop() error { return nil }

func TestStartRunsOnEventsAndCompletesThem(t *testing.T) {
	out := &recordingOutput{}
	trigger := &chanTrigger{events: make(chan core.TriggerEvent, 1)}
	flow := &core.Flow{ID: "f", Triggers: []core.TriggerProcessor{trigger}, Outputs: []core.OutputProcessor{out}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(nil)
	if err := r.Start(ctx, flow); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	done := make(chan struct{})
	trigger.events <- core.TriggerEvent{FlowID: "f", Trigger: "interval", Done: func() { close(done) }}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the event to be completed after the run")
	}
	if out.count() != 1 || out.runs[0].TriggerType != "interval" {
		t.Fatalf("expected one run triggered by interval, got %d", out.count())
	}

	close(trigger.events)
	r.Wait()
}

func TestStartRequiresTriggers(t *testing.T) {
	if err := New(nil).Start(context.Background(), &core.Flow{ID: "f"}); err == nil {
		t.Fatalf("expected error for a flow without triggers")
	}
}

type committingSource struct {
	stubSource
	commits   int
	aborts    int
	commitErr error
}

func (s *committingSource) Commit(ctx context.Context) error {
	s.commits++
	return s.commitErr
}

func (s *committingSource) Abort() {
	s.aborts++
}

func TestRunOnceCommitsSourcesAfterOutputs(t *testing.T) {
	source := &committingSource{stubSource: stubSource{name: "dir", blocks: []*core.ItemBlock{{ID: "/in/a"}}}}
	output := &recordingOutput{}
	flow := &core.Flow{ID: "f", Sources: []core.SourceProcessor{source}, Outputs: []core.OutputProcessor{output}}

	if _, err := New(nil).RunOnce(context.Background(), flow); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if source.commits != 1 || source.aborts != 0 {
		t.Fatalf("expected one commit, got commits=%d aborts=%d", source.commits, source.aborts)
	}
}

func TestRunOnceAbortsSourcesWhenOutputFails(t *testing.T) {
	source := &committingSource{stubSource: stubSource{name: "dir", blocks: []*core.ItemBlock{{ID: "/in/a"}}}}
	output := &recordingOutput{err: errors.New("smtp down")}
	flow := &core.Flow{ID: "f", Sources: []core.SourceProcessor{source}, Outputs: []core.OutputProcessor{output}}

	run, err := New(nil).RunOnce(context.Background(), flow)
	if err == nil {
		t.Fatalf("expected output error")
	}
	if run.Status != core.RunStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if source.commits != 0 || source.aborts != 1 {
		t.Fatalf("expected one abort, got commits=%d aborts=%d", source.commits, source.aborts)
	}
}

func TestRunOnceCommitErrorFailsRun(t *testing.T) {
	failing := &committingSource{stubSource: stubSource{name: "a"}, commitErr: errors.New("disk full")}
	other := &committingSource{stubSource: stubSource{name: "b"}}
	flow := &core.Flow{ID: "f", Sources: []core.SourceProcessor{failing, other}, Outputs: []core.OutputProcessor{&recordingOutput{}}}

	if _, err := New(nil).RunOnce(context.Background(), flow); err == nil {
		t.Fatalf("expected commit error")
	}
	if other.commits != 1 {
		t.Fatalf("a failed commit must not skip later sources, got %d commits", other.commits)
	}
}
