package progress

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/timmy/gradeflow/internal/backend"
	"github.com/timmy/gradeflow/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(ms int64) {
	f.mu.Lock()
	f.t = f.t.Add(time.Duration(ms) * time.Millisecond)
	f.mu.Unlock()
}

// fakeBackend scripts each phase. Unset phases succeed after advancing the clock.
type fakeBackend struct {
	clock *fakeClock

	upload  func(ctx context.Context, req *backend.UploadRequest) (*backend.UploadResult, error)
	analyze func(ctx context.Context, jobID string) (*backend.PhaseResult, error)
	run     func(ctx context.Context, jobID string) (*backend.PhaseResult, error)
	persist func(ctx context.Context, jobID string, totalMs int64) error

	mu        sync.Mutex
	calls     []string
	persisted []int64
}

func ms(v int64) *int64 { return &v }

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Upload(ctx context.Context, req *backend.UploadRequest) (*backend.UploadResult, error) {
	f.record("upload")
	if f.upload != nil {
		return f.upload(ctx, req)
	}
	f.clock.Advance(200)
	return &backend.UploadResult{JobID: "job-1", ElapsedMs: ms(200)}, nil
}

func (f *fakeBackend) Analyze(ctx context.Context, jobID string, preview bool) (*backend.PhaseResult, error) {
	f.record("analyze:" + jobID)
	if f.analyze != nil {
		return f.analyze(ctx, jobID)
	}
	f.clock.Advance(300)
	return &backend.PhaseResult{ElapsedMs: ms(300)}, nil
}

func (f *fakeBackend) Run(ctx context.Context, jobID string, preview bool) (*backend.PhaseResult, error) {
	f.record("run:" + jobID)
	if f.run != nil {
		return f.run(ctx, jobID)
	}
	f.clock.Advance(500)
	return &backend.PhaseResult{ElapsedMs: ms(500)}, nil
}

func (f *fakeBackend) PersistElapsedTime(ctx context.Context, jobID string, totalMs int64) error {
	f.record("persist:" + jobID)
	f.mu.Lock()
	f.persisted = append(f.persisted, totalMs)
	f.mu.Unlock()
	if f.persist != nil {
		return f.persist(ctx, jobID, totalMs)
	}
	return nil
}

type recorderFunc func(ctx context.Context, outcome domain.RunOutcome) error

func (f recorderFunc) Record(ctx context.Context, outcome domain.RunOutcome) error {
	return f(ctx, outcome)
}

func newTestController(b *fakeBackend, rec OutcomeRecorder) *Controller {
	return NewController(b, &Options{
		TickInterval:    time.Millisecond,
		CompletionDelay: 5 * time.Millisecond,
		Now:             b.clock.Now,
		Recorder:        rec,
	})
}

func essayConfig() domain.JobConfig {
	return domain.JobConfig{
		File:      &domain.FilePayload{Name: "essay.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
		StudentID: "student-7",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type startResult struct {
	jobID string
	ok    bool
}

func startAsync(c *Controller, cfg domain.JobConfig) <-chan startResult {
	out := make(chan startResult, 1)
	go func() {
		jobID, ok := c.Start(context.Background(), cfg)
		out <- startResult{jobID: jobID, ok: ok}
	}()
	return out
}

func awaitResult(t *testing.T, ch <-chan startResult) startResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
		return startResult{}
	}
}

func TestStartSuccessRecordsPhaseTimes(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	c := newTestController(b, nil)

	jobID, ok := c.Start(context.Background(), essayConfig())
	if !ok || jobID != "job-1" {
		t.Fatalf("Start = (%q, %v), want (job-1, true)", jobID, ok)
	}

	state := c.State()
	if state.Step != domain.StepCompleted {
		t.Errorf("step = %s, want completed", state.Step)
	}
	if state.Error != "" {
		t.Errorf("unexpected error %q", state.Error)
	}
	if !state.IsOpen {
		t.Error("dialog should stay open until Close")
	}
	if state.JobID != "job-1" {
		t.Errorf("job id = %q", state.JobID)
	}

	want := domain.PhaseTimes{
		{Phase: domain.StepUploading, ElapsedMs: 200},
		{Phase: domain.StepExtracting, ElapsedMs: 300},
		{Phase: domain.StepGrading, ElapsedMs: 500},
	}
	if !reflect.DeepEqual(state.PhaseTimes, want) {
		t.Errorf("phase times = %v, want %v", state.PhaseTimes, want)
	}
	if state.PhaseElapsedMs == nil || *state.PhaseElapsedMs != 500 {
		t.Errorf("phase elapsed = %v, want 500", state.PhaseElapsedMs)
	}
	if state.TotalElapsedMs < 1000 {
		t.Errorf("total elapsed = %d, want >= 1000", state.TotalElapsedMs)
	}

	wantCalls := []string{"upload", "analyze:job-1", "run:job-1", "persist:job-1"}
	if got := b.Calls(); !reflect.DeepEqual(got, wantCalls) {
		t.Errorf("calls = %v, want %v", got, wantCalls)
	}
	if len(b.persisted) != 1 || b.persisted[0] != 1000 {
		t.Errorf("persisted = %v, want [1000]", b.persisted)
	}
}

func TestStepsAdvanceMonotonically(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	c := newTestController(b, nil)

	if _, ok := c.Start(context.Background(), essayConfig()); !ok {
		t.Fatal("expected success")
	}

	var steps []domain.Step
	for _, ev := range c.Events(0) {
		if len(steps) == 0 || steps[len(steps)-1] != ev.State.Step {
			steps = append(steps, ev.State.Step)
		}
	}
	want := []domain.Step{domain.StepUploading, domain.StepExtracting, domain.StepGrading, domain.StepCompleted}
	if !reflect.DeepEqual(steps, want) {
		t.Errorf("observed steps = %v, want %v", steps, want)
	}
}

func TestPhaseReportedErrorStopsRun(t *testing.T) {
	tests := []struct {
		name       string
		failAt     domain.Step
		wantTimes  []domain.Step
		wantCalls  []string
		wantErr    string
		wantPhaseE *int64
	}{
		{
			name:      "upload",
			failAt:    domain.StepUploading,
			wantTimes: []domain.Step{},
			wantCalls: []string{"upload"},
			wantErr:   "unsupported file type",
		},
		{
			name:       "analyze",
			failAt:     domain.StepExtracting,
			wantTimes:  []domain.Step{domain.StepUploading},
			wantCalls:  []string{"upload", "analyze:job-1"},
			wantErr:    "context analysis failed",
			wantPhaseE: ms(150),
		},
		{
			name:      "run",
			failAt:    domain.StepGrading,
			wantTimes: []domain.Step{domain.StepUploading, domain.StepExtracting},
			wantCalls: []string{"upload", "analyze:job-1", "run:job-1"},
			wantErr:   "model quota exceeded",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{clock: newFakeClock()}
			switch tc.failAt {
			case domain.StepUploading:
				b.upload = func(context.Context, *backend.UploadRequest) (*backend.UploadResult, error) {
					return &backend.UploadResult{Error: tc.wantErr}, nil
				}
			case domain.StepExtracting:
				b.analyze = func(context.Context, string) (*backend.PhaseResult, error) {
					return &backend.PhaseResult{Error: tc.wantErr, ElapsedMs: ms(150)}, nil
				}
			case domain.StepGrading:
				b.run = func(context.Context, string) (*backend.PhaseResult, error) {
					return &backend.PhaseResult{Error: tc.wantErr}, nil
				}
			}
			c := newTestController(b, nil)

			jobID, ok := c.Start(context.Background(), essayConfig())
			if ok || jobID != "" {
				t.Fatalf("Start = (%q, %v), want (\"\", false)", jobID, ok)
			}

			state := c.State()
			if state.Error != tc.wantErr {
				t.Errorf("error = %q, want %q", state.Error, tc.wantErr)
			}
			if tc.wantPhaseE != nil && (state.PhaseElapsedMs == nil || *state.PhaseElapsedMs != *tc.wantPhaseE) {
				t.Errorf("phase elapsed = %v, want %d", state.PhaseElapsedMs, *tc.wantPhaseE)
			}
			if got := state.PhaseTimes.Keys(); !reflect.DeepEqual(got, tc.wantTimes) {
				t.Errorf("phase times = %v, want %v", got, tc.wantTimes)
			}
			if got := b.Calls(); !reflect.DeepEqual(got, tc.wantCalls) {
				t.Errorf("calls = %v, want %v", got, tc.wantCalls)
			}
			if !state.IsOpen {
				t.Error("dialog should stay open to show the error")
			}
			for _, ev := range c.Events(0) {
				if ev.State.Step.Rank() > tc.failAt.Rank() {
					t.Errorf("step %s observed after failure at %s", ev.State.Step, tc.failAt)
				}
			}
		})
	}
}

func TestUnexpectedErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr string
	}{
		{name: "with message", err: errors.New("connection refused"), wantErr: "connection refused"},
		{name: "empty message", err: errors.New(""), wantErr: unexpectedErrorMessage},
		{name: "deadline is not a cancellation", err: context.DeadlineExceeded, wantErr: "context deadline exceeded"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{clock: newFakeClock()}
			b.run = func(context.Context, string) (*backend.PhaseResult, error) {
				return nil, tc.err
			}
			c := newTestController(b, nil)

			if _, ok := c.Start(context.Background(), essayConfig()); ok {
				t.Fatal("expected failure")
			}
			state := c.State()
			if state.Error != tc.wantErr {
				t.Errorf("error = %q, want %q", state.Error, tc.wantErr)
			}
			if state.Step != domain.StepNone {
				t.Errorf("step = %s, want none", state.Step)
			}
		})
	}
}

func TestPanicInBackendBecomesError(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	b.analyze = func(context.Context, string) (*backend.PhaseResult, error) {
		panic("nil pointer in analyzer")
	}
	c := newTestController(b, nil)

	if _, ok := c.Start(context.Background(), essayConfig()); ok {
		t.Fatal("expected failure")
	}
	if got := c.State().Error; got != "nil pointer in analyzer" {
		t.Errorf("error = %q", got)
	}
}

func TestCancelBeforeAnyPhaseResolves(t *testing.T) {
	entered := make(chan struct{})
	b := &fakeBackend{clock: newFakeClock()}
	b.upload = func(ctx context.Context, _ *backend.UploadRequest) (*backend.UploadResult, error) {
		close(entered)
		<-ctx.Done()
		return nil, fmt.Errorf("upload request failed: %w", ctx.Err())
	}
	c := newTestController(b, nil)

	done := startAsync(c, essayConfig())
	<-entered
	c.Cancel()

	res := awaitResult(t, done)
	if res.ok || res.jobID != "" {
		t.Fatalf("Start = %+v, want null result", res)
	}
	state := c.State()
	if state.Error != "" {
		t.Errorf("error = %q, want none", state.Error)
	}
	if len(state.PhaseTimes) != 0 {
		t.Errorf("phase times = %v, want empty", state.PhaseTimes)
	}
	if got := b.Calls(); !reflect.DeepEqual(got, []string{"upload"}) {
		t.Errorf("calls = %v", got)
	}
}

func TestCancelDuringRunPhaseDiscardsLateResponse(t *testing.T) {
	entered := make(chan struct{})
	b := &fakeBackend{clock: newFakeClock()}
	b.run = func(ctx context.Context, _ string) (*backend.PhaseResult, error) {
		close(entered)
		<-ctx.Done()
		// late success that ignores the abort
		return &backend.PhaseResult{ElapsedMs: ms(500)}, nil
	}
	c := newTestController(b, nil)

	done := startAsync(c, essayConfig())
	<-entered
	c.Cancel()
	c.Cancel()

	res := awaitResult(t, done)
	if res.ok {
		t.Fatalf("Start = %+v, want null result", res)
	}
	state := c.State()
	if state.Error != "" {
		t.Errorf("error = %q, want none", state.Error)
	}
	if _, ok := state.PhaseTimes.Get(domain.StepGrading); ok {
		t.Error("late grading response was recorded")
	}
	if state.Step != domain.StepGrading {
		t.Errorf("step = %s, want grading to remain until close", state.Step)
	}
	for _, ev := range c.Events(0) {
		if ev.State.Step == domain.StepCompleted {
			t.Fatal("completed step observed after cancel")
		}
	}
	for _, call := range b.Calls() {
		if call == "persist:job-1" {
			t.Error("persist called for cancelled run")
		}
	}
}

func TestCancelDuringCompletionDelay(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	c := NewController(b, &Options{
		TickInterval:    time.Millisecond,
		CompletionDelay: time.Minute,
		Now:             b.clock.Now,
	})

	done := startAsync(c, essayConfig())
	waitFor(t, "completed step", func() bool { return c.State().Step == domain.StepCompleted })
	c.Cancel()

	if res := awaitResult(t, done); res.ok {
		t.Fatalf("Start = %+v, want null result", res)
	}
	if c.State().Error != "" {
		t.Error("cancel during display delay must not set an error")
	}
	for _, call := range b.Calls() {
		if call == "persist:job-1" {
			t.Error("persist called for cancelled run")
		}
	}
}

func TestCancelAfterCompletionHasNoEffect(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	c := newTestController(b, nil)

	if _, ok := c.Start(context.Background(), essayConfig()); !ok {
		t.Fatal("expected success")
	}
	before := c.State()
	lastSeq := c.events.LastSeq()

	c.Cancel()
	c.Cancel()

	if after := c.State(); !reflect.DeepEqual(before, after) {
		t.Errorf("state changed by late cancel:\nbefore %+v\nafter  %+v", before, after)
	}
	if got := c.events.LastSeq(); got != lastSeq {
		t.Errorf("late cancel published events (%d -> %d)", lastSeq, got)
	}
}

func TestCloseAlwaysResets(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, c *Controller, b *fakeBackend)
	}{
		{
			name:  "idle",
			setup: func(*testing.T, *Controller, *fakeBackend) {},
		},
		{
			name: "after success",
			setup: func(t *testing.T, c *Controller, _ *fakeBackend) {
				if _, ok := c.Start(context.Background(), essayConfig()); !ok {
					t.Fatal("expected success")
				}
			},
		},
		{
			name: "after failure",
			setup: func(t *testing.T, c *Controller, b *fakeBackend) {
				b.analyze = func(context.Context, string) (*backend.PhaseResult, error) {
					return &backend.PhaseResult{Error: "bad template"}, nil
				}
				c.Start(context.Background(), essayConfig())
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBackend{clock: newFakeClock()}
			c := newTestController(b, nil)
			tc.setup(t, c, b)

			c.Close()
			assertClosed(t, c.State())
		})
	}
}

func TestCloseWhileRunning(t *testing.T) {
	entered := make(chan struct{})
	b := &fakeBackend{clock: newFakeClock()}
	b.analyze = func(ctx context.Context, _ string) (*backend.PhaseResult, error) {
		close(entered)
		<-ctx.Done()
		return &backend.PhaseResult{Error: "late failure"}, nil
	}
	c := newTestController(b, nil)

	done := startAsync(c, essayConfig())
	<-entered
	c.Close()

	if res := awaitResult(t, done); res.ok {
		t.Fatalf("Start = %+v, want null result", res)
	}
	assertClosed(t, c.State())
}

func assertClosed(t *testing.T, state domain.ProgressState) {
	t.Helper()
	if state.IsOpen {
		t.Error("IsOpen should be false after Close")
	}
	if len(state.PhaseTimes) != 0 {
		t.Errorf("phase times = %v, want empty", state.PhaseTimes)
	}
	if state.Step != domain.StepNone || state.Error != "" || state.PhaseElapsedMs != nil || state.TotalElapsedMs != 0 {
		t.Errorf("state not reset: %+v", state)
	}
}

func TestPersistFailureDoesNotFailRun(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	b.persist = func(context.Context, string, int64) error {
		return errors.New("database is locked")
	}
	c := newTestController(b, nil)

	jobID, ok := c.Start(context.Background(), essayConfig())
	if !ok || jobID != "job-1" {
		t.Fatalf("Start = (%q, %v), want (job-1, true)", jobID, ok)
	}
	if got := c.State().Error; got != "" {
		t.Errorf("persist failure surfaced as error %q", got)
	}
}

func TestPreviewSkipsPersist(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	b.upload = func(_ context.Context, req *backend.UploadRequest) (*backend.UploadResult, error) {
		if !req.Preview || req.TextContent != "sample answer" {
			t.Errorf("unexpected upload request %+v", req)
		}
		return &backend.UploadResult{JobID: "session-9", ElapsedMs: ms(20)}, nil
	}
	c := newTestController(b, nil)

	jobID, ok := c.Start(context.Background(), domain.JobConfig{TextContent: "sample answer", Preview: true})
	if !ok || jobID != "session-9" {
		t.Fatalf("Start = (%q, %v)", jobID, ok)
	}
	want := []string{"upload", "analyze:session-9", "run:session-9"}
	if got := b.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestExistingJobSkipsUpload(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	c := newTestController(b, nil)

	jobID, ok := c.Start(context.Background(), domain.JobConfig{ExistingJobID: "42"})
	if !ok || jobID != "42" {
		t.Fatalf("Start = (%q, %v)", jobID, ok)
	}
	state := c.State()
	want := []domain.Step{domain.StepExtracting, domain.StepGrading}
	if got := state.PhaseTimes.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("phase times = %v, want %v", got, want)
	}
	wantCalls := []string{"analyze:42", "run:42", "persist:42"}
	if got := b.Calls(); !reflect.DeepEqual(got, wantCalls) {
		t.Errorf("calls = %v, want %v", got, wantCalls)
	}
}

func TestMissingElapsedUsesMeasuredDuration(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	b.analyze = func(context.Context, string) (*backend.PhaseResult, error) {
		b.clock.Advance(420)
		return &backend.PhaseResult{}, nil
	}
	c := newTestController(b, nil)

	if _, ok := c.Start(context.Background(), essayConfig()); !ok {
		t.Fatal("expected success")
	}
	if got, _ := c.State().PhaseTimes.Get(domain.StepExtracting); got != 420 {
		t.Errorf("extracting = %d, want 420", got)
	}
}

func TestInvalidConfigFailsWithoutBackendCalls(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	c := newTestController(b, nil)

	if _, ok := c.Start(context.Background(), domain.JobConfig{}); ok {
		t.Fatal("expected failure")
	}
	if c.State().Error == "" {
		t.Error("expected validation error")
	}
	if calls := b.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
}

func TestTickerRefreshesTotalElapsed(t *testing.T) {
	release := make(chan struct{})
	b := &fakeBackend{clock: newFakeClock()}
	b.upload = func(ctx context.Context, _ *backend.UploadRequest) (*backend.UploadResult, error) {
		<-release
		return &backend.UploadResult{JobID: "job-1", ElapsedMs: ms(750)}, nil
	}
	c := newTestController(b, nil)

	done := startAsync(c, essayConfig())
	waitFor(t, "uploading step", func() bool { return c.State().Step == domain.StepUploading })
	b.clock.Advance(750)
	waitFor(t, "ticker refresh", func() bool { return c.State().TotalElapsedMs == 750 })

	close(release)
	if res := awaitResult(t, done); !res.ok {
		t.Fatalf("Start = %+v", res)
	}
}

func TestNewStartSupersedesPreviousRun(t *testing.T) {
	entered := make(chan struct{})
	b := &fakeBackend{clock: newFakeClock()}
	b.upload = func(ctx context.Context, req *backend.UploadRequest) (*backend.UploadResult, error) {
		if req.StudentID == "first" {
			close(entered)
			<-ctx.Done()
			return &backend.UploadResult{JobID: "stale", ElapsedMs: ms(1)}, nil
		}
		return &backend.UploadResult{JobID: "fresh", ElapsedMs: ms(2)}, nil
	}
	c := newTestController(b, nil)

	first := essayConfig()
	first.StudentID = "first"
	firstDone := startAsync(c, first)
	<-entered

	second := essayConfig()
	second.StudentID = "second"
	jobID, ok := c.Start(context.Background(), second)
	if !ok || jobID != "fresh" {
		t.Fatalf("second Start = (%q, %v)", jobID, ok)
	}

	if res := awaitResult(t, firstDone); res.ok {
		t.Fatalf("first Start = %+v, want null result", res)
	}
	state := c.State()
	if state.JobID != "fresh" || state.Step != domain.StepCompleted {
		t.Errorf("state belongs to the stale run: %+v", state)
	}
	if up, _ := state.PhaseTimes.Get(domain.StepUploading); up != 2 {
		t.Errorf("uploading = %d, want 2", up)
	}
}

func TestRecorderReceivesOutcome(t *testing.T) {
	var mu sync.Mutex
	var outcomes []domain.RunOutcome
	rec := recorderFunc(func(_ context.Context, o domain.RunOutcome) error {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
		return errors.New("history unavailable")
	})

	b := &fakeBackend{clock: newFakeClock()}
	c := newTestController(b, rec)
	if _, ok := c.Start(context.Background(), essayConfig()); !ok {
		t.Fatal("recorder failure must not fail the run")
	}

	b.analyze = func(context.Context, string) (*backend.PhaseResult, error) {
		return &backend.PhaseResult{Error: "context analysis failed"}, nil
	}
	c.Start(context.Background(), essayConfig())

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	if outcomes[0].Status != domain.RunStatusSucceeded || outcomes[0].JobID != "job-1" || outcomes[0].TotalMs != 1000 {
		t.Errorf("first outcome = %+v", outcomes[0])
	}
	if len(outcomes[0].PhaseTimes) != 3 {
		t.Errorf("first outcome phases = %v", outcomes[0].PhaseTimes)
	}
	if outcomes[1].Status != domain.RunStatusFailed || outcomes[1].Error != "context analysis failed" {
		t.Errorf("second outcome = %+v", outcomes[1])
	}
}

func TestLaunchReturnsRunIDBeforeCompletion(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	release := make(chan struct{})
	b.run = func(ctx context.Context, jobID string) (*backend.PhaseResult, error) {
		<-release
		return &backend.PhaseResult{ElapsedMs: ms(500)}, nil
	}
	c := newTestController(b, nil)

	done := make(chan startResult, 1)
	runID := c.Launch(context.Background(), essayConfig(), func(jobID string, ok bool) {
		done <- startResult{jobID: jobID, ok: ok}
	})
	if runID == "" {
		t.Fatal("Launch returned empty run id")
	}
	if got := c.State().RunID; got != runID {
		t.Errorf("state run id = %q, want %q", got, runID)
	}
	if !c.State().IsOpen {
		t.Error("dialog should be open right after Launch")
	}

	close(release)
	res := awaitResult(t, done)
	if !res.ok || res.jobID != "job-1" {
		t.Errorf("result = %+v", res)
	}
}

func TestUploadWithoutJobIDRecordsNoPhase(t *testing.T) {
	b := &fakeBackend{clock: newFakeClock()}
	b.upload = func(context.Context, *backend.UploadRequest) (*backend.UploadResult, error) {
		return &backend.UploadResult{ElapsedMs: ms(200)}, nil
	}
	c := newTestController(b, nil)

	jobID, ok := c.Start(context.Background(), essayConfig())
	if ok || jobID != "" {
		t.Fatalf("Start = (%q, %v), want failure", jobID, ok)
	}
	state := c.State()
	if state.Error != errNoJobID.Error() {
		t.Errorf("error = %q", state.Error)
	}
	if len(state.PhaseTimes) != 0 {
		t.Errorf("phase times = %v, want empty", state.PhaseTimes)
	}
	for _, ev := range c.Events(0) {
		if ev.Type == EventPhaseCompleted {
			t.Error("phase_completed published for upload without job id")
		}
	}
	if got := b.Calls(); !reflect.DeepEqual(got, []string{"upload"}) {
		t.Errorf("calls = %v", got)
	}
}

func TestCompletionDelayDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{name: "zero uses default", in: 0, want: DefaultCompletionDelay},
		{name: "negative disables", in: -1, want: 0},
		{name: "explicit", in: 3 * time.Second, want: 3 * time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewController(&fakeBackend{clock: newFakeClock()}, &Options{CompletionDelay: tc.in})
			if c.completionDelay != tc.want {
				t.Errorf("completion delay = %v, want %v", c.completionDelay, tc.want)
			}
		})
	}
}

func TestCancelDuringPersistKeepsSuccess(t *testing.T) {
	entered := make(chan struct{})
	b := &fakeBackend{clock: newFakeClock()}
	b.persist = func(ctx context.Context, _ string, _ int64) error {
		close(entered)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return nil
		}
	}
	c := newTestController(b, nil)

	done := startAsync(c, essayConfig())
	<-entered
	c.Cancel()

	res := awaitResult(t, done)
	if !res.ok || res.jobID != "job-1" {
		t.Fatalf("Start = %+v, want (job-1, true)", res)
	}
	if state := c.State(); state.Step != domain.StepCompleted || state.Error != "" {
		t.Errorf("state = %+v", state)
	}
	for _, ev := range c.Events(0) {
		if ev.Type == EventCancelled {
			t.Error("cancel after resolution published an event")
		}
	}
}
