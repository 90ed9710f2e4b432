package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/gradeflow/internal/backend"
	"github.com/timmy/gradeflow/internal/domain"
	"github.com/timmy/gradeflow/internal/logger"
)

const (
	DefaultTickInterval    = 500 * time.Millisecond
	DefaultCompletionDelay = 1500 * time.Millisecond

	unexpectedErrorMessage = "An unexpected error occurred during grading"
)

var (
	errNoResult = errors.New("grading backend returned an empty response")
	errNoJobID  = errors.New("grading backend returned no job id")
)

// OutcomeRecorder receives the outcome of every finished run.
type OutcomeRecorder interface {
	Record(ctx context.Context, outcome domain.RunOutcome) error
}

// Options configures a Controller. Zero values fall back to defaults.
type Options struct {
	TickInterval time.Duration
	// CompletionDelay keeps the completed step visible; negative disables it.
	CompletionDelay time.Duration
	EventBuffer     int
	Recorder        OutcomeRecorder

	// IsCancelled decides whether a backend error means the user cancelled.
	// Defaults to backend.IsCancelled.
	IsCancelled func(error) bool

	Now    func() time.Time
	Logger *logger.Logger
}

// Controller drives one grading job at a time through upload, context
// analysis and AI grading, publishing progress after every phase.
type Controller struct {
	backend         backend.Backend
	recorder        OutcomeRecorder
	isCancelled     func(error) bool
	now             func() time.Time
	tickInterval    time.Duration
	completionDelay time.Duration
	log             *logger.Logger
	events          *EventBus

	mu      sync.Mutex
	state   domain.ProgressState
	current *run
}

// run is the per-start cancellation token and bookkeeping.
// Fields below stopTicker are guarded by Controller.mu.
type run struct {
	id         string
	preview    bool
	ctx        context.Context
	cancel     context.CancelFunc
	startedAt  time.Time
	stopTicker func()

	cancelled  bool
	done       bool
	status     domain.RunStatus
	errMsg     string
	jobID      string
	totalMs    int64
	phaseTimes domain.PhaseTimes
}

// phaseResult is the backend response of one phase, transport errors aside.
type phaseResult struct {
	jobID     string
	elapsedMs *int64
	err       string
}

// NewController creates a controller bound to a grading backend.
// Parameters:
//   - b: grading backend that executes the phases.
//   - opts: timing, recorder and logging options; nil uses defaults.
//
// Returns:
//   - *Controller: idle controller with IsOpen false.
func NewController(b backend.Backend, opts *Options) *Controller {
	if opts == nil {
		opts = &Options{}
	}
	c := &Controller{
		backend:         b,
		recorder:        opts.Recorder,
		isCancelled:     opts.IsCancelled,
		now:             opts.Now,
		tickInterval:    opts.TickInterval,
		completionDelay: opts.CompletionDelay,
		log:             opts.Logger,
		events:          NewEventBus(opts.EventBuffer),
		state:           domain.InitialProgressState(),
	}
	if c.isCancelled == nil {
		c.isCancelled = backend.IsCancelled
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.tickInterval <= 0 {
		c.tickInterval = DefaultTickInterval
	}
	switch {
	case c.completionDelay == 0:
		c.completionDelay = DefaultCompletionDelay
	case c.completionDelay < 0:
		c.completionDelay = 0
	}
	return c
}

// State returns a snapshot of the current progress.
func (c *Controller) State() domain.ProgressState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Events returns published events with sequence greater than since.
func (c *Controller) Events(since int64) []Event {
	return c.events.Since(since)
}

// Start runs a grading job to completion.
// It returns the backend job id and true on success; on phase failure,
// unexpected failure or cancellation it returns "" and false, with the
// failure message (if any) left in State().Error.
func (c *Controller) Start(ctx context.Context, cfg domain.JobConfig) (jobID string, ok bool) {
	return c.execute(c.begin(ctx, cfg), cfg)
}

// Launch starts a grading job in the background and returns its run id
// once the dialog is open. done, if non-nil, receives the result of Start.
func (c *Controller) Launch(ctx context.Context, cfg domain.JobConfig, done func(jobID string, ok bool)) string {
	r := c.begin(ctx, cfg)
	go func() {
		jobID, ok := c.execute(r, cfg)
		if done != nil {
			done(jobID, ok)
		}
	}()
	return r.id
}

func (c *Controller) execute(r *run, cfg domain.JobConfig) (jobID string, ok bool) {
	defer c.finish(r)
	defer func() {
		if p := recover(); p != nil {
			c.fail(r, fmt.Sprint(p), nil)
			logger.FromContext(r.ctx).WithField("panic", p).Error("Grading run panicked")
			jobID, ok = "", false
		}
	}()

	if err := cfg.Validate(); err != nil {
		c.fail(r, err.Error(), nil)
		return "", false
	}

	jobID = cfg.ExistingJobID
	if cfg.HasPayload() {
		began := c.now()
		res, err := c.backend.Upload(r.ctx, newUploadRequest(&cfg))
		if err == nil && res == nil {
			err = errNoResult
		}
		if err == nil && res.Error == "" && res.JobID == "" {
			err = errNoJobID
		}
		var pr phaseResult
		if res != nil {
			pr = phaseResult{jobID: res.JobID, elapsedMs: res.ElapsedMs, err: res.Error}
		}
		if !c.settle(r, domain.StepUploading, began, pr, err) {
			return "", false
		}
		jobID = res.JobID
	} else if !c.setJobID(r, jobID) {
		return "", false
	}

	phases := []struct {
		step domain.Step
		call func(context.Context, string, bool) (*backend.PhaseResult, error)
	}{
		{step: domain.StepExtracting, call: c.backend.Analyze},
		{step: domain.StepGrading, call: c.backend.Run},
	}
	for _, phase := range phases {
		if !c.advance(r, phase.step) {
			return "", false
		}
		began := c.now()
		res, err := phase.call(r.ctx, jobID, cfg.Preview)
		if err == nil && res == nil {
			err = errNoResult
		}
		var pr phaseResult
		if res != nil {
			pr = phaseResult{elapsedMs: res.ElapsedMs, err: res.Error}
		}
		if !c.settle(r, phase.step, began, pr, err) {
			return "", false
		}
	}

	if !c.advance(r, domain.StepCompleted) {
		return "", false
	}
	if !c.holdCompleted(r) {
		return "", false
	}

	// The run resolves here; a later Cancel no longer affects the result.
	if !c.succeed(r) {
		return "", false
	}

	if !cfg.Preview {
		if err := c.backend.PersistElapsedTime(r.ctx, jobID, r.totalMs); err != nil {
			logger.CtxWarn(r.ctx, "Failed to persist grading time: %v", err)
		}
	}
	return jobID, true
}

// Cancel requests cancellation of the in-flight run and aborts its pending
// backend call. It does not close the dialog or reset state. Cancelling
// twice, or after the run finished, has no effect.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.current
	if r == nil || r.done || r.cancelled {
		return
	}
	r.cancelled = true
	r.cancel()
	c.publish(r, EventCancelled)
	logger.FromContext(r.ctx).Info("Grading run cancellation requested")
}

// Close resets all progress state, stops the timer and cancels any run in flight.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r := c.current; r != nil {
		if !r.done {
			r.cancelled = true
		}
		r.cancel()
		r.stopTicker()
		c.current = nil
	}
	c.state = domain.InitialProgressState()
	c.publish(nil, EventClosed)
}

// begin supersedes any previous run and resets state for a new one.
func (c *Controller) begin(parent context.Context, cfg domain.JobConfig) *run {
	if parent == nil {
		parent = context.Background()
	}
	id := uuid.NewString()

	base := logger.FromContext(parent)
	if c.log != nil && base == logger.GetDefault() {
		base = c.log
	}
	fields := logger.Fields{
		logger.FieldRunID:     id,
		logger.FieldComponent: "grading_progress",
	}
	if cfg.StudentID != "" {
		fields[logger.FieldStudentID] = cfg.StudentID
	}
	ctx, cancel := context.WithCancel(base.WithFields(fields).WithContext(parent))

	r := &run{
		id:         id,
		preview:    cfg.Preview,
		ctx:        ctx,
		cancel:     cancel,
		startedAt:  c.now(),
		phaseTimes: domain.PhaseTimes{},
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.current; prev != nil && !prev.done {
		prev.cancelled = true
		prev.cancel()
		prev.stopTicker()
	}
	c.current = r
	c.state = domain.InitialProgressState()
	c.state.RunID = id
	c.state.IsOpen = true
	c.state.Step = domain.StepUploading
	r.stopTicker = c.startTicker(r)
	c.publish(r, EventStarted)

	logger.FromContext(ctx).WithFields(logger.Fields{
		"preview":      cfg.Preview,
		"existing_job": cfg.ExistingJobID != "",
	}).Info("Grading run started")
	return r
}

// finish stops the timer and reports the outcome. Runs on every exit path.
func (c *Controller) finish(r *run) {
	c.mu.Lock()
	r.done = true
	r.stopTicker()
	if r.status == "" {
		r.status = domain.RunStatusCancelled
	}
	outcome := domain.RunOutcome{
		RunID:      r.id,
		JobID:      r.jobID,
		Status:     r.status,
		Error:      r.errMsg,
		Preview:    r.preview,
		TotalMs:    r.totalMs,
		PhaseTimes: r.phaseTimes.Clone(),
		StartedAt:  r.startedAt,
		FinishedAt: c.now(),
	}
	if outcome.TotalMs == 0 {
		outcome.TotalMs = outcome.FinishedAt.Sub(r.startedAt).Milliseconds()
	}
	c.mu.Unlock()

	ctx := context.WithoutCancel(r.ctx)
	r.cancel()

	logger.With(logger.Fields{logger.FieldTotalMs: outcome.TotalMs}).
		WithStatus(string(outcome.Status)).
		Info(ctx, "Grading run finished")

	if c.recorder != nil {
		if err := c.recorder.Record(ctx, outcome); err != nil {
			logger.FromContext(ctx).WithError(err).Warn("Failed to record grading run")
		}
	}
}

// live reports whether r may still mutate state. Caller holds c.mu.
func (c *Controller) live(r *run) bool {
	return c.current == r && !r.cancelled && !r.done
}

// settle applies the result of one phase call. It returns true when the run may continue.
func (c *Controller) settle(r *run, phase domain.Step, began time.Time, res phaseResult, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live(r) {
		return false
	}
	phaseCtx := logger.SetPhase(r.ctx, string(phase))
	log := logger.FromContext(phaseCtx)

	if err != nil {
		if c.isCancelled(err) {
			r.cancelled = true
			log.Info("Grading phase aborted by cancellation")
			return false
		}
		msg := err.Error()
		if msg == "" {
			msg = unexpectedErrorMessage
		}
		c.failLocked(r, msg, nil)
		log.WithError(err).Error("Grading phase failed unexpectedly")
		return false
	}

	if res.err != "" {
		c.failLocked(r, res.err, res.elapsedMs)
		log.WithField("backend_error", res.err).Warn("Grading phase reported failure")
		return false
	}

	// Backends that omit elapsed_ms get the locally measured duration.
	elapsed := c.now().Sub(began).Milliseconds()
	if res.elapsedMs != nil {
		elapsed = *res.elapsedMs
	}
	c.state.PhaseElapsedMs = &elapsed
	c.state.PhaseTimes = c.state.PhaseTimes.With(phase, elapsed)
	r.phaseTimes = c.state.PhaseTimes.Clone()
	if res.jobID != "" {
		r.jobID = res.jobID
		c.state.JobID = res.jobID
	}
	c.publish(r, EventPhaseCompleted)

	logger.With(logger.Fields{}).WithDuration(elapsed).Info(phaseCtx, "Grading phase completed")
	return true
}

// advance moves the run forward to step; steps never regress.
func (c *Controller) advance(r *run, step domain.Step) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live(r) {
		return false
	}
	if step.Rank() <= c.state.Step.Rank() {
		return true
	}
	c.state.Step = step
	if step == domain.StepCompleted {
		r.totalMs = c.now().Sub(r.startedAt).Milliseconds()
		c.state.TotalElapsedMs = r.totalMs
		c.publish(r, EventCompleted)
		return true
	}
	c.publish(r, EventStep)
	return true
}

// holdCompleted keeps the completed checklist visible for the display delay.
func (c *Controller) holdCompleted(r *run) bool {
	if c.completionDelay > 0 {
		timer := time.NewTimer(c.completionDelay)
		defer timer.Stop()
		select {
		case <-r.ctx.Done():
		case <-timer.C:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r.ctx.Err() != nil && !r.done {
		r.cancelled = true
	}
	return c.live(r)
}

func (c *Controller) setJobID(r *run, jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live(r) {
		return false
	}
	r.jobID = jobID
	c.state.JobID = jobID
	return true
}

// succeed resolves r as successful. Cancel has no effect afterwards.
func (c *Controller) succeed(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live(r) {
		return false
	}
	r.status = domain.RunStatusSucceeded
	r.done = true
	return true
}

func (c *Controller) fail(r *run, msg string, elapsedMs *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live(r) {
		return
	}
	c.failLocked(r, msg, elapsedMs)
}

// failLocked ends the run with a visible error. Caller holds c.mu.
func (c *Controller) failLocked(r *run, msg string, elapsedMs *int64) {
	if msg == "" {
		msg = unexpectedErrorMessage
	}
	c.state.Error = msg
	if elapsedMs != nil {
		v := *elapsedMs
		c.state.PhaseElapsedMs = &v
	}
	c.state.Step = domain.StepNone
	r.status = domain.RunStatusFailed
	r.errMsg = msg
	c.publish(r, EventError)
}

// startTicker refreshes TotalElapsedMs every tick until the returned stop is called.
func (c *Controller) startTicker(r *run) func() {
	ticker := time.NewTicker(c.tickInterval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.tick(r)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}

func (c *Controller) tick(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live(r) {
		return
	}
	c.state.TotalElapsedMs = c.now().Sub(r.startedAt).Milliseconds()
}

// publish emits the current state. Caller holds c.mu.
func (c *Controller) publish(r *run, typ EventType) {
	ev := Event{Type: typ, State: c.state.Clone()}
	if r != nil {
		ev.RunID = r.id
	}
	c.events.Publish(ev)
}

func newUploadRequest(cfg *domain.JobConfig) *backend.UploadRequest {
	req := &backend.UploadRequest{
		TextContent:  cfg.TextContent,
		StudentID:    cfg.StudentID,
		StudentName:  cfg.StudentName,
		Background:   cfg.Background,
		TemplateID:   cfg.TemplateID,
		Instructions: cfg.Instructions,
		Model:        cfg.Model,
		Preview:      cfg.Preview,
	}
	if cfg.File != nil {
		req.FileName = cfg.File.Name
		req.FileContentType = cfg.File.ContentType
		req.FileData = cfg.File.Data
	}
	return req
}
