// Package reminder runs the periodic reminder dispatch cycle and the
// weekly report job.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/taskmaster/internal/model"
	"github.com/nhle/taskmaster/internal/notify"
	"github.com/nhle/taskmaster/internal/store"
)

var (
	// ErrStoreUnavailable is returned when the due task scan fails. Nothing
	// was claimed, so the next cycle retries the whole scan.
	ErrStoreUnavailable = errors.New("task store unavailable")

	// ErrCycleInProgress is returned by RunCycle while another cycle on the
	// same Scheduler is still running.
	ErrCycleInProgress = errors.New("reminder cycle already in progress")

	errClaimExpiring = errors.New("claim about to expire, channel not attempted")
)

// Default values applied by NewScheduler for zero Config fields.
const (
	DefaultInterval        = time.Minute
	DefaultBatchSize       = 500
	DefaultClaimTTL        = 5 * time.Minute
	DefaultConcurrency     = 4
	DefaultDispatchTimeout = 30 * time.Second
)

// Config controls a Scheduler.
type Config struct {
	Interval  time.Duration
	BatchSize int

	// ClaimTTL is how long a claimed task is held before a later cycle may
	// reclaim it. Sends on all channels of a task must fit inside it.
	ClaimTTL time.Duration

	Concurrency     int
	DispatchTimeout time.Duration

	// DefaultRecipient receives reminders for tasks without a reachable
	// owner.
	DefaultRecipient notify.Recipient
}

// ConfigFromModel converts the scheduler section of the app config.
func ConfigFromModel(c model.SchedulerConfig) Config {
	return Config{
		Interval:        c.Interval(),
		BatchSize:       c.BatchSize,
		ClaimTTL:        c.ClaimTTL(),
		Concurrency:     c.Concurrency,
		DispatchTimeout: c.DispatchTimeout(),
		DefaultRecipient: notify.Recipient{
			Name:  c.DefaultRecipient.Name,
			Email: c.DefaultRecipient.Email,
			Phone: c.DefaultRecipient.Phone,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = DefaultClaimTTL
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	return c
}

// sendWindow is how long after claiming a task its channels may still be
// called. The rest of the claim is left for recording the outcome.
func (c Config) sendWindow() time.Duration {
	return c.ClaimTTL - c.ClaimTTL/10
}

// CycleSummary counts what one cycle did.
type CycleSummary struct {
	Started time.Time

	// Scanned is the number of due tasks returned by the store.
	Scanned int

	// Claimed is the number of tasks this cycle won the claim for.
	Claimed int

	// Delivered is the number of claimed tasks with at least one channel
	// success.
	Delivered int

	// Conflicts is the number of tasks claimed elsewhere first.
	Conflicts int

	// Failed is the number of claimed tasks on which every channel failed.
	Failed int

	// Errors counts store errors while claiming or marking tasks.
	Errors int

	// Skipped is the number of scanned tasks not started because the
	// cycle was cancelled.
	Skipped int

	Duration time.Duration
}

// CycleState is the state of the scheduler loop.
type CycleState int

const (
	CycleIdle CycleState = iota
	CycleRunning
	CycleError
)

func (s CycleState) String() string {
	switch s {
	case CycleIdle:
		return "idle"
	case CycleRunning:
		return "running"
	case CycleError:
		return "error"
	default:
		return fmt.Sprintf("CycleState(%d)", int(s))
	}
}

// Status is a snapshot of the scheduler for diagnostics.
type Status struct {
	State     CycleState
	LastCycle time.Time
	Last      CycleSummary
	Error     error
}

// taskOutcome is the result of processing one task.
type taskOutcome int

const (
	outcomeConflict taskOutcome = iota
	outcomeDelivered
	outcomeFailed
	outcomeError
	outcomeSkipped
)

// Scheduler scans for due reminders and dispatches them on every channel.
// Tasks are claimed atomically in the store before any channel is called,
// so concurrent cycles, including ones in other processes, never dispatch
// the same task twice while its claim is live.
type Scheduler struct {
	store    store.ReminderStore
	channels []notify.Channel
	clock    Clock
	log      logrus.FieldLogger
	cfg      Config

	// cycleMu is held for the duration of a cycle.
	cycleMu sync.Mutex

	mu        sync.Mutex
	status    Status
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	triggerCh chan struct{}
}

// NewScheduler creates a Scheduler. A nil clock uses SystemClock and a nil
// logger discards output.
func NewScheduler(
	s store.ReminderStore,
	channels []notify.Channel,
	clock Clock,
	log logrus.FieldLogger,
	cfg Config,
) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = discardLogger()
	}
	return &Scheduler{
		store:     s,
		channels:  channels,
		clock:     clock,
		log:       log.WithField("component", "reminder"),
		cfg:       cfg.withDefaults(),
		triggerCh: make(chan struct{}, 1),
	}
}

// RunCycle performs one scan-and-dispatch pass. It returns
// ErrCycleInProgress without touching the store when another cycle is
// running, and wraps ErrStoreUnavailable when the scan fails.
//
// Cancelling ctx stops new tasks from being started; tasks already
// claimed finish their dispatch and are marked.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleSummary, error) {
	if !s.cycleMu.TryLock() {
		return CycleSummary{}, ErrCycleInProgress
	}
	defer s.cycleMu.Unlock()

	s.setState(CycleRunning, nil)

	now := s.clock.Now()
	summary := CycleSummary{Started: now}
	start := time.Now()

	tasks, err := s.store.FindDueUnnotified(ctx, now, s.cfg.BatchSize)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		s.log.WithError(err).Error("reminder scan failed")
		summary.Duration = time.Since(start)
		s.finish(summary, err)
		return summary, err
	}
	summary.Scanned = len(tasks)

	// In-flight dispatches outlive cancellation of ctx.
	dispatchCtx := context.WithoutCancel(ctx)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for i, task := range tasks {
		if ctx.Err() != nil {
			mu.Lock()
			summary.Skipped += len(tasks) - i
			mu.Unlock()
			break
		}
		g.Go(func() error {
			outcome := outcomeSkipped
			if ctx.Err() == nil {
				outcome = s.processTask(dispatchCtx, task)
			}

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeConflict:
				summary.Conflicts++
			case outcomeDelivered:
				summary.Claimed++
				summary.Delivered++
			case outcomeFailed:
				summary.Claimed++
				summary.Failed++
			case outcomeError:
				summary.Errors++
			case outcomeSkipped:
				summary.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(start)
	s.log.WithFields(logrus.Fields{
		"scanned":   summary.Scanned,
		"claimed":   summary.Claimed,
		"delivered": summary.Delivered,
		"conflicts": summary.Conflicts,
		"failed":    summary.Failed,
		"errors":    summary.Errors,
		"skipped":   summary.Skipped,
		"duration":  summary.Duration.String(),
	}).Info("reminder cycle complete")

	s.finish(summary, nil)
	return summary, nil
}

// processTask runs claim, dispatch and mark for one task. Failures stay
// inside the task.
func (s *Scheduler) processTask(ctx context.Context, task model.Task) taskOutcome {
	log := s.log.WithFields(logrus.Fields{"task_id": task.ID, "title": task.Title})

	// The claim runs from now, not from the start of the cycle.
	claimedAt := s.clock.Now()
	claimed, err := s.store.ClaimForDispatch(ctx, task.ID, claimedAt, s.cfg.ClaimTTL)
	if err != nil {
		log.WithError(err).Error("claiming task")
		return outcomeError
	}
	if !claimed {
		log.Debug("task claimed elsewhere, skipping")
		return outcomeConflict
	}

	recipient := s.resolveRecipient(ctx, task, log)
	results := s.dispatch(ctx, recipient, notify.Reminder(task), claimedAt.Add(s.cfg.sendWindow()))

	for _, r := range results {
		if !r.OK {
			log.WithFields(logrus.Fields{
				"channel": r.Channel,
				"reason":  r.Reason,
			}).Warn("channel dispatch failed")
		}
	}

	// The claim is spent whatever the channels did.
	if err := s.store.MarkNotified(ctx, task.ID); err != nil {
		log.WithError(err).Error("marking task notified; task may be reminded again after the claim expires")
		return outcomeError
	}

	if notify.AnySucceeded(results) {
		log.Info("reminder sent")
		return outcomeDelivered
	}

	if err := s.store.MarkDispatchFailed(ctx, task.ID, s.clock.Now()); err != nil {
		log.WithError(err).Error("recording dispatch failure")
	}
	log.Error("reminder lost: every channel failed")
	return outcomeFailed
}

// resolveRecipient returns the owning user's contact details, or the
// configured default recipient when the task has no reachable owner.
func (s *Scheduler) resolveRecipient(ctx context.Context, task model.Task, log logrus.FieldLogger) notify.Recipient {
	if task.UserID == "" {
		return s.cfg.DefaultRecipient
	}

	user, err := s.store.GetUserByID(ctx, task.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.WithField("user_id", task.UserID).Warn("task owner not found, using default recipient")
		return s.cfg.DefaultRecipient
	case err != nil:
		log.WithError(err).Warn("loading task owner, using default recipient")
		return s.cfg.DefaultRecipient
	}

	r := notify.RecipientFromUser(*user)
	if r.Empty() {
		return s.cfg.DefaultRecipient
	}
	return r
}

// dispatch sends msg on every channel in turn. Each channel gets its own
// timeout, cut short so that no send runs past sendBy. Channels reached
// after sendBy are not attempted. A panicking channel is reported as a
// failure.
func (s *Scheduler) dispatch(ctx context.Context, to notify.Recipient, msg notify.Message, sendBy time.Time) []notify.Result {
	results := make([]notify.Result, 0, len(s.channels))
	for _, ch := range s.channels {
		remaining := sendBy.Sub(s.clock.Now())
		if remaining <= 0 {
			results = append(results, notify.Failure(ch.Name(), errClaimExpiring))
			continue
		}
		results = append(results, s.sendOne(ctx, ch, to, msg, min(remaining, s.cfg.DispatchTimeout)))
	}
	return results
}

func (s *Scheduler) sendOne(
	ctx context.Context,
	ch notify.Channel,
	to notify.Recipient,
	msg notify.Message,
	timeout time.Duration,
) (res notify.Result) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res = notify.Failure(ch.Name(), fmt.Errorf("channel panicked: %v", r))
		}
	}()

	return ch.Send(ctx, to, msg)
}

// Start runs a cycle immediately and then on every interval until Stop is
// called or ctx is cancelled. Calling Start on a running scheduler does
// nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(loopCtx, done)
}

// Stop halts the loop and waits for an in-flight cycle to finish its
// claimed tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
}

// Trigger requests an immediate cycle from a running loop. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
		// A trigger is already pending.
	}
}

// Status returns the current scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.cfg.Interval.String()).Info("reminder scheduler started")
	defer s.log.Info("reminder scheduler stopped")

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-s.triggerCh:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.RunCycle(ctx)
	if errors.Is(err, ErrCycleInProgress) {
		s.log.Debug("previous reminder cycle still running, skipping tick")
	}
}

func (s *Scheduler) setState(state CycleState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.Error = err
}

func (s *Scheduler) finish(summary CycleSummary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastCycle = summary.Started
	s.status.Last = summary
	s.status.Error = err
	if err != nil {
		s.status.State = CycleError
	} else {
		s.status.State = CycleIdle
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
