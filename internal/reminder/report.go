package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/taskmaster/internal/model"
	"github.com/nhle/taskmaster/internal/notify"
	"github.com/nhle/taskmaster/internal/store"
)

// ReportSource is what the weekly report needs from the store.
type ReportSource interface {
	GetUsers(ctx context.Context) ([]model.User, error)
	CountTasksCreatedSince(ctx context.Context, userID string, since time.Time) (int, int, error)
}

var _ ReportSource = (store.Store)(nil)

// ReportSummary counts what one report run did.
type ReportSummary struct {
	Users   int
	Sent    int
	Failed  int
	Skipped int
}

// Reporter sends each user a summary of the tasks they created and
// completed within the window.
type Reporter struct {
	store   ReportSource
	channel notify.Channel
	clock   Clock
	log     logrus.FieldLogger
	window  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewReporter creates a Reporter that delivers over channel, normally the
// email channel. A zero window means seven days.
func NewReporter(
	s ReportSource,
	channel notify.Channel,
	clock Clock,
	log logrus.FieldLogger,
	window time.Duration,
) *Reporter {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = discardLogger()
	}
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Reporter{
		store:   s,
		channel: channel,
		clock:   clock,
		log:     log.WithField("component", "report"),
		window:  window,
	}
}

// Run builds and sends one report per user with an email address. A
// failure for one user does not stop the others.
func (r *Reporter) Run(ctx context.Context) (ReportSummary, error) {
	var summary ReportSummary

	users, err := r.store.GetUsers(ctx)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	summary.Users = len(users)

	since := r.clock.Now().Add(-r.window)
	for _, u := range users {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		log := r.log.WithField("user_id", u.ID)
		if u.Email == "" {
			summary.Skipped++
			continue
		}

		report, err := r.Build(ctx, u.ID, since)
		if err != nil {
			log.WithError(err).Error("building weekly report")
			summary.Failed++
			continue
		}

		res := r.channel.Send(ctx, notify.RecipientFromUser(u), notify.WeeklyReport(*report))
		if !res.OK {
			log.WithFields(logrus.Fields{
				"channel": res.Channel,
				"reason":  res.Reason,
			}).Warn("weekly report not delivered")
			summary.Failed++
			continue
		}
		summary.Sent++
	}

	r.log.WithFields(logrus.Fields{
		"users":   summary.Users,
		"sent":    summary.Sent,
		"failed":  summary.Failed,
		"skipped": summary.Skipped,
	}).Info("weekly report run complete")
	return summary, nil
}

// Build counts the user's tasks created since the given time.
func (r *Reporter) Build(ctx context.Context, userID string, since time.Time) (*model.Report, error) {
	total, completed, err := r.store.CountTasksCreatedSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	return &model.Report{
		UserID:    userID,
		Since:     since,
		Total:     total,
		Completed: completed,
	}, nil
}

// Start runs the report every interval until Stop is called or ctx is
// cancelled. The first run happens after one interval.
func (r *Reporter) Start(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	if r.running || interval <= 0 {
		r.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if _, err := r.Run(loopCtx); err != nil {
					r.log.WithError(err).Error("weekly report run failed")
				}
			}
		}
	}()
}

// Stop halts the report loop and waits for a running report to return.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	done := r.done
	r.running = false
	r.mu.Unlock()

	<-done
}
