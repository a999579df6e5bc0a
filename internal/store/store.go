package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/taskmaster/internal/model"
)

// ErrNotFound is returned when a task or user does not exist.
var ErrNotFound = errors.New("not found")

// TaskFilter controls filtering, sorting, and pagination for task queries.
type TaskFilter struct {
	UserID    *string
	Completed *bool
	Priority  *model.Priority
	SortBy    string // "created_at", "due_date", "reminder_time", "title"
	SortDesc  bool
	Limit     int
	Offset    int
}

// ReminderStore is the subset of the store used by the reminder scheduler.
type ReminderStore interface {
	// FindDueUnnotified returns at most limit tasks eligible for reminder
	// dispatch at now, oldest reminder first.
	FindDueUnnotified(ctx context.Context, now time.Time, limit int) ([]model.Task, error)

	// ClaimForDispatch atomically takes the dispatch claim on a task. It
	// reports true only if this call acquired the claim; a task that is
	// notified, completed, or held by an unexpired claim yields false.
	ClaimForDispatch(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error)

	// MarkNotified sets notified=true and releases the claim.
	MarkNotified(ctx context.Context, id string) error

	// MarkDispatchFailed records that no channel delivered the reminder.
	MarkDispatchFailed(ctx context.Context, id string, at time.Time) error

	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// TaskStore provides task CRUD.
type TaskStore interface {
	CreateTask(ctx context.Context, task model.Task) (*model.Task, error)
	GetTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)
	GetTaskByID(ctx context.Context, id string) (*model.Task, error)

	// CompleteTask marks a task completed at now and extends the owner's
	// streak. Completing a completed task is a no-op.
	CompleteTask(ctx context.Context, id string, now time.Time) (*model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// UserStore provides user CRUD.
type UserStore interface {
	CreateUser(ctx context.Context, user model.User) (*model.User, error)
	UpdateUser(ctx context.Context, user model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUsers(ctx context.Context) ([]model.User, error)
}

// ReportStore answers the weekly report queries.
type ReportStore interface {
	// CountTasksCreatedSince counts the user's tasks created at or after
	// since, and how many of those are completed.
	CountTasksCreatedSince(ctx context.Context, userID string, since time.Time) (total int, completed int, err error)
}

// Store is the full persistence interface implemented by every backend.
type Store interface {
	ReminderStore
	TaskStore
	UserStore
	ReportStore
	Close() error
}
