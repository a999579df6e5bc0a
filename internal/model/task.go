package model

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the user-assigned urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority converts a string into a Priority. An empty string yields
// PriorityMedium.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case "", PriorityMedium:
		return PriorityMedium, nil
	case PriorityLow:
		return PriorityLow, nil
	case PriorityHigh:
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// NotificationState is the reminder dispatch state of a task, derived from
// its notified flag and claim fields.
type NotificationState string

const (
	NotificationPending NotificationState = "pending"
	NotificationClaimed NotificationState = "claimed"
	NotificationSent    NotificationState = "sent"
)

// Task is a user task with an optional reminder.
type Task struct {
	// ID is the immutable unique identifier.
	ID string `json:"id"`

	// UserID references the owning user. Empty for tasks created before
	// users existed; those fall back to the default recipient.
	UserID string `json:"user_id,omitempty"`

	Title    string   `json:"title"`
	Priority Priority `json:"priority"`

	// DueDate is required.
	DueDate time.Time `json:"due_date"`

	// ReminderTime is optional. A task without one is never selected by
	// the reminder scheduler.
	ReminderTime *time.Time `json:"reminder_time,omitempty"`

	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Notified flips false to true at most once and is never reset.
	Notified bool `json:"notified"`

	// ClaimedAt and ClaimExpiresAt are set by a successful dispatch claim.
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`

	// DispatchAttempts counts successful claims.
	DispatchAttempts int `json:"dispatch_attempts"`

	// DispatchFailedAt is set when every channel failed for a claimed task.
	DispatchFailedAt *time.Time `json:"dispatch_failed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields required to create a task.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title must not be empty")
	}
	if t.DueDate.IsZero() {
		return fmt.Errorf("task due date is required")
	}
	return nil
}

// DueForReminder reports whether the task is eligible for reminder
// dispatch at now: reminder time reached, not completed, not notified,
// and not held by a live claim.
func (t Task) DueForReminder(now time.Time) bool {
	if t.ReminderTime == nil || t.ReminderTime.After(now) {
		return false
	}
	if t.Completed || t.Notified {
		return false
	}
	return !t.ClaimLive(now)
}

// ClaimLive reports whether a dispatch claim is held and unexpired at now.
func (t Task) ClaimLive(now time.Time) bool {
	return t.ClaimExpiresAt != nil && t.ClaimExpiresAt.After(now)
}

// NotificationState returns the derived dispatch state at now.
func (t Task) NotificationState(now time.Time) NotificationState {
	switch {
	case t.Notified:
		return NotificationSent
	case t.ClaimLive(now):
		return NotificationClaimed
	default:
		return NotificationPending
	}
}
