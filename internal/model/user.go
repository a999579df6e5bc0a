package model

import "time"

// User owns tasks and receives their reminders.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`

	// Phone is an international number without the whatsapp: prefix.
	Phone string `json:"phone"`

	// Streak counts consecutive days with at least one completed task.
	Streak            int        `json:"streak"`
	LastCompletedDate *time.Time `json:"last_completed_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordCompletion updates the streak for a task completed at now.
// The first completion starts the streak at one, a completion on a new
// calendar day extends it, and further completions on the same day leave
// it unchanged.
func (u *User) RecordCompletion(now time.Time) {
	switch {
	case u.LastCompletedDate == nil:
		u.Streak = 1
	case !sameDay(*u.LastCompletedDate, now):
		u.Streak++
	}
	t := now
	u.LastCompletedDate = &t
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
