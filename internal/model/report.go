package model

import "time"

// Report is a weekly productivity summary for one user.
type Report struct {
	// UserID identifies the user the report was generated for.
	UserID string `json:"user_id"`

	// Since is the start of the reporting window.
	Since time.Time `json:"since"`

	// Total is the number of tasks created within the window.
	Total int `json:"total"`

	// Completed is how many of those tasks are completed.
	Completed int `json:"completed"`
}
