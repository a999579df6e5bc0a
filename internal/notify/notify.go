// Package notify delivers reminder messages over outbound channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/taskmaster/internal/model"
)

// ErrNoAddress is returned when a recipient has no address for a channel.
var ErrNoAddress = errors.New("recipient has no address for channel")

// Recipient is where a message is delivered.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// Empty reports whether the recipient has no address at all.
func (r Recipient) Empty() bool {
	return r.Email == "" && r.Phone == ""
}

// RecipientFromUser builds a recipient from a user's contact details.
func RecipientFromUser(u model.User) Recipient {
	return Recipient{Name: u.Name, Email: u.Email, Phone: u.Phone}
}

// Message is the content of a notification. Email channels use Subject
// and Body; messaging channels send Text, or Body when Text is empty.
type Message struct {
	Subject string
	Body    string
	Text    string
}

// ShortText returns the text for messaging channels.
func (m Message) ShortText() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Body
}

// Result is the outcome of one Send call. Channels report failures
// through Result and never return bare errors or panic.
type Result struct {
	Channel string
	OK      bool
	Reason  string
}

// Success returns a successful result for channel.
func Success(channel string) Result {
	return Result{Channel: channel, OK: true}
}

// Failure returns a failed result for channel with err as the reason.
func Failure(channel string, err error) Result {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Result{Channel: channel, Reason: reason}
}

func (r Result) String() string {
	if r.OK {
		return r.Channel + ": ok"
	}
	return fmt.Sprintf("%s: failed: %s", r.Channel, r.Reason)
}

// Channel sends a message to a recipient.
type Channel interface {
	Name() string
	Send(ctx context.Context, to Recipient, msg Message) Result
}

// AnySucceeded reports whether at least one result is a success.
func AnySucceeded(results []Result) bool {
	for _, r := range results {
		if r.OK {
			return true
		}
	}
	return false
}

// Reminder is the message sent for a due task.
func Reminder(task model.Task) Message {
	return Message{
		Subject: "Task Reminder",
		Body:    fmt.Sprintf("Your task \"%s\" is pending.", task.Title),
		Text:    fmt.Sprintf("Reminder: \"%s\" is still pending.", task.Title),
	}
}

// WeeklyReport is the productivity summary email.
func WeeklyReport(r model.Report) Message {
	return Message{
		Subject: "Weekly Productivity Report",
		Body:    fmt.Sprintf("You completed %d/%d tasks this week", r.Completed, r.Total),
	}
}
