package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/taskmaster/internal/model"
)

func TestResult(t *testing.T) {
	ok := Success(ChannelEmail)
	require.True(t, ok.OK)
	require.Equal(t, "email: ok", ok.String())

	failed := Failure(ChannelWhatsApp, errors.New("boom"))
	require.False(t, failed.OK)
	require.Equal(t, "boom", failed.Reason)
	require.Equal(t, "whatsapp: failed: boom", failed.String())

	require.Equal(t, "unknown error", Failure(ChannelEmail, nil).Reason)
}

func TestAnySucceeded(t *testing.T) {
	require.False(t, AnySucceeded(nil))
	require.False(t, AnySucceeded([]Result{Failure("a", nil), Failure("b", nil)}))
	require.True(t, AnySucceeded([]Result{Failure("a", nil), Success("b")}))
}

func TestReminder(t *testing.T) {
	msg := Reminder(model.Task{Title: "Pay rent", DueDate: time.Now()})
	require.Equal(t, "Task Reminder", msg.Subject)
	require.Equal(t, `Your task "Pay rent" is pending.`, msg.Body)
	require.Equal(t, `Reminder: "Pay rent" is still pending.`, msg.ShortText())
}

func TestWeeklyReport(t *testing.T) {
	msg := WeeklyReport(model.Report{Total: 5, Completed: 3})
	require.Equal(t, "Weekly Productivity Report", msg.Subject)
	require.Equal(t, "You completed 3/5 tasks this week", msg.Body)
	require.Equal(t, msg.Body, msg.ShortText())
}

func TestRecipientFromUser(t *testing.T) {
	r := RecipientFromUser(model.User{Name: "Ada", Email: "ada@example.com"})
	require.Equal(t, Recipient{Name: "Ada", Email: "ada@example.com"}, r)
	require.False(t, r.Empty())
	require.True(t, Recipient{Name: "nobody"}.Empty())
}
