package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/taskmaster/internal/model"
	"github.com/nhle/taskmaster/internal/store"
)

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("CreateAndGetTask", func(t *testing.T) { testCreateAndGetTask(t, newStore(t)) })
	t.Run("CreateTaskValidation", func(t *testing.T) { testCreateTaskValidation(t, newStore(t)) })
	t.Run("GetTasksFilter", func(t *testing.T) { testGetTasksFilter(t, newStore(t)) })
	t.Run("DeleteTask", func(t *testing.T) { testDeleteTask(t, newStore(t)) })
	t.Run("FindDueUnnotified", func(t *testing.T) { testFindDueUnnotified(t, newStore(t)) })
	t.Run("FindDueLimit", func(t *testing.T) { testFindDueLimit(t, newStore(t)) })
	t.Run("ClaimForDispatch", func(t *testing.T) { testClaimForDispatch(t, newStore(t)) })
	t.Run("ClaimRejectsIneligible", func(t *testing.T) { testClaimRejectsIneligible(t, newStore(t)) })
	t.Run("StuckClaimReclaimed", func(t *testing.T) { testStuckClaimReclaimed(t, newStore(t)) })
	t.Run("MarkNotified", func(t *testing.T) { testMarkNotified(t, newStore(t)) })
	t.Run("MarkDispatchFailed", func(t *testing.T) { testMarkDispatchFailed(t, newStore(t)) })
	t.Run("CompleteTaskStreak", func(t *testing.T) { testCompleteTaskStreak(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("CountTasksCreatedSince", func(t *testing.T) { testCountTasksCreatedSince(t, newStore(t)) })
}

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func mustCreateTask(t *testing.T, s store.Store, title string, reminder *time.Time) *model.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), model.Task{
		Title:        title,
		DueDate:      base.Add(24 * time.Hour),
		ReminderTime: reminder,
	})
	require.NoError(t, err)
	return task
}

func testCreateAndGetTask(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.CreateTask(ctx, model.Task{
		Title:        "write report",
		Priority:     model.PriorityHigh,
		DueDate:      base.Add(48 * time.Hour),
		ReminderTime: at(-time.Minute),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "write report", created.Title)
	require.Equal(t, model.PriorityHigh, created.Priority)
	require.False(t, created.Completed)
	require.False(t, created.Notified)
	require.Zero(t, created.DispatchAttempts)
	require.True(t, created.DueDate.Equal(base.Add(48*time.Hour)))
	require.NotNil(t, created.ReminderTime)
	require.True(t, created.ReminderTime.Equal(base.Add(-time.Minute)))

	got, err := s.GetTaskByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, model.NotificationPending, got.NotificationState(base))

	_, err = s.GetTaskByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Priority defaults to medium.
	plain := mustCreateTask(t, s, "plain", nil)
	require.Equal(t, model.PriorityMedium, plain.Priority)
	require.Nil(t, plain.ReminderTime)
}

func testCreateTaskValidation(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateTask(ctx, model.Task{Title: "  ", DueDate: base})
	require.Error(t, err)

	_, err = s.CreateTask(ctx, model.Task{Title: "no due date"})
	require.Error(t, err)

	_, err = s.CreateTask(ctx, model.Task{Title: "bad priority", DueDate: base, Priority: "urgent"})
	require.Error(t, err)
}

func testGetTasksFilter(t *testing.T, s store.Store) {
	ctx := context.Background()

	user, err := s.CreateUser(ctx, model.User{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)

	a, err := s.CreateTask(ctx, model.Task{Title: "b-task", DueDate: base, UserID: user.ID, Priority: model.PriorityLow})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, model.Task{Title: "a-task", DueDate: base, UserID: user.ID})
	require.NoError(t, err)
	mustCreateTask(t, s, "unowned", nil)

	_, err = s.CompleteTask(ctx, a.ID, base)
	require.NoError(t, err)

	all, err := s.GetTasks(ctx, store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	owned, err := s.GetTasks(ctx, store.TaskFilter{UserID: &user.ID, SortBy: "title"})
	require.NoError(t, err)
	require.Len(t, owned, 2)
	require.Equal(t, "a-task", owned[0].Title)
	require.Equal(t, "b-task", owned[1].Title)

	done := true
	completed, err := s.GetTasks(ctx, store.TaskFilter{Completed: &done})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, a.ID, completed[0].ID)

	low := model.PriorityLow
	lows, err := s.GetTasks(ctx, store.TaskFilter{Priority: &low})
	require.NoError(t, err)
	require.Len(t, lows, 1)

	page, err := s.GetTasks(ctx, store.TaskFilter{SortBy: "title", SortDesc: true, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "b-task", page[0].Title)
}

func testDeleteTask(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreateTask(t, s, "doomed", at(-time.Minute))

	require.NoError(t, s.DeleteTask(ctx, task.ID))
	_, err := s.GetTaskByID(ctx, task.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.DeleteTask(ctx, task.ID), store.ErrNotFound)

	due, err := s.FindDueUnnotified(ctx, base, 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func testFindDueUnnotified(t *testing.T, s store.Store) {
	ctx := context.Background()

	due := mustCreateTask(t, s, "due", at(-time.Minute))
	exact := mustCreateTask(t, s, "exact", at(0))
	mustCreateTask(t, s, "future", at(time.Hour))
	mustCreateTask(t, s, "no reminder", nil)
	completed := mustCreateTask(t, s, "completed", at(-2*time.Minute))
	notified := mustCreateTask(t, s, "notified", at(-3*time.Minute))
	claimed := mustCreateTask(t, s, "claimed", at(-4*time.Minute))

	_, err := s.CompleteTask(ctx, completed.ID, base)
	require.NoError(t, err)
	require.NoError(t, s.MarkNotified(ctx, notified.ID))
	ok, err := s.ClaimForDispatch(ctx, claimed.ID, base, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	tasks, err := s.FindDueUnnotified(ctx, base, 500)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, due.ID, tasks[0].ID)
	require.Equal(t, exact.ID, tasks[1].ID)
}

func testFindDueLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustCreateTask(t, s, "due", at(-time.Duration(i+1)*time.Minute))
	}

	tasks, err := s.FindDueUnnotified(ctx, base, 3)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.True(t, tasks[0].ReminderTime.Equal(base.Add(-5*time.Minute)))

	tasks, err = s.FindDueUnnotified(ctx, base, 0)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func testClaimForDispatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreateTask(t, s, "claim me", at(-time.Minute))

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimForDispatch(ctx, task.ID, base, time.Minute)
			if err != nil {
				t.Errorf("claiming: %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins)

	got, err := s.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.DispatchAttempts)
	require.NotNil(t, got.ClaimedAt)
	require.NotNil(t, got.ClaimExpiresAt)
	require.True(t, got.ClaimExpiresAt.Equal(base.Add(time.Minute)))
	require.Equal(t, model.NotificationClaimed, got.NotificationState(base))
}

func testClaimRejectsIneligible(t *testing.T, s store.Store) {
	ctx := context.Background()

	future := mustCreateTask(t, s, "future", at(time.Hour))
	none := mustCreateTask(t, s, "none", nil)
	completed := mustCreateTask(t, s, "completed", at(-time.Minute))
	notified := mustCreateTask(t, s, "notified", at(-time.Minute))

	_, err := s.CompleteTask(ctx, completed.ID, base)
	require.NoError(t, err)
	require.NoError(t, s.MarkNotified(ctx, notified.ID))

	for _, id := range []string{future.ID, none.ID, completed.ID, notified.ID, "missing"} {
		ok, err := s.ClaimForDispatch(ctx, id, base, time.Minute)
		require.NoError(t, err)
		require.False(t, ok, "task %s should not be claimable", id)
	}

	got, err := s.GetTaskByID(ctx, future.ID)
	require.NoError(t, err)
	require.Zero(t, got.DispatchAttempts)
	require.Nil(t, got.ClaimedAt)
}

func testStuckClaimReclaimed(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreateTask(t, s, "stuck", at(-time.Minute))

	ok, err := s.ClaimForDispatch(ctx, task.ID, base, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Still held before expiry.
	ok, err = s.ClaimForDispatch(ctx, task.ID, base.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	later := base.Add(2 * time.Minute)
	tasks, err := s.FindDueUnnotified(ctx, later, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	ok, err = s.ClaimForDispatch(ctx, task.ID, later, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.DispatchAttempts)
}

func testMarkNotified(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreateTask(t, s, "notify", at(-time.Minute))

	ok, err := s.ClaimForDispatch(ctx, task.ID, base, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.MarkNotified(ctx, task.ID))
	require.NoError(t, s.MarkNotified(ctx, task.ID))

	got, err := s.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, got.Notified)
	require.Nil(t, got.ClaimExpiresAt)
	require.Equal(t, model.NotificationSent, got.NotificationState(base))

	// Never eligible again, even long after.
	tasks, err := s.FindDueUnnotified(ctx, base.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, tasks)

	require.ErrorIs(t, s.MarkNotified(ctx, "missing"), store.ErrNotFound)
}

func testMarkDispatchFailed(t *testing.T, s store.Store) {
	ctx := context.Background()
	task := mustCreateTask(t, s, "fail", at(-time.Minute))

	require.NoError(t, s.MarkDispatchFailed(ctx, task.ID, base))

	got, err := s.GetTaskByID(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DispatchFailedAt)
	require.True(t, got.DispatchFailedAt.Equal(base))

	require.ErrorIs(t, s.MarkDispatchFailed(ctx, "missing", base), store.ErrNotFound)
}

func testCompleteTaskStreak(t *testing.T, s store.Store) {
	ctx := context.Background()

	user, err := s.CreateUser(ctx, model.User{Name: "Grace", Email: "grace@example.com"})
	require.NoError(t, err)
	require.Zero(t, user.Streak)

	newTask := func() *model.Task {
		task, err := s.CreateTask(ctx, model.Task{
			Title:        "streak",
			DueDate:      base,
			UserID:       user.ID,
			ReminderTime: at(-time.Minute),
		})
		require.NoError(t, err)
		return task
	}

	first := newTask()
	done, err := s.CompleteTask(ctx, first.ID, base)
	require.NoError(t, err)
	require.True(t, done.Completed)
	require.NotNil(t, done.CompletedAt)

	got, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Streak)

	// Completing again is a no-op.
	_, err = s.CompleteTask(ctx, first.ID, base.Add(48*time.Hour))
	require.NoError(t, err)

	// Same day leaves the streak alone.
	_, err = s.CompleteTask(ctx, newTask().ID, base.Add(time.Hour))
	require.NoError(t, err)
	got, err = s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Streak)

	// Next day extends it.
	_, err = s.CompleteTask(ctx, newTask().ID, base.Add(24*time.Hour))
	require.NoError(t, err)
	got, err = s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Streak)
	require.NotNil(t, got.LastCompletedDate)

	// Completed tasks are no longer due.
	tasks, err := s.FindDueUnnotified(ctx, base, 10)
	require.NoError(t, err)
	require.Empty(t, tasks)

	_, err = s.CompleteTask(ctx, "missing", base)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateUser(ctx, model.User{Name: "nobody"})
	require.Error(t, err)

	bob, err := s.CreateUser(ctx, model.User{Name: "Bob", Phone: "+15550001"})
	require.NoError(t, err)
	alice, err := s.CreateUser(ctx, model.User{Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	users, err := s.GetUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, alice.ID, users[0].ID)
	require.Equal(t, bob.ID, users[1].ID)

	bob.Email = "bob@example.com"
	require.NoError(t, s.UpdateUser(ctx, *bob))
	got, err := s.GetUserByID(ctx, bob.ID)
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", got.Email)
	require.Equal(t, "+15550001", got.Phone)

	// A user built by the caller carries no creation time; the stored one stays.
	require.NotZero(t, alice.CreatedAt)
	require.NoError(t, s.UpdateUser(ctx, model.User{ID: alice.ID, Name: "Alice Liddell", Email: alice.Email}))
	got, err = s.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "Alice Liddell", got.Name)
	require.WithinDuration(t, alice.CreatedAt, got.CreatedAt, time.Millisecond)

	require.ErrorIs(t, s.UpdateUser(ctx, model.User{ID: "missing"}), store.ErrNotFound)
	_, err = s.GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testCountTasksCreatedSince(t *testing.T, s store.Store) {
	ctx := context.Background()

	user, err := s.CreateUser(ctx, model.User{Name: "Lin", Email: "lin@example.com"})
	require.NoError(t, err)

	create := func(created time.Time) *model.Task {
		task, err := s.CreateTask(ctx, model.Task{
			Title:     "counted",
			DueDate:   base,
			UserID:    user.ID,
			CreatedAt: created,
		})
		require.NoError(t, err)
		return task
	}

	old := create(base.Add(-10 * 24 * time.Hour))
	recent := create(base.Add(-2 * 24 * time.Hour))
	create(base.Add(-time.Hour))
	mustCreateTask(t, s, "someone else", nil)

	_, err = s.CompleteTask(ctx, old.ID, base)
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, recent.ID, base)
	require.NoError(t, err)

	total, completed, err := s.CountTasksCreatedSince(ctx, user.ID, base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, 1, completed)

	total, completed, err = s.CountTasksCreatedSince(ctx, "nobody", base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, total)
	require.Zero(t, completed)
}
