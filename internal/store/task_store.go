package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/taskmaster/internal/model"
)

// taskRow is the SQLite representation of a task.
type taskRow struct {
	ID               string         `db:"id"`
	UserID           sql.NullString `db:"user_id"`
	Title            string         `db:"title"`
	Priority         string         `db:"priority"`
	DueDate          int64          `db:"due_date"`
	ReminderTime     sql.NullInt64  `db:"reminder_time"`
	Completed        int            `db:"completed"`
	CompletedAt      sql.NullInt64  `db:"completed_at"`
	Notified         int            `db:"notified"`
	CreatedAt        int64          `db:"created_at"`
	UpdatedAt        int64          `db:"updated_at"`
	ClaimedAt        sql.NullInt64  `db:"claimed_at"`
	ClaimExpiresAt   sql.NullInt64  `db:"claim_expires_at"`
	DispatchAttempts int            `db:"dispatch_attempts"`
	DispatchFailedAt sql.NullInt64  `db:"dispatch_failed_at"`
}

func (r taskRow) toModel() model.Task {
	return model.Task{
		ID:               r.ID,
		UserID:           r.UserID.String,
		Title:            r.Title,
		Priority:         model.Priority(r.Priority),
		DueDate:          fromMillis(r.DueDate),
		ReminderTime:     timePtr(r.ReminderTime),
		Completed:        r.Completed != 0,
		CompletedAt:      timePtr(r.CompletedAt),
		Notified:         r.Notified != 0,
		ClaimedAt:        timePtr(r.ClaimedAt),
		ClaimExpiresAt:   timePtr(r.ClaimExpiresAt),
		DispatchAttempts: r.DispatchAttempts,
		DispatchFailedAt: timePtr(r.DispatchFailedAt),
		CreatedAt:        fromMillis(r.CreatedAt),
		UpdatedAt:        fromMillis(r.UpdatedAt),
	}
}

func rowsToTasks(rows []taskRow) []model.Task {
	tasks := make([]model.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toModel())
	}
	return tasks
}

// CreateTask inserts a new task with notified=false and completed=false.
// Generates a UUID if ID is empty, defaults the priority to medium, and
// keeps a caller-supplied CreatedAt so imported tasks retain their age.
func (s *SQLiteStore) CreateTask(ctx context.Context, task model.Task) (*model.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	priority, err := model.ParsePriority(string(task.Priority))
	if err != nil {
		return nil, err
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	task.Priority = priority
	task.Completed = false
	task.CompletedAt = nil
	task.Notified = false
	task.ClaimedAt = nil
	task.ClaimExpiresAt = nil
	task.DispatchAttempts = 0
	task.DispatchFailedAt = nil
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, user_id, title, priority,
			due_date, reminder_time,
			completed, notified,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		task.ID, nullString(task.UserID), task.Title, string(task.Priority),
		millis(task.DueDate), nullMillis(task.ReminderTime),
		millis(task.CreatedAt), millis(task.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	return s.GetTaskByID(ctx, task.ID)
}

// GetTasks retrieves tasks matching the provided filter options.
func (s *SQLiteStore) GetTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	var conditions []string
	var args []interface{}

	if filter.UserID != nil {
		conditions = append(conditions, "user_id = ?")
		args = append(args, *filter.UserID)
	}
	if filter.Completed != nil {
		conditions = append(conditions, "completed = ?")
		args = append(args, boolToInt(*filter.Completed))
	}
	if filter.Priority != nil {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(*filter.Priority))
	}

	query := "SELECT * FROM tasks"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	sortBy := "created_at"
	allowedSorts := map[string]bool{
		"created_at":    true,
		"due_date":      true,
		"reminder_time": true,
		"title":         true,
	}
	if allowedSorts[filter.SortBy] {
		sortBy = filter.SortBy
	}

	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id ASC", sortBy, direction)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}

	return rowsToTasks(rows), nil
}

// GetTaskByID retrieves a single task by its ID.
func (s *SQLiteStore) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	return getTask(ctx, s.db, id)
}

// getTask loads a task through either the database or a transaction.
func getTask(ctx context.Context, q sqlx.QueryerContext, id string) (*model.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT * FROM tasks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}

	task := row.toModel()
	return &task, nil
}

// CompleteTask marks the task completed and records the completion on the
// owning user's streak in the same transaction.
func (s *SQLiteStore) CompleteTask(ctx context.Context, id string, now time.Time) (*model.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	task, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if task.Completed {
		return task, nil
	}

	now = now.UTC()
	_, err = tx.ExecContext(ctx,
		"UPDATE tasks SET completed = 1, completed_at = ?, updated_at = ? WHERE id = ?",
		millis(now), millis(now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("completing task %s: %w", id, err)
	}

	if task.UserID != "" {
		user, err := getUser(ctx, tx, task.UserID)
		switch {
		case errors.Is(err, ErrNotFound):
			// Owner was deleted; nothing to record.
		case err != nil:
			return nil, err
		default:
			user.RecordCompletion(now)
			if err := updateUser(ctx, tx, *user); err != nil {
				return nil, err
			}
		}
	}

	completed, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing task completion %s: %w", id, err)
	}
	return completed, nil
}

// DeleteTask removes a task by ID.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// FindDueUnnotified selects tasks whose reminder is due at now and which
// are neither completed, notified, nor held by an unexpired claim.
func (s *SQLiteStore) FindDueUnnotified(ctx context.Context, now time.Time, limit int) ([]model.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	nowMs := millis(now)
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM tasks
		WHERE reminder_time IS NOT NULL
			AND reminder_time <= ?
			AND completed = 0
			AND notified = 0
			AND (claim_expires_at IS NULL OR claim_expires_at <= ?)
		ORDER BY reminder_time ASC, id ASC
		LIMIT ?`,
		nowMs, nowMs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying due tasks: %w", err)
	}

	return rowsToTasks(rows), nil
}

// ClaimForDispatch takes the claim with a single conditional UPDATE. The
// WHERE clause repeats the eligibility predicate, so of any number of
// concurrent callers at most one sees a changed row.
func (s *SQLiteStore) ClaimForDispatch(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	nowMs := millis(now)
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			claimed_at = ?,
			claim_expires_at = ?,
			dispatch_attempts = dispatch_attempts + 1,
			updated_at = ?
		WHERE id = ?
			AND notified = 0
			AND completed = 0
			AND reminder_time IS NOT NULL
			AND reminder_time <= ?
			AND (claim_expires_at IS NULL OR claim_expires_at <= ?)`,
		nowMs, millis(now.Add(ttl)), nowMs,
		id, nowMs, nowMs,
	)
	if err != nil {
		return false, fmt.Errorf("claiming task %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming task %s: %w", id, err)
	}
	return rows == 1, nil
}

// MarkNotified sets notified=true and clears the claim expiry. Marking an
// already notified task is a no-op.
func (s *SQLiteStore) MarkNotified(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET notified = 1, claim_expires_at = NULL, updated_at = ?
		WHERE id = ? AND notified = 0`,
		millis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("marking task %s notified: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := s.GetTaskByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkDispatchFailed records the time at which all channels failed.
func (s *SQLiteStore) MarkDispatchFailed(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET dispatch_failed_at = ?, updated_at = ? WHERE id = ?",
		millis(at), millis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("marking task %s dispatch failed: %w", id, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountTasksCreatedSince counts the user's tasks created at or after since.
func (s *SQLiteStore) CountTasksCreatedSince(
	ctx context.Context,
	userID string,
	since time.Time,
) (int, int, error) {
	var counts struct {
		Total     int `db:"total"`
		Completed int `db:"completed"`
	}
	err := s.db.GetContext(ctx, &counts, `
		SELECT COUNT(*) AS total, COALESCE(SUM(completed), 0) AS completed
		FROM tasks
		WHERE user_id = ? AND created_at >= ?`,
		userID, millis(since),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("counting tasks for user %s: %w", userID, err)
	}
	return counts.Total, counts.Completed, nil
}
