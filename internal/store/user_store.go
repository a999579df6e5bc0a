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

// userRow is the SQLite representation of a user.
type userRow struct {
	ID              string        `db:"id"`
	Name            string        `db:"name"`
	Email           string        `db:"email"`
	Phone           string        `db:"phone"`
	Streak          int           `db:"streak"`
	LastCompletedAt sql.NullInt64 `db:"last_completed_at"`
	CreatedAt       int64         `db:"created_at"`
	UpdatedAt       int64         `db:"updated_at"`
}

func (r userRow) toModel() model.User {
	return model.User{
		ID:                r.ID,
		Name:              r.Name,
		Email:             r.Email,
		Phone:             r.Phone,
		Streak:            r.Streak,
		LastCompletedDate: timePtr(r.LastCompletedAt),
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
	}
}

// CreateUser inserts a new user. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateUser(ctx context.Context, user model.User) (*model.User, error) {
	if strings.TrimSpace(user.Email) == "" && strings.TrimSpace(user.Phone) == "" {
		return nil, fmt.Errorf("user needs an email or a phone number")
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			id, name, email, phone, streak, last_completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.Phone,
		user.Streak, nullMillis(user.LastCompletedDate),
		millis(user.CreatedAt), millis(user.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return s.GetUserByID(ctx, user.ID)
}

// UpdateUser updates an existing user by ID.
func (s *SQLiteStore) UpdateUser(ctx context.Context, user model.User) error {
	return updateUser(ctx, s.db, user)
}

func updateUser(ctx context.Context, e sqlx.ExecerContext, user model.User) error {
	result, err := e.ExecContext(ctx, `
		UPDATE users SET
			name = ?, email = ?, phone = ?,
			streak = ?, last_completed_at = ?, updated_at = ?
		WHERE id = ?`,
		user.Name, user.Email, user.Phone,
		user.Streak, nullMillis(user.LastCompletedDate), millis(time.Now()),
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", user.ID, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user %s: %w", user.ID, ErrNotFound)
	}
	return nil
}

// GetUserByID retrieves a single user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, q sqlx.QueryerContext, id string) (*model.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT * FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}

	user := row.toModel()
	return &user, nil
}

// GetUsers retrieves all users ordered by name.
func (s *SQLiteStore) GetUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM users ORDER BY name, id"); err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}

	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toModel())
	}
	return users, nil
}
