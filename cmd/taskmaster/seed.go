package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/taskmaster/internal/model"
	"github.com/nhle/taskmaster/internal/store"
)

// seedData is the JSON layout accepted by --seed.
type seedData struct {
	Users []seedUser `json:"users"`
	Tasks []seedTask `json:"tasks"`
}

type seedUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type seedTask struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title"`
	Priority     string     `json:"priority"`
	DueDate      time.Time  `json:"due_date"`
	ReminderTime *time.Time `json:"reminder_time"`
}

// seedFile imports users and tasks. Records whose id already exists are
// left alone so the same file can be applied on every start.
func seedFile(ctx context.Context, st store.Store, path string, logger log.FieldLogger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed file %s: %w", path, err)
	}
	var data seedData
	if err := sonic.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	users, tasks := 0, 0
	for _, u := range data.Users {
		if u.ID != "" {
			if _, err := st.GetUserByID(ctx, u.ID); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		if _, err := st.CreateUser(ctx, model.User{
			ID:    u.ID,
			Name:  u.Name,
			Email: u.Email,
			Phone: u.Phone,
		}); err != nil {
			return fmt.Errorf("seeding user %q: %w", u.Name, err)
		}
		users++
	}

	for _, t := range data.Tasks {
		if t.ID != "" {
			if _, err := st.GetTaskByID(ctx, t.ID); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}
		if _, err := st.CreateTask(ctx, model.Task{
			ID:           t.ID,
			UserID:       t.UserID,
			Title:        t.Title,
			Priority:     model.Priority(t.Priority),
			DueDate:      t.DueDate,
			ReminderTime: t.ReminderTime,
		}); err != nil {
			return fmt.Errorf("seeding task %q: %w", t.Title, err)
		}
		tasks++
	}

	logger.WithFields(log.Fields{"users": users, "tasks": tasks}).Info("seed data imported")
	return nil
}
