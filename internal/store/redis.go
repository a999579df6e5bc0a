package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nhle/taskmaster/internal/model"
)

// redisKeys holds every key used by RedisStore. All keys share one hash
// tag so the Lua scripts touch a single cluster slot.
type redisKeys struct {
	prefix    string
	tasks     string // ZSET id -> created_at ms
	reminders string // ZSET id -> reminder_time ms, pending tasks only
	users     string // SET of user ids
}

func keysFor(prefix string) redisKeys {
	p := "{" + prefix + "}:"
	return redisKeys{
		prefix:    p,
		tasks:     p + "tasks",
		reminders: p + "reminders",
		users:     p + "users",
	}
}

func (k redisKeys) task(id string) string      { return k.prefix + "task:" + id }
func (k redisKeys) user(id string) string      { return k.prefix + "user:" + id }
func (k redisKeys) userTasks(id string) string { return k.prefix + "user_tasks:" + id }

// Task hash fields. The immutable body is a JSON document in fieldDoc;
// fields that the scripts read or write are kept as plain hash fields.
const (
	fieldDoc              = "doc"
	fieldReminderTime     = "reminder_time"
	fieldCompleted        = "completed"
	fieldCompletedAt      = "completed_at"
	fieldNotified         = "notified"
	fieldClaimedAt        = "claimed_at"
	fieldClaimExpiresAt   = "claim_expires_at"
	fieldDispatchAttempts = "dispatch_attempts"
	fieldDispatchFailedAt = "dispatch_failed_at"
	fieldUpdatedAt        = "updated_at"
)

// taskDoc is the JSON body of a task.
type taskDoc struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id,omitempty"`
	Title        string `json:"title"`
	Priority     string `json:"priority"`
	DueDate      int64  `json:"due_date"`
	ReminderTime *int64 `json:"reminder_time,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// userDoc is the JSON document stored for a user.
type userDoc struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Streak          int    `json:"streak"`
	LastCompletedAt *int64 `json:"last_completed_at,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// claimScript takes the dispatch claim if the task is due, pending and not
// held by an unexpired claim. Returns 1 on success, 0 otherwise.
var claimScript = redis.NewScript(
	// language=Lua
	`
	local k = KEYS[1]
	local now = tonumber(ARGV[1])
	local f = redis.call('HMGET', k, 'doc', 'notified', 'completed', 'claim_expires_at', 'reminder_time')
	if not f[1] then return 0 end
	if f[2] == '1' or f[3] == '1' then return 0 end
	local rt = tonumber(f[5])
	if not rt or rt > now then return 0 end
	local exp = tonumber(f[4])
	if exp and exp > now then return 0 end
	redis.call('HSET', k, 'claimed_at', ARGV[1], 'claim_expires_at', ARGV[2], 'updated_at', ARGV[1])
	redis.call('HINCRBY', k, 'dispatch_attempts', 1)
	return 1
	`,
)

// markNotifiedScript sets notified=1, drops the claim expiry and removes the
// task from the reminder index. Returns -1 if missing, 0 if already
// notified, 1 otherwise.
var markNotifiedScript = redis.NewScript(
	// language=Lua
	`
	local k = KEYS[1]
	if redis.call('EXISTS', k) == 0 then return -1 end
	if redis.call('HGET', k, 'notified') == '1' then return 0 end
	redis.call('HSET', k, 'notified', '1', 'updated_at', ARGV[2])
	redis.call('HDEL', k, 'claim_expires_at')
	redis.call('ZREM', KEYS[2], ARGV[1])
	return 1
	`,
)

// setIfExistsScript sets one field on an existing hash. Returns 0 if the
// hash is missing.
var setIfExistsScript = redis.NewScript(
	// language=Lua
	`
	if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2], 'updated_at', ARGV[3])
	return 1
	`,
)

// RedisStore implements Store on Redis. Tasks are hashes holding a JSON
// document plus the dispatch state fields; a sorted set indexes pending
// reminders by time.
type RedisStore struct {
	rdb  redis.UniversalClient
	keys redisKeys
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store on rdb with keys namespaced by prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "taskmaster"
	}
	return &RedisStore{rdb: rdb, keys: keysFor(prefix)}
}

// OpenRedisStore parses a redis URL, connects and verifies the connection.
func OpenRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisStore(rdb, prefix), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// CreateTask stores a new pending task and indexes its reminder time.
func (s *RedisStore) CreateTask(ctx context.Context, task model.Task) (*model.Task, error) {
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
	createdAt := task.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := taskDoc{
		ID:        task.ID,
		UserID:    task.UserID,
		Title:     task.Title,
		Priority:  string(priority),
		DueDate:   millis(task.DueDate),
		CreatedAt: millis(createdAt),
	}
	if task.ReminderTime != nil {
		rt := millis(*task.ReminderTime)
		doc.ReminderTime = &rt
	}
	raw, err := sonic.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding task %s: %w", task.ID, err)
	}

	key := s.keys.task(task.ID)
	added, err := s.rdb.ZAddNX(ctx, s.keys.tasks, redis.Z{Score: float64(doc.CreatedAt), Member: task.ID}).Result()
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	if added == 0 {
		return nil, fmt.Errorf("creating task: duplicate id %s", task.ID)
	}

	fields := map[string]interface{}{
		fieldDoc:              raw,
		fieldCompleted:        "0",
		fieldNotified:         "0",
		fieldDispatchAttempts: 0,
		fieldUpdatedAt:        millis(now),
	}
	if doc.ReminderTime != nil {
		fields[fieldReminderTime] = *doc.ReminderTime
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fields)
		if doc.ReminderTime != nil {
			p.ZAdd(ctx, s.keys.reminders, redis.Z{Score: float64(*doc.ReminderTime), Member: task.ID})
		}
		if doc.UserID != "" {
			p.ZAdd(ctx, s.keys.userTasks(doc.UserID), redis.Z{Score: float64(doc.CreatedAt), Member: task.ID})
		}
		return nil
	})
	if err != nil {
		_ = s.rdb.ZRem(ctx, s.keys.tasks, task.ID).Err()
		return nil, fmt.Errorf("creating task %s: %w", task.ID, err)
	}

	return s.GetTaskByID(ctx, task.ID)
}

// GetTaskByID retrieves a single task by its ID.
func (s *RedisStore) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	return s.readTask(ctx, s.rdb, id)
}

func (s *RedisStore) readTask(ctx context.Context, c hashGetter, id string) (*model.Task, error) {
	fields, err := c.HGetAll(ctx, s.keys.task(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	task, err := decodeTask(fields)
	if err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", id, err)
	}
	return &task, nil
}

// loadTasks fetches the hashes for ids in one pipeline, skipping ids whose
// hash has disappeared.
func (s *RedisStore) loadTasks(ctx context.Context, ids []string) ([]model.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.keys.task(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}

	tasks := make([]model.Task, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		task, err := decodeTask(fields)
		if err != nil {
			return nil, fmt.Errorf("decoding task %s: %w", ids[i], err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// GetTasks retrieves tasks matching the filter. Filtering and non-default
// sorting happen client side.
func (s *RedisStore) GetTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	index := s.keys.tasks
	if filter.UserID != nil {
		index = s.keys.userTasks(*filter.UserID)
	}
	ids, err := s.rdb.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}

	all, err := s.loadTasks(ctx, ids)
	if err != nil {
		return nil, err
	}

	tasks := all[:0]
	for _, t := range all {
		if filter.Completed != nil && t.Completed != *filter.Completed {
			continue
		}
		if filter.Priority != nil && t.Priority != *filter.Priority {
			continue
		}
		tasks = append(tasks, t)
	}

	sortTasks(tasks, filter.SortBy, filter.SortDesc)

	if filter.Limit > 0 {
		start := filter.Offset
		if start > len(tasks) {
			start = len(tasks)
		}
		end := start + filter.Limit
		if end > len(tasks) {
			end = len(tasks)
		}
		tasks = tasks[start:end]
	}
	return tasks, nil
}

// sortTasks orders tasks the way SQLiteStore.GetTasks does, with id as the
// tie breaker and missing reminder times first.
func sortTasks(tasks []model.Task, sortBy string, desc bool) {
	key := func(t model.Task) string {
		switch sortBy {
		case "title":
			return t.Title
		case "due_date":
			return fmt.Sprintf("%020d", t.DueDate.UnixMilli())
		case "reminder_time":
			if t.ReminderTime == nil {
				return ""
			}
			return fmt.Sprintf("%020d", t.ReminderTime.UnixMilli())
		default:
			return fmt.Sprintf("%020d", t.CreatedAt.UnixMilli())
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		ki, kj := key(tasks[i]), key(tasks[j])
		if ki == kj {
			return tasks[i].ID < tasks[j].ID
		}
		if desc {
			return ki > kj
		}
		return ki < kj
	})
}

// CompleteTask marks the task completed and extends the owner's streak.
// Both writes go out in one MULTI/EXEC, watched so a concurrent change to
// either key retries the whole completion.
func (s *RedisStore) CompleteTask(ctx context.Context, id string, now time.Time) (*model.Task, error) {
	now = now.UTC()
	task, err := s.GetTaskByID(ctx, id)
	if err != nil {
		return nil, err
	}

	taskKey := s.keys.task(id)
	keys := []string{taskKey}
	if task.UserID != "" {
		keys = append(keys, s.keys.user(task.UserID))
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.readTask(ctx, tx, id)
			if err != nil {
				return err
			}
			if current.Completed {
				return nil
			}

			var userRaw []byte
			if current.UserID != "" {
				user, err := s.readUser(ctx, tx, current.UserID)
				switch {
				case errors.Is(err, ErrNotFound):
				case err != nil:
					return err
				default:
					user.RecordCompletion(now)
					if userRaw, err = encodeUser(*user, now); err != nil {
						return err
					}
				}
			}

			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				ms := millis(now)
				p.HSet(ctx, taskKey, fieldCompleted, "1", fieldCompletedAt, ms, fieldUpdatedAt, ms)
				p.ZRem(ctx, s.keys.reminders, id)
				if userRaw != nil {
					p.Set(ctx, s.keys.user(current.UserID), userRaw, 0)
				}
				return nil
			})
			return err
		}, keys...)
		switch {
		case err == nil:
			return s.GetTaskByID(ctx, id)
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound):
			return nil, err
		default:
			return nil, fmt.Errorf("completing task %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("completing task %s: too much contention", id)
}

// DeleteTask removes a task and its index entries.
func (s *RedisStore) DeleteTask(ctx context.Context, id string) error {
	task, err := s.GetTaskByID(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.keys.task(id))
		p.ZRem(ctx, s.keys.tasks, id)
		p.ZRem(ctx, s.keys.reminders, id)
		if task.UserID != "" {
			p.ZRem(ctx, s.keys.userTasks(task.UserID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}

// FindDueUnnotified walks the reminder index up to now, skipping tasks
// held by an unexpired claim, until limit tasks are collected.
func (s *RedisStore) FindDueUnnotified(ctx context.Context, now time.Time, limit int) ([]model.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	var due []model.Task
	maxScore := strconv.FormatInt(millis(now), 10)
	var offset int64
	page := int64(limit)
	for len(due) < limit {
		ids, err := s.rdb.ZRangeByScore(ctx, s.keys.reminders, &redis.ZRangeBy{
			Min:    "-inf",
			Max:    maxScore,
			Offset: offset,
			Count:  page,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("querying due tasks: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		offset += int64(len(ids))

		tasks, err := s.loadTasks(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.DueForReminder(now) {
				due = append(due, t)
				if len(due) == limit {
					break
				}
			}
		}
		if int64(len(ids)) < page {
			break
		}
	}
	return due, nil
}

// ClaimForDispatch takes the claim atomically inside a Lua script.
func (s *RedisStore) ClaimForDispatch(ctx context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := claimScript.Run(ctx, s.rdb,
		[]string{s.keys.task(id)},
		millis(now), millis(now.Add(ttl)),
	).Int()
	if err != nil {
		return false, fmt.Errorf("claiming task %s: %w", id, err)
	}
	return res == 1, nil
}

// MarkNotified sets notified=true and drops the task from the reminder
// index. Marking an already notified task is a no-op.
func (s *RedisStore) MarkNotified(ctx context.Context, id string) error {
	res, err := markNotifiedScript.Run(ctx, s.rdb,
		[]string{s.keys.task(id), s.keys.reminders},
		id, millis(time.Now()),
	).Int()
	if err != nil {
		return fmt.Errorf("marking task %s notified: %w", id, err)
	}
	if res < 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkDispatchFailed records the time at which all channels failed.
func (s *RedisStore) MarkDispatchFailed(ctx context.Context, id string, at time.Time) error {
	res, err := setIfExistsScript.Run(ctx, s.rdb,
		[]string{s.keys.task(id)},
		fieldDispatchFailedAt, millis(at), millis(time.Now()),
	).Int()
	if err != nil {
		return fmt.Errorf("marking task %s dispatch failed: %w", id, err)
	}
	if res == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountTasksCreatedSince counts the user's tasks created at or after since.
func (s *RedisStore) CountTasksCreatedSince(ctx context.Context, userID string, since time.Time) (int, int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.keys.userTasks(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(millis(since), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("counting tasks for user %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return 0, 0, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGet(ctx, s.keys.task(id), fieldCompleted)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("counting tasks for user %s: %w", userID, err)
	}

	total, completed := 0, 0
	for _, cmd := range cmds {
		v, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		total++
		if v == "1" {
			completed++
		}
	}
	return total, completed, nil
}

// CreateUser stores a new user document.
func (s *RedisStore) CreateUser(ctx context.Context, user model.User) (*model.User, error) {
	if strings.TrimSpace(user.Email) == "" && strings.TrimSpace(user.Phone) == "" {
		return nil, fmt.Errorf("user needs an email or a phone number")
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	user.CreatedAt = now

	raw, err := encodeUser(user, now)
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, s.keys.user(user.ID), raw, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("creating user: duplicate id %s", user.ID)
	}
	if err := s.rdb.SAdd(ctx, s.keys.users, user.ID).Err(); err != nil {
		return nil, fmt.Errorf("indexing user %s: %w", user.ID, err)
	}
	return s.GetUserByID(ctx, user.ID)
}

// UpdateUser replaces an existing user document. The stored creation time
// is kept whatever the caller passes.
func (s *RedisStore) UpdateUser(ctx context.Context, user model.User) error {
	key := s.keys.user(user.ID)

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := s.readUser(ctx, tx, user.ID)
			if err != nil {
				return err
			}
			user.CreatedAt = stored.CreatedAt
			raw, err := encodeUser(user, time.Now())
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, raw, 0)
				return nil
			})
			return err
		}, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound):
			return err
		default:
			return fmt.Errorf("updating user %s: %w", user.ID, err)
		}
	}
	return fmt.Errorf("updating user %s: too much contention", user.ID)
}

// GetUserByID retrieves a single user by ID.
func (s *RedisStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.readUser(ctx, s.rdb, id)
}

func (s *RedisStore) readUser(ctx context.Context, c stringGetter, id string) (*model.User, error) {
	raw, err := c.Get(ctx, s.keys.user(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	user, err := decodeUser(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", id, err)
	}
	return &user, nil
}

// stringGetter is satisfied by both the client and a WATCH transaction.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type hashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// GetUsers retrieves all users ordered by name.
func (s *RedisStore) GetUsers(ctx context.Context) ([]model.User, error) {
	ids, err := s.rdb.SMembers(ctx, s.keys.users).Result()
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	if len(ids) == 0 {
		return []model.User{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.user(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}

	users := make([]model.User, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		user, err := decodeUser([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("decoding user %s: %w", ids[i], err)
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name == users[j].Name {
			return users[i].ID < users[j].ID
		}
		return users[i].Name < users[j].Name
	})
	return users, nil
}

func decodeTask(fields map[string]string) (model.Task, error) {
	var doc taskDoc
	if err := sonic.Unmarshal([]byte(fields[fieldDoc]), &doc); err != nil {
		return model.Task{}, err
	}

	task := model.Task{
		ID:               doc.ID,
		UserID:           doc.UserID,
		Title:            doc.Title,
		Priority:         model.Priority(doc.Priority),
		DueDate:          fromMillis(doc.DueDate),
		Completed:        fields[fieldCompleted] == "1",
		CompletedAt:      hashTime(fields, fieldCompletedAt),
		Notified:         fields[fieldNotified] == "1",
		ClaimedAt:        hashTime(fields, fieldClaimedAt),
		ClaimExpiresAt:   hashTime(fields, fieldClaimExpiresAt),
		DispatchFailedAt: hashTime(fields, fieldDispatchFailedAt),
		CreatedAt:        fromMillis(doc.CreatedAt),
	}
	if doc.ReminderTime != nil {
		rt := fromMillis(*doc.ReminderTime)
		task.ReminderTime = &rt
	}
	if v, ok := fields[fieldDispatchAttempts]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return model.Task{}, fmt.Errorf("parsing %s: %w", fieldDispatchAttempts, err)
		}
		task.DispatchAttempts = n
	}
	if updated := hashTime(fields, fieldUpdatedAt); updated != nil {
		task.UpdatedAt = *updated
	}
	return task, nil
}

// hashTime parses an optional millisecond timestamp field.
func hashTime(fields map[string]string, name string) *time.Time {
	v, ok := fields[name]
	if !ok || v == "" {
		return nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := fromMillis(ms)
	return &t
}

func encodeUser(user model.User, now time.Time) ([]byte, error) {
	doc := userDoc{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Phone:     user.Phone,
		Streak:    user.Streak,
		CreatedAt: millis(user.CreatedAt),
		UpdatedAt: millis(now),
	}
	if user.LastCompletedDate != nil {
		ms := millis(*user.LastCompletedDate)
		doc.LastCompletedAt = &ms
	}
	raw, err := sonic.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding user %s: %w", user.ID, err)
	}
	return raw, nil
}

func decodeUser(raw []byte) (model.User, error) {
	var doc userDoc
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return model.User{}, err
	}
	user := model.User{
		ID:        doc.ID,
		Name:      doc.Name,
		Email:     doc.Email,
		Phone:     doc.Phone,
		Streak:    doc.Streak,
		CreatedAt: fromMillis(doc.CreatedAt),
		UpdatedAt: fromMillis(doc.UpdatedAt),
	}
	if doc.LastCompletedAt != nil {
		t := fromMillis(*doc.LastCompletedAt)
		user.LastCompletedDate = &t
	}
	return user, nil
}
