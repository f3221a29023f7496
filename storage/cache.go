package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/eishaa-e/flowboard/domain"
)

var _ Backend = (*Cache)(nil)

// generationTTL bounds how long an idle board's generation counter is kept.
const generationTTL = 24 * time.Hour

var errStaleFill = errors.New("board changed while listing")

// Cache wraps a Backend with Redis-backed caching of board task lists. Every
// task mutation evicts the board's entry and bumps its generation; a list
// read from the backend is only cached when the generation did not move
// while it was read.
type Cache struct {
	Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend wrapper using the provided Redis client
// and TTL. A nil client or zero TTL disables caching.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Backend: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, boardID); ok {
		return tasks, nil
	}

	gen, genOK := c.generation(ctx, boardID)
	tasks, err := c.Backend.ListTasks(ctx, boardID)
	if err != nil {
		return nil, err
	}

	if genOK {
		c.storeTasks(ctx, boardID, gen, tasks)
	}
	return tasks, nil
}

func (c *Cache) CreateTask(ctx context.Context, boardID, title string, lane domain.Lane) (domain.Task, error) {
	t, err := c.Backend.CreateTask(ctx, boardID, title, lane)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, boardID)
	return t, nil
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t, err := c.Backend.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.BoardID)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t, err := c.Backend.UpdateTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.BoardID)
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	t, err := c.Backend.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Backend.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, t.BoardID)
	return nil
}

func (c *Cache) BulkReposition(ctx context.Context, boardID string, changes []domain.Change) error {
	if err := c.Backend.BulkReposition(ctx, boardID, changes); err != nil {
		return err
	}
	c.evict(ctx, boardID)
	return nil
}

func (c *Cache) DeleteBoard(ctx context.Context, id string) error {
	if err := c.Backend.DeleteBoard(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

// DeleteWorkspace evicts every board of the workspace once the cascade
// succeeded.
func (c *Cache) DeleteWorkspace(ctx context.Context, id string) error {
	boards, err := c.Backend.ListBoards(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Backend.DeleteWorkspace(ctx, id); err != nil {
		return err
	}
	ids := make([]string, 0, len(boards))
	for _, b := range boards {
		ids = append(ids, b.ID)
	}
	c.evict(ctx, ids...)
	return nil
}

func (c *Cache) loadTasks(ctx context.Context, boardID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(boardID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(boardID)).Err()
		return nil, false
	}
	return tasks, true
}

// generation returns the board's mutation counter. A missing counter reads
// as zero.
func (c *Cache) generation(ctx context.Context, boardID string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	return readGeneration(ctx, c.redis, boardID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, cmd getter, boardID string) (int64, bool) {
	gen, err := cmd.Get(ctx, generationKey(boardID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

// storeTasks caches tasks unless the board's generation moved past gen.
func (c *Cache) storeTasks(ctx context.Context, boardID string, gen int64, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, ok := readGeneration(ctx, tx, boardID)
		if !ok || cur != gen {
			return errStaleFill
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tasksCacheKey(boardID), data, c.ttl)
			return nil
		})
		return err
	}, generationKey(boardID))
}

func (c *Cache) evict(ctx context.Context, boardIDs ...string) {
	if c.redis == nil || len(boardIDs) == 0 {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range boardIDs {
			pipe.Incr(ctx, generationKey(id))
			pipe.Expire(ctx, generationKey(id), generationTTL)
			pipe.Del(ctx, tasksCacheKey(id))
		}
		return nil
	})
}

func tasksCacheKey(boardID string) string {
	return "tasks:" + boardID
}

func generationKey(boardID string) string {
	return "tasks-gen:" + boardID
}
