package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"
	"nuha.dev/textgps/internal/gpsv2/position"
	"nuha.dev/textgps/internal/store"
)

// Latest keeps the most recent position of every device.
type Latest interface {
	store.Store
	Latest(ctx context.Context, device_id uint64) (*position.Position, error)
}

func key(device_id uint64) string {
	return "gps:latest:" + strconv.FormatUint(device_id, 10)
}

type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	in  chan *position.Position
	log log.Logger
}

func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return NewRedisWithClient(rdb, ttl), nil
}

func NewRedisWithClient(rdb *redis.Client, ttl time.Duration) *Redis {
	c := &Redis{rdb: rdb, ttl: ttl, in: make(chan *position.Position, 1024)}
	c.log = log.DefaultLogger
	c.log.Context = log.NewContext(nil).Str("module", "cache").Value()
	return c
}

func (c *Redis) Run(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				c.rdb.Close()
				return
			case pos := <-c.in:
				if err := c.set(ctx, pos); err != nil {
					c.log.Error().Err(err).Uint64("device_id", pos.DeviceID).Msg("error caching position")
				}
			}
		}
	}()
}

func (c *Redis) Put(pos *position.Position) {
	select {
	case c.in <- pos:
	default:
		c.log.Warn().Uint64("device_id", pos.DeviceID).Msg("cache is behind, skipping position")
	}
}

func (c *Redis) set(ctx context.Context, pos *position.Position) error {
	d, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Set(ctx, key(pos.DeviceID), d, c.ttl).Err()
}

func (c *Redis) Latest(ctx context.Context, device_id uint64) (*position.Position, error) {
	d, err := c.rdb.Get(ctx, key(device_id)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	pos := &position.Position{}
	if err := json.Unmarshal(d, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// Memory is the in-process Latest used when no redis is configured.
type Memory struct {
	mu   sync.RWMutex
	list map[uint64]*position.Position
}

func NewMemory() *Memory {
	return &Memory{list: make(map[uint64]*position.Position)}
}

func (m *Memory) Put(pos *position.Position) {
	m.mu.Lock()
	if old, ok := m.list[pos.DeviceID]; !ok || !pos.DeviceTime.Before(old.DeviceTime) {
		m.list[pos.DeviceID] = pos
	}
	m.mu.Unlock()
}

func (m *Memory) Latest(ctx context.Context, device_id uint64) (*position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.list[device_id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return pos, nil
}
