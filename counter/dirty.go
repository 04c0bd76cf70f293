package counter

import (
	"context"
	"sync"

	"github.com/d0ngw/counters/cache"
	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

// DirtyTracker records the entities whose counters changed since the last reconciliation
type DirtyTracker interface {
	// Mark ids as dirty
	Mark(ctx context.Context, ids ...string) error
	// Drain remove and return at most limit dirty ids
	Drain(ctx context.Context, limit int) ([]string, error)
	// Len the count of dirty ids
	Len(ctx context.Context) (int64, error)
}

// MemoryDirtyTracker keeps dirty ids in process
type MemoryDirtyTracker struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewMemoryDirtyTracker create MemoryDirtyTracker
func NewMemoryDirtyTracker() *MemoryDirtyTracker {
	return &MemoryDirtyTracker{ids: map[string]struct{}{}}
}

// Mark implements DirtyTracker.Mark
func (p *MemoryDirtyTracker) Mark(ctx context.Context, ids ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		p.ids[id] = struct{}{}
	}
	return nil
}

// Drain implements DirtyTracker.Drain
func (p *MemoryDirtyTracker) Drain(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, limit)
	for id := range p.ids {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, id)
		delete(p.ids, id)
	}
	return ids, nil
}

// Len implements DirtyTracker.Len
func (p *MemoryDirtyTracker) Len(ctx context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.ids)), nil
}

// RedisDirtyTracker keeps dirty ids in a redis set,so it is shared by all the processes
type RedisDirtyTracker struct {
	client *cache.RedisClient
	param  cache.Param
}

// NewRedisDirtyTracker create RedisDirtyTracker,the set key is param.Key()
func NewRedisDirtyTracker(client *cache.RedisClient, param cache.Param) (*RedisDirtyTracker, error) {
	if client == nil || param == nil || param.Key() == "" {
		return nil, errors.New("redis client and param must be set")
	}
	return &RedisDirtyTracker{client: client, param: param}, nil
}

// Mark implements DirtyTracker.Mark
func (p *RedisDirtyTracker) Mark(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, p.param.Key())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := p.client.Cmd(ctx, p.param, cache.SADD, args...)
	return errors.Wrap(err, "mark dirty")
}

// Drain implements DirtyTracker.Drain
func (p *RedisDirtyTracker) Drain(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := redis.Strings(p.client.Cmd(ctx, p.param, cache.SPOP, p.param.Key(), limit))
	if err == redis.ErrNil {
		return nil, nil
	}
	return ids, errors.Wrap(err, "drain dirty")
}

// Len implements DirtyTracker.Len
func (p *RedisDirtyTracker) Len(ctx context.Context) (int64, error) {
	n, err := redis.Int64(p.client.Cmd(ctx, p.param, cache.SCARD, p.param.Key()))
	return n, errors.Wrap(err, "dirty len")
}
