package counter

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/d0ngw/counters/cache"
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const testGroup = "counter"

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *cache.RedisClient) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	conf := &cache.RedisConf{
		Servers: []*cache.RedisServer{{ID: "r1", Host: mr.Host(), Port: port}},
		Groups:  map[string][]string{testGroup: {"r1"}},
	}
	require.NoError(t, conf.Parse())
	client := cache.NewRedisClientWithConf(conf)
	t.Cleanup(client.Close)
	return mr, client
}

func newTestBadger(t *testing.T) *badger.DB {
	db, err := OpenBadger(&BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

type testRedisStore struct {
	*RedisStore
	mr      *miniredis.Miniredis
	persist *MemoryStore
}

func newTestRedisStore(t *testing.T, slots int) *testRedisStore {
	mr, client := newTestRedis(t)
	persist := NewMemoryStore(AccountSchema)
	store, err := NewRedisStore(client, NewStorePersist(persist, AccountSchema), AccountSchema, cache.NewParamConf(testGroup, "t:", 0), slots)
	require.NoError(t, err)
	return &testRedisStore{RedisStore: store, mr: mr, persist: persist}
}

// storeFactories build every store implementation for the shared tests
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		StoreMemory: func(t *testing.T) Store {
			return NewMemoryStore(AccountSchema)
		},
		StoreBadger: func(t *testing.T) Store {
			store, err := NewBadgerStore(newTestBadger(t), AccountSchema)
			require.NoError(t, err)
			return store
		},
		StoreRedis: func(t *testing.T) Store {
			return newTestRedisStore(t, 4).RedisStore
		},
	}
}

// faultStore fails every call while fail is set,without touching the wrapped store
type faultStore struct {
	Store
	fail atomic.Bool
}

var errInjected = errors.New("connection refused")

func (p *faultStore) Add(ctx context.Context, entityID, field string, delta int64) (int64, error) {
	if p.fail.Load() {
		return 0, errInjected
	}
	return p.Store.Add(ctx, entityID, field, delta)
}

func (p *faultStore) Get(ctx context.Context, entityID, field string) (int64, error) {
	if p.fail.Load() {
		return 0, errInjected
	}
	return p.Store.Get(ctx, entityID, field)
}

// slowStore blocks until the deadline
type slowStore struct {
	Store
}

func (p *slowStore) Add(ctx context.Context, entityID, field string, delta int64) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// mapSource is the authoritative counts keyed by entity and field
type mapSource struct {
	mu     sync.Mutex
	counts map[string]Fields
}

func newMapSource() *mapSource {
	return &mapSource{counts: map[string]Fields{}}
}

func (p *mapSource) set(entityID, field string, v int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[entityID] == nil {
		p.counts[entityID] = Fields{}
	}
	p.counts[entityID][field] = v
}

func (p *mapSource) Count(ctx context.Context, entityID, field string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[entityID][field], nil
}

func parallel(n int, f func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			f(i)
		}(i)
	}
	wg.Wait()
}
