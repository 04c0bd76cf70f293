package counter

import (
	"context"
	"sync"

	c "github.com/d0ngw/counters/common"
	"go.uber.org/atomic"
)

const memoryShards = 32

// MemoryStore keeps the counters in process,every field is an atomic integer
type MemoryStore struct {
	schema *Schema
	shards [memoryShards]*memoryShard
}

type memoryShard struct {
	sync.RWMutex
	entities map[string]memoryEntity
}

// memoryEntity 创建后字段集合不再变化,只通过原子操作修改值
type memoryEntity map[string]*atomic.Int64

// NewMemoryStore create MemoryStore
func NewMemoryStore(schema *Schema) *MemoryStore {
	store := &MemoryStore{schema: schema}
	for i := range store.shards {
		store.shards[i] = &memoryShard{entities: map[string]memoryEntity{}}
	}
	return store
}

func (p *MemoryStore) shard(entityID string) *memoryShard {
	return p.shards[c.Fnv32Hashcode(entityID)%memoryShards]
}

func (p *MemoryStore) newEntity(fields Fields) memoryEntity {
	entity := memoryEntity{}
	for name, v := range p.schema.ZeroFields() {
		if fv, ok := fields[name]; ok {
			v = fv
		}
		entity[name] = atomic.NewInt64(v)
	}
	return entity
}

func (p *MemoryStore) lookup(entityID string) memoryEntity {
	shard := p.shard(entityID)
	shard.RLock()
	defer shard.RUnlock()
	return shard.entities[entityID]
}

func (p *MemoryStore) lookupOrCreate(entityID string) memoryEntity {
	if entity := p.lookup(entityID); entity != nil {
		return entity
	}
	shard := p.shard(entityID)
	shard.Lock()
	defer shard.Unlock()
	entity := shard.entities[entityID]
	if entity == nil {
		entity = p.newEntity(nil)
		shard.entities[entityID] = entity
	}
	return entity
}

func (p *MemoryStore) value(entity memoryEntity, field string) (*atomic.Int64, error) {
	v, ok := entity[field]
	if !ok {
		_, err := p.schema.Lookup(field)
		return nil, err
	}
	return v, nil
}

// Add implements Store.Add
func (p *MemoryStore) Add(ctx context.Context, entityID, field string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, err := p.value(p.lookupOrCreate(entityID), field)
	if err != nil {
		return 0, err
	}
	return v.Add(delta), nil
}

// Get implements Store.Get
func (p *MemoryStore) Get(ctx context.Context, entityID, field string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	def, err := p.schema.Lookup(field)
	if err != nil {
		return 0, err
	}
	entity := p.lookup(entityID)
	if entity == nil {
		return def.Default, nil
	}
	return entity[field].Load(), nil
}

// Set implements Store.Set
func (p *MemoryStore) Set(ctx context.Context, entityID, field string, value int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := p.value(p.lookupOrCreate(entityID), field)
	if err != nil {
		return err
	}
	v.Store(value)
	return nil
}

// Create implements Store.Create
func (p *MemoryStore) Create(ctx context.Context, entityID string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.schema.Validate(fields); err != nil {
		return err
	}
	entity := p.newEntity(fields)
	shard := p.shard(entityID)
	shard.Lock()
	defer shard.Unlock()
	shard.entities[entityID] = entity
	return nil
}

// Delete implements Store.Delete
func (p *MemoryStore) Delete(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	shard := p.shard(entityID)
	shard.Lock()
	defer shard.Unlock()
	delete(shard.entities, entityID)
	return nil
}
