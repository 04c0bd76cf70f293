// Package counter maintains the denormalized counters of an entity,
// such as the followers_count of an account, under concurrent updates.
package counter

import (
	"context"
)

// Fields define the counter's field and value
type Fields map[string]int64

// Copy return a copy of fields
func (p Fields) Copy() Fields {
	copied := make(Fields, len(p))
	for k, v := range p {
		copied[k] = v
	}
	return copied
}

// Store is the persistence primitive of the counters.
// Add must be implemented with the atomic primitive of the storage,
// never with read-modify-write in application code.
type Store interface {
	// Add atomic add delta to the field of entityID,return the new value
	Add(ctx context.Context, entityID, field string, delta int64) (int64, error)
	// Get the value of the field,missing entity reads as the field default
	Get(ctx context.Context, entityID, field string) (int64, error)
	// Set overwrite the value of the field
	Set(ctx context.Context, entityID, field string, value int64) error
	// Create init the counters of entityID with fields
	Create(ctx context.Context, entityID string, fields Fields) error
	// Delete remove all the counters of entityID
	Delete(ctx context.Context, entityID string) error
}

// Persist counter fields to the persist storage
type Persist interface {
	// Load the fields of counterID from persist storage,zero fields if not exist
	Load(ctx context.Context, counterID string) (fields Fields, err error)

	// Del delete the counter whose id is `counterID`
	Del(ctx context.Context, counterID string) (deleted bool, err error)

	// Store save the value of fields with counterID
	Store(ctx context.Context, counterID string, fields Fields) error
}

// StorePersist adapt a Store to Persist
type StorePersist struct {
	store  Store
	schema *Schema
}

// NewStorePersist create StorePersist
func NewStorePersist(store Store, schema *Schema) *StorePersist {
	return &StorePersist{store: store, schema: schema}
}

// Load implements Persist.Load
func (p *StorePersist) Load(ctx context.Context, counterID string) (Fields, error) {
	fields := Fields{}
	for _, name := range p.schema.Names() {
		v, err := p.store.Get(ctx, counterID, name)
		if err != nil {
			return nil, err
		}
		fields[name] = v
	}
	return fields, nil
}

// Del implements Persist.Del
func (p *StorePersist) Del(ctx context.Context, counterID string) (bool, error) {
	if err := p.store.Delete(ctx, counterID); err != nil {
		return false, err
	}
	return true, nil
}

// Store implements Persist.Store
func (p *StorePersist) Store(ctx context.Context, counterID string, fields Fields) error {
	if err := p.schema.Validate(fields); err != nil {
		return err
	}
	for k, v := range fields {
		if err := p.store.Set(ctx, counterID, k, v); err != nil {
			return err
		}
	}
	return nil
}
