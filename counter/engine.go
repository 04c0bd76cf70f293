package counter

import (
	"context"
	"time"

	c "github.com/d0ngw/counters/common"
	"github.com/pkg/errors"
)

// 操作名称
const (
	OpIncrement = "increment"
	OpDecrement = "decrement"
	OpRead      = "read"
	OpCreate    = "create"
	OpDelete    = "delete"
	OpReconcile = "reconcile"
)

// Option config the Engine
type Option func(*Engine)

// WithTimeout bound every store round-trip by timeout,0 means only the caller's deadline
func WithTimeout(timeout time.Duration) Option {
	return func(p *Engine) {
		p.timeout = timeout
	}
}

// WithDirtyTracker mark the entity dirty after every successful write
func WithDirtyTracker(tracker DirtyTracker) Option {
	return func(p *Engine) {
		p.dirty = tracker
	}
}

// WithNegativeHook call hook when a decrement leaves the counter below zero.
// The hook runs inside Decrement after the store write and must not block,hand the warning off instead.
func WithNegativeHook(hook NegativeHook) Option {
	return func(p *Engine) {
		p.onNegative = hook
	}
}

// WithMetrics record the operations to metrics
func WithMetrics(metrics *Metrics) Option {
	return func(p *Engine) {
		p.metrics = metrics
	}
}

// Engine maintains the counters of the entities.
// It holds no lock,the atomicity of every operation comes from Store.Add.
type Engine struct {
	store      Store
	schema     *Schema
	timeout    time.Duration
	dirty      DirtyTracker
	onNegative NegativeHook
	metrics    *Metrics
}

// NewEngine create Engine
func NewEngine(store Store, schema *Schema, opts ...Option) (*Engine, error) {
	if c.HasNil(store, schema) {
		return nil, errors.New("store and schema must be set")
	}
	engine := &Engine{store: store, schema: schema}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.timeout < 0 {
		return nil, errors.Errorf("invalid timeout %s", engine.timeout)
	}
	return engine, nil
}

// Schema of the engine
func (p *Engine) Schema() *Schema {
	return p.schema
}

// Store of the engine
func (p *Engine) Store() Store {
	return p.store
}

// Increment add amount to the field of entityID,return the new value
func (p *Engine) Increment(ctx context.Context, entityID, field string, amount int64) (int64, error) {
	return p.apply(ctx, OpIncrement, entityID, field, amount)
}

// IncrementOne add 1 to the field of entityID
func (p *Engine) IncrementOne(ctx context.Context, entityID, field string) (int64, error) {
	return p.Increment(ctx, entityID, field, 1)
}

// Decrement subtract amount from the field of entityID,return the new value.
// The value is not clamped at zero,a negative result is reported by the NegativeHook.
func (p *Engine) Decrement(ctx context.Context, entityID, field string, amount int64) (int64, error) {
	return p.apply(ctx, OpDecrement, entityID, field, amount)
}

// DecrementOne subtract 1 from the field of entityID
func (p *Engine) DecrementOne(ctx context.Context, entityID, field string) (int64, error) {
	return p.Decrement(ctx, entityID, field, 1)
}

// Read the committed value of the field of entityID
func (p *Engine) Read(ctx context.Context, entityID, field string) (v int64, err error) {
	start := time.Now()
	defer func() {
		p.metrics.observe(OpRead, field, start, err)
	}()
	if err = p.check(entityID, field); err != nil {
		return 0, err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	v, err = p.store.Get(ctx, entityID, field)
	if err != nil {
		err = errors.Wrapf(storeError(ctx, err), "read %s of %s", field, entityID)
		return 0, err
	}
	return v, nil
}

// ReadAll read all the registered fields of entityID
func (p *Engine) ReadAll(ctx context.Context, entityID string) (Fields, error) {
	fields := Fields{}
	for _, name := range p.schema.Names() {
		v, err := p.Read(ctx, entityID, name)
		if err != nil {
			return nil, err
		}
		fields[name] = v
	}
	return fields, nil
}

// Create init the counters of entityID to the field defaults
func (p *Engine) Create(ctx context.Context, entityID string) (err error) {
	start := time.Now()
	defer func() {
		p.metrics.observe(OpCreate, "", start, err)
	}()
	if err = checkEntityID(entityID); err != nil {
		return err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	if err = p.store.Create(ctx, entityID, p.schema.ZeroFields()); err != nil {
		err = errors.Wrapf(storeError(ctx, err), "create counters of %s", entityID)
		return err
	}
	return nil
}

// Delete remove the counters of entityID
func (p *Engine) Delete(ctx context.Context, entityID string) (err error) {
	start := time.Now()
	defer func() {
		p.metrics.observe(OpDelete, "", start, err)
	}()
	if err = checkEntityID(entityID); err != nil {
		return err
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	if err = p.store.Delete(ctx, entityID); err != nil {
		err = errors.Wrapf(storeError(ctx, err), "delete counters of %s", entityID)
		return err
	}
	return nil
}

func (p *Engine) apply(ctx context.Context, op, entityID, field string, amount int64) (v int64, err error) {
	start := time.Now()
	defer func() {
		p.metrics.observe(op, field, start, err)
	}()
	if err = p.check(entityID, field); err != nil {
		return 0, err
	}
	if amount <= 0 {
		err = errors.Wrapf(ErrInvalidAmount, "%s %s by %d", op, field, amount)
		return 0, err
	}
	delta := amount
	if op == OpDecrement {
		delta = -amount
	}

	tctx, cancel := p.withTimeout(ctx)
	defer cancel()
	v, err = p.store.Add(tctx, entityID, field, delta)
	if err != nil {
		err = errors.Wrapf(storeError(tctx, err), "%s %s of %s by %d", op, field, entityID, amount)
		return 0, err
	}

	if c.DebugEnabled() {
		c.Debugf("%s %s of %s by %d,value:%d", op, field, entityID, amount, v)
	}
	if v < 0 && op == OpDecrement {
		p.negative(ctx, &NegativeResultWarning{EntityID: entityID, Field: field, Delta: delta, Value: v})
	}
	p.markDirty(ctx, entityID)
	return v, nil
}

func (p *Engine) negative(ctx context.Context, warning *NegativeResultWarning) {
	c.Warnw("negative counter value", "entity_id", warning.EntityID, "field", warning.Field, "delta", warning.Delta, "value", warning.Value)
	p.metrics.negativeResult(warning.Field)
	if p.onNegative != nil {
		p.onNegative(ctx, warning)
	}
}

func (p *Engine) markDirty(ctx context.Context, entityID string) {
	if p.dirty == nil {
		return
	}
	if err := p.dirty.Mark(ctx, entityID); err != nil {
		c.Errorf("mark %s dirty fail,err:%v", entityID, err)
	}
}

func (p *Engine) check(entityID, field string) error {
	if err := checkEntityID(entityID); err != nil {
		return err
	}
	_, err := p.schema.Lookup(field)
	return err
}

func (p *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(ctx, p.timeout)
	}
	return context.WithCancel(ctx)
}

func checkEntityID(entityID string) error {
	if entityID == "" {
		return errors.Wrap(ErrInvalidEntity, "empty entity id")
	}
	return nil
}
