package counter

import (
	"context"
	"time"

	c "github.com/d0ngw/counters/common"
	"github.com/pkg/errors"
)

// Reconciler recompute the counters from the Source and overwrite the stored values
type Reconciler struct {
	engine *Engine
	source Source
}

// NewReconciler create Reconciler
func NewReconciler(engine *Engine, source Source) (*Reconciler, error) {
	if c.HasNil(engine, source) {
		return nil, errors.New("engine and source must be set")
	}
	return &Reconciler{engine: engine, source: source}, nil
}

// Reconcile set the fields of entityID to the exact source counts,all the fields if none is given.
// It return the corrected values.
func (p *Reconciler) Reconcile(ctx context.Context, entityID string, fields ...string) (result Fields, err error) {
	if err = checkEntityID(entityID); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = p.engine.schema.Names()
	}
	for _, field := range fields {
		if _, err = p.engine.schema.Lookup(field); err != nil {
			return nil, err
		}
	}

	result = Fields{}
	for _, field := range fields {
		v, err := p.reconcileField(ctx, entityID, field)
		if err != nil {
			return result, err
		}
		result[field] = v
	}
	return result, nil
}

func (p *Reconciler) reconcileField(ctx context.Context, entityID, field string) (v int64, err error) {
	start := time.Now()
	defer func() {
		p.engine.metrics.observe(OpReconcile, field, start, err)
	}()
	ctx, cancel := p.engine.withTimeout(ctx)
	defer cancel()

	v, err = p.source.Count(ctx, entityID, field)
	if err != nil {
		if !IsValidationError(err) {
			err = errors.Wrapf(storeError(ctx, err), "count %s of %s", field, entityID)
		}
		return 0, err
	}
	old, err := p.engine.store.Get(ctx, entityID, field)
	if err != nil {
		err = errors.Wrapf(storeError(ctx, err), "read %s of %s", field, entityID)
		return 0, err
	}
	if old == v {
		return v, nil
	}
	if err = p.engine.store.Set(ctx, entityID, field, v); err != nil {
		err = errors.Wrapf(storeError(ctx, err), "set %s of %s", field, entityID)
		return 0, err
	}
	c.Warnf("reconcile %s of %s,drift:%d,from %d to %d", field, entityID, old-v, old, v)
	p.engine.metrics.reconcileDrift(field)
	return v, nil
}

// ReconcileDirty drain at most batch ids from tracker and reconcile them.
// The ids failed to reconcile are marked dirty again.
func (p *Reconciler) ReconcileDirty(ctx context.Context, tracker DirtyTracker, batch int) (int, error) {
	if tracker == nil {
		return 0, errors.New("no dirty tracker")
	}
	ids, err := tracker.Drain(ctx, batch)
	if err != nil {
		return 0, err
	}
	var reconciled int
	var failed []string
	for _, id := range ids {
		if ctx.Err() != nil {
			failed = append(failed, id)
			continue
		}
		if _, err := p.Reconcile(ctx, id); err != nil {
			c.Errorf("reconcile %s fail,err:%v", id, err)
			failed = append(failed, id)
			continue
		}
		reconciled++
	}
	if len(failed) > 0 {
		if err := tracker.Mark(context.Background(), failed...); err != nil {
			c.Errorf("mark %d ids dirty again fail,err:%v", len(failed), err)
		}
	}
	c.Infof("reconcile dirty,drained:%d,reconciled:%d,failed:%d", len(ids), reconciled, len(failed))
	return reconciled, nil
}
