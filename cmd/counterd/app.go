package main

import (
	"context"
	"time"

	"github.com/d0ngw/counters/cache"
	c "github.com/d0ngw/counters/common"
	"github.com/d0ngw/counters/counter"
	"github.com/d0ngw/counters/http"
	"github.com/d0ngw/counters/orm"
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the components built from Config
type app struct {
	conf       *Config
	schema     *counter.Schema
	registry   *prometheus.Registry
	db         *orm.SimpleDBService
	redis      *cache.RedisClient
	badger     *badger.DB
	store      counter.Store
	mysql      *counter.MySQLStore
	engine     *counter.Engine
	tracker    counter.DirtyTracker
	reconciler *counter.Reconciler
	sync       *counter.RedisSync
	closers    []func() error
}

// newApp build the engine and its store from conf,opts are appended to the engine options
func newApp(conf *Config, opts ...counter.Option) (*app, error) {
	a := &app{conf: conf, schema: counter.AccountSchema, registry: prometheus.NewRegistry()}
	if err := a.build(opts); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(opts []counter.Option) (err error) {
	conf := a.conf
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if conf.DB != nil {
		a.db = orm.NewSimpleDBService(conf.DB, orm.NewMySQLDBPool)
		if err = a.db.Init(); err != nil {
			return errors.Wrap(err, "init db")
		}
		a.closers = append(a.closers, a.db.Close)
	}
	if conf.Redis != nil {
		a.redis = cache.NewRedisClientWithConf(conf.Redis)
		a.closers = append(a.closers, func() error {
			a.redis.Close()
			return nil
		})
	}

	if a.store, err = a.buildStore(conf.Counter.Store); err != nil {
		return err
	}
	if a.tracker, err = a.buildTracker(); err != nil {
		return err
	}

	var metrics *counter.Metrics
	metrics, err = counter.NewMetrics(conf.Counter.MetricsNamespace, a.registry)
	if err != nil {
		return err
	}
	engineOpts := []counter.Option{counter.WithTimeout(conf.Counter.Timeout()), counter.WithMetrics(metrics)}
	if a.tracker != nil {
		engineOpts = append(engineOpts, counter.WithDirtyTracker(a.tracker))
	}
	if a.engine, err = counter.NewEngine(a.store, a.schema, append(engineOpts, opts...)...); err != nil {
		return err
	}

	if a.db != nil {
		var source *counter.SQLSource
		if source, err = counter.NewSQLSource(a.db, a.schema, conf.Reconcile.Rules...); err != nil {
			return err
		}
		if a.reconciler, err = counter.NewReconciler(a.engine, source); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) buildStore(kind string) (counter.Store, error) {
	conf := a.conf.Counter
	switch kind {
	case counter.StoreMemory:
		return counter.NewMemoryStore(a.schema), nil
	case counter.StoreMySQL:
		if a.mysql == nil {
			store, err := counter.NewMySQLStore(a.db, a.schema, conf.Table, conf.IDColumn)
			if err != nil {
				return nil, err
			}
			a.mysql = store
		}
		return a.mysql, nil
	case counter.StoreBadger:
		db, err := a.openBadger()
		if err != nil {
			return nil, err
		}
		return counter.NewBadgerStore(db, a.schema)
	case counter.StoreRedis:
		var persist counter.Persist
		if conf.Persist == counter.StoreMySQL {
			if _, err := a.buildStore(counter.StoreMySQL); err != nil {
				return nil, err
			}
			persist = a.mysql
		} else {
			store, err := a.buildStore(conf.Persist)
			if err != nil {
				return nil, err
			}
			persist = counter.NewStorePersist(store, a.schema)
		}
		redisConf := conf.Redis
		store, err := counter.NewRedisStore(a.redis, persist, a.schema, cache.NewParamConf(redisConf.Group, redisConf.KeyPrefix, 0), redisConf.Slots)
		if err != nil {
			return nil, err
		}
		if a.sync, err = counter.NewRedisSync(store, redisConf.RedisSyncConfig); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, errors.Errorf("invalid counter store %q", kind)
}

func (a *app) openBadger() (*badger.DB, error) {
	if a.badger != nil {
		return a.badger, nil
	}
	db, err := counter.OpenBadger(a.conf.Counter.Badger)
	if err != nil {
		return nil, err
	}
	a.badger = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) buildTracker() (counter.DirtyTracker, error) {
	switch a.conf.Counter.Dirty {
	case counter.StoreMemory:
		return counter.NewMemoryDirtyTracker(), nil
	case counter.StoreRedis:
		redisConf := a.conf.Counter.Redis
		return counter.NewRedisDirtyTracker(a.redis, cache.NewParamConf(redisConf.Group, "", 0).NewRawParamKey(redisConf.DirtyKey))
	}
	return nil, nil
}

// jobs return the scheduled jobs of the app
func (a *app) jobs() []counter.Job {
	var jobs []counter.Job
	if a.reconciler != nil && a.tracker != nil {
		jobs = append(jobs, counter.ReconcileJob(a.conf.Reconcile.Spec, a.reconciler, a.tracker, a.conf.Reconcile.Batch))
	}
	if a.sync != nil {
		jobs = append(jobs, counter.SyncJob(a.conf.Reconcile.SyncSpec, a.sync))
	}
	return jobs
}

// healthChecks check the stores the app depends on
func (a *app) healthChecks() []http.HealthCheck {
	var checks []http.HealthCheck
	if a.db != nil {
		checks = append(checks, http.HealthCheck{Name: "mysql", Check: func(ctx context.Context) error {
			op, err := a.db.NewOp()
			if err != nil {
				return err
			}
			return op.DB().PingContext(ctx)
		}})
	}
	if a.redis != nil {
		checks = append(checks, http.HealthCheck{Name: "redis", Check: a.redis.Ping})
	}
	if a.badger != nil {
		checks = append(checks, http.HealthCheck{Name: "badger", Check: func(ctx context.Context) error {
			if a.badger.IsClosed() {
				return errors.New("badger is closed")
			}
			return nil
		}})
	}
	return checks
}

// flush write back the pending redis counters before exit
func (a *app) flush(timeout time.Duration) {
	if a.sync == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	stats, err := a.sync.Flush(ctx)
	if err != nil {
		c.Errorf("flush redis counters fail,err:%v", err)
		return
	}
	c.Infof("flush redis counters,synced:%d", stats.Synced)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			c.Errorf("close fail,err:%v", err)
		}
	}
	a.closers = nil
}
