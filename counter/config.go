package counter

import (
	"time"

	"github.com/pkg/errors"
)

// Store kinds
const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
	StoreBadger = "badger"
)

// 默认配置
const (
	DefaultTable       = "account_stats"
	DefaultIDColumn    = "account_id"
	DefaultTimeoutMs   = 3000
	DefaultSlots       = 16
	DefaultBatch       = 500
	DefaultReconcile   = "@every 10m"
	DefaultSync        = "@every 1m"
	DefaultRedisPrefix = "cnt:"
)

// RedisStoreConfig config RedisStore and its RedisSync
type RedisStoreConfig struct {
	Group           string `yaml:"group"`
	KeyPrefix       string `yaml:"key_prefix"`
	Slots           int    `yaml:"slots"`
	DirtyKey        string `yaml:"dirty_key"`
	RedisSyncConfig `yaml:",inline"`
}

// Parse implements Configurer
func (p *RedisStoreConfig) Parse() error {
	if p.Group == "" {
		return errors.New("redis group of counter must be set")
	}
	if p.KeyPrefix == "" {
		p.KeyPrefix = DefaultRedisPrefix
	}
	if p.Slots <= 0 {
		p.Slots = DefaultSlots
	}
	if p.DirtyKey == "" {
		p.DirtyKey = p.KeyPrefix + "s.dirty"
	}
	if p.SlotMaxItems <= 0 {
		p.SlotMaxItems = 100000
	}
	if p.MinSyncVersionChanges <= 0 {
		p.MinSyncVersionChanges = 10
	}
	if p.MinSyncIntervalMs <= 0 {
		p.MinSyncIntervalMs = 60 * 1000
	}
	if p.EvictIntervalMs <= 0 {
		p.EvictIntervalMs = 30 * 60 * 1000
	}
	return p.RedisSyncConfig.Parse()
}

// CounterConfig config the engine and its store
type CounterConfig struct {
	Store            string            `yaml:"store"`   //memory,mysql,redis,badger
	Persist          string            `yaml:"persist"` //redis的持久化存储:mysql,badger,memory
	TimeoutMs        int               `yaml:"timeout_ms"`
	Table            string            `yaml:"table"`
	IDColumn         string            `yaml:"id_column"`
	Dirty            string            `yaml:"dirty"` //脏数据记录:memory,redis,空表示不记录
	MetricsNamespace string            `yaml:"metrics_namespace"`
	Redis            *RedisStoreConfig `yaml:"redis"`
	Badger           *BadgerConfig     `yaml:"badger"`
}

// Parse implements Configurer
func (p *CounterConfig) Parse() error {
	if p.Store == "" {
		p.Store = StoreMemory
	}
	if p.TimeoutMs == 0 {
		p.TimeoutMs = DefaultTimeoutMs
	}
	if p.TimeoutMs < 0 {
		return errors.Errorf("invalid timeout_ms %d", p.TimeoutMs)
	}
	if p.Table == "" {
		p.Table = DefaultTable
	}
	if p.IDColumn == "" {
		p.IDColumn = DefaultIDColumn
	}

	switch p.Store {
	case StoreMemory, StoreMySQL:
	case StoreBadger:
		if p.Badger == nil {
			return errors.New("badger store needs badger config")
		}
	case StoreRedis:
		if p.Redis == nil {
			return errors.New("redis store needs redis config")
		}
		if p.Persist == "" {
			p.Persist = StoreMySQL
		}
		switch p.Persist {
		case StoreMemory, StoreMySQL:
		case StoreBadger:
			if p.Badger == nil {
				return errors.New("badger persist needs badger config")
			}
		default:
			return errors.Errorf("invalid persist %q of redis store", p.Persist)
		}
	default:
		return errors.Errorf("invalid counter store %q", p.Store)
	}

	switch p.Dirty {
	case "", StoreMemory:
	case StoreRedis:
		if p.Redis == nil {
			return errors.New("redis dirty tracker needs redis config")
		}
	default:
		return errors.Errorf("invalid dirty tracker %q", p.Dirty)
	}

	if p.Redis != nil {
		if err := p.Redis.Parse(); err != nil {
			return err
		}
	}
	if p.Badger != nil {
		if err := p.Badger.Parse(); err != nil {
			return err
		}
	}
	return nil
}

// Timeout of every store round-trip
func (p *CounterConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// ReconcileConfig config the reconciliation cadence and its source
type ReconcileConfig struct {
	Spec     string       `yaml:"spec"`      //对账的cron表达式
	SyncSpec string       `yaml:"sync_spec"` //redis回写的cron表达式
	Batch    int          `yaml:"batch"`
	Rules    []SourceRule `yaml:"rules"`
}

// Parse implements Configurer
func (p *ReconcileConfig) Parse() error {
	if p.Spec == "" {
		p.Spec = DefaultReconcile
	}
	if p.SyncSpec == "" {
		p.SyncSpec = DefaultSync
	}
	if p.Batch <= 0 {
		p.Batch = DefaultBatch
	}
	if len(p.Rules) == 0 {
		p.Rules = AccountSourceRules()
	}
	for i := range p.Rules {
		if err := p.Rules[i].Parse(); err != nil {
			return err
		}
	}
	return nil
}
