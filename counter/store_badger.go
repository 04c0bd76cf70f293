package counter

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/d0ngw/counters/cache"
	c "github.com/d0ngw/counters/common"
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// DefaultMaxConflictRetries is the max retries of a conflicted transaction
const DefaultMaxConflictRetries = 1000

// BadgerConfig config the embedded badger db
type BadgerConfig struct {
	Dir        string `yaml:"dir"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// Parse implements Configurer
func (p *BadgerConfig) Parse() error {
	if !p.InMemory && p.Dir == "" {
		return errors.New("badger dir must be set when not in memory")
	}
	return nil
}

// badgerLogger adapts the `badger` child logger to badger.Logger,badger's info goes to debug
type badgerLogger struct {
	c.Logger
}

func newBadgerLogger() badgerLogger {
	return badgerLogger{Logger: c.Named("badger")}
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Debugf(format, args...)
}

// OpenBadger open the badger db of conf
func OpenBadger(conf *BadgerConfig) (*badger.DB, error) {
	if err := conf.Parse(); err != nil {
		return nil, err
	}
	var opts badger.Options
	if conf.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(conf.Dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create badger dir %s", conf.Dir)
		}
		opts = badger.DefaultOptions(conf.Dir)
	}
	opts = opts.WithSyncWrites(conf.SyncWrites).WithNumVersionsToKeep(1).WithLogger(newBadgerLogger())
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return db, nil
}

type badgerRecord struct {
	Value     int64 `codec:"v"`
	UpdatedAt int64 `codec:"t"`
}

// BadgerStore keeps the counters in an embedded badger db.
// Add runs in an optimistic transaction which is retried on badger.ErrConflict.
type BadgerStore struct {
	db         *badger.DB
	schema     *Schema
	maxRetries int
}

// NewBadgerStore create BadgerStore
func NewBadgerStore(db *badger.DB, schema *Schema) (*BadgerStore, error) {
	if c.HasNil(db, schema) {
		return nil, errors.New("db and schema must be set")
	}
	return &BadgerStore{db: db, schema: schema, maxRetries: DefaultMaxConflictRetries}, nil
}

func (p *BadgerStore) checkEntity(entityID string) error {
	if entityID == "" || strings.Contains(entityID, "/") {
		return errors.Wrapf(ErrInvalidEntity, "entity id %q must not be empty or contain `/`", entityID)
	}
	return nil
}

func (p *BadgerStore) entityPrefix(entityID string) []byte {
	return []byte("c/" + entityID + "/")
}

func (p *BadgerStore) fieldKey(entityID, field string) []byte {
	return []byte("c/" + entityID + "/" + field)
}

func (p *BadgerStore) read(txn *badger.Txn, key []byte, def FieldDef) (int64, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return def.Default, nil
	}
	if err != nil {
		return 0, err
	}
	var record badgerRecord
	if err = item.Value(func(val []byte) error {
		return cache.MsgPackDecodeBytes(val, &record)
	}); err != nil {
		return 0, err
	}
	return record.Value, nil
}

func (p *BadgerStore) write(txn *badger.Txn, key []byte, value int64) error {
	bytes, err := cache.MsgPackEncodeBytes(&badgerRecord{Value: value, UpdatedAt: c.UnixMills(time.Now())})
	if err != nil {
		return err
	}
	return txn.Set(key, bytes)
}

// Add implements Store.Add
func (p *BadgerStore) Add(ctx context.Context, entityID, field string, delta int64) (int64, error) {
	def, err := p.schema.Lookup(field)
	if err != nil {
		return 0, err
	}
	if err = p.checkEntity(entityID); err != nil {
		return 0, err
	}
	key := p.fieldKey(entityID, field)
	for i := 0; i < p.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		var v int64
		err := p.db.Update(func(txn *badger.Txn) error {
			current, err := p.read(txn, key, def)
			if err != nil {
				return err
			}
			v = current + delta
			return p.write(txn, key, v)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, errors.Wrapf(err, "add %s of %s", field, entityID)
		}
		return v, nil
	}
	return 0, errors.Errorf("add %s of %s conflicted %d times", field, entityID, p.maxRetries)
}

// Get implements Store.Get
func (p *BadgerStore) Get(ctx context.Context, entityID, field string) (v int64, err error) {
	def, err := p.schema.Lookup(field)
	if err != nil {
		return 0, err
	}
	if err = p.checkEntity(entityID); err != nil {
		return 0, err
	}
	if err = ctx.Err(); err != nil {
		return 0, err
	}
	err = p.db.View(func(txn *badger.Txn) error {
		v, err = p.read(txn, p.fieldKey(entityID, field), def)
		return err
	})
	return v, errors.Wrapf(err, "get %s of %s", field, entityID)
}

// Set implements Store.Set
func (p *BadgerStore) Set(ctx context.Context, entityID, field string, value int64) error {
	if _, err := p.schema.Lookup(field); err != nil {
		return err
	}
	if err := p.checkEntity(entityID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := p.db.Update(func(txn *badger.Txn) error {
		return p.write(txn, p.fieldKey(entityID, field), value)
	})
	return errors.Wrapf(err, "set %s of %s", field, entityID)
}

// Create implements Store.Create
func (p *BadgerStore) Create(ctx context.Context, entityID string, fields Fields) error {
	completed, err := p.schema.Complete(fields)
	if err != nil {
		return err
	}
	if err = p.checkEntity(entityID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = p.db.Update(func(txn *badger.Txn) error {
		for k, v := range completed {
			if err := p.write(txn, p.fieldKey(entityID, k), v); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "create %s", entityID)
}

// Delete implements Store.Delete
func (p *BadgerStore) Delete(ctx context.Context, entityID string) error {
	if err := p.checkEntity(entityID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := p.entityPrefix(entityID)
	err := p.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "delete %s", entityID)
}
