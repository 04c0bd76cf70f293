package counter

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/d0ngw/counters/cache"
	c "github.com/d0ngw/counters/common"
	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
)

// maxInitRetries 从persist初始化计数器的最大次数
const maxInitRetries = 3

// RedisStore keeps the hot counters in redis hashes in front of a Persist.
// A counter missing in redis is loaded from the Persist,the changes are written back by RedisSync.
type RedisStore struct {
	client     *cache.RedisClient
	scripts    *Scripts
	persist    Persist
	schema     *Schema
	cacheParam *cache.ParamConf
	slotsCount int
}

// NewRedisStore create RedisStore,the counters are spread to slotsCount sync sets
func NewRedisStore(client *cache.RedisClient, persist Persist, schema *Schema, cacheParam *cache.ParamConf, slotsCount int) (*RedisStore, error) {
	if c.HasNil(client, persist, schema, cacheParam) {
		return nil, errors.New("client,persist,schema and cacheParam must be set")
	}
	if slotsCount <= 0 {
		return nil, errors.Errorf("invalid slotsCount %d", slotsCount)
	}
	return &RedisStore{
		client:     client,
		scripts:    NewScripts(),
		persist:    persist,
		schema:     schema,
		cacheParam: cacheParam,
		slotsCount: slotsCount,
	}, nil
}

// Add implements Store.Add
func (p *RedisStore) Add(ctx context.Context, entityID, field string, delta int64) (int64, error) {
	if _, err := p.schema.Lookup(field); err != nil {
		return 0, err
	}
	return p.update(ctx, entityID, field, delta)
}

// Set implements Store.Set
func (p *RedisStore) Set(ctx context.Context, entityID, field string, value int64) error {
	if _, err := p.schema.Lookup(field); err != nil {
		return err
	}
	_, err := p.update(ctx, entityID, "="+field, value)
	return err
}

func (p *RedisStore) update(ctx context.Context, counterID, field string, value int64) (int64, error) {
	counterKey, err := p.counterKey(counterID)
	if err != nil {
		return 0, err
	}
	syncSetKey := p.syncSetKey(counterKey)
	param := p.cacheParam.NewRawParamKey(counterKey)
	change := Fields{field: value}

	reply, err := p.updateReply(p.client.Eval(ctx, param, p.scripts.update, p.updateArgs(syncSetKey, LUAFALSE, 0, change)...))
	if err != nil {
		return 0, err
	}
	// 加载期间计数器被淘汰时重新加载
	for i := 0; reply.updated != LUATRUE && i < maxInitRetries; i++ {
		gen := reply.evictGen()
		fields, err := p.persist.Load(ctx, counterID)
		if err != nil {
			return 0, err
		}
		reply, err = p.updateReply(p.client.Eval(ctx, param, p.scripts.update, p.updateArgs(syncSetKey, LUATRUE, gen, p.buildInitFields(fields), change)...))
		if err != nil {
			return 0, err
		}
	}
	if reply.updated != LUATRUE || len(reply.values) != 1 {
		return 0, errors.Errorf("update counterID %s fail,exist:%d,updated:%d", counterID, reply.exist, reply.updated)
	}
	return reply.values[0], nil
}

// Get implements Store.Get
func (p *RedisStore) Get(ctx context.Context, entityID, field string) (int64, error) {
	def, err := p.schema.Lookup(field)
	if err != nil {
		return 0, err
	}
	fields, err := p.GetAll(ctx, entityID)
	if err != nil {
		return 0, err
	}
	if v, ok := fields[field]; ok {
		return v, nil
	}
	return def.Default, nil
}

// GetAll return all the fields of entityID
func (p *RedisStore) GetAll(ctx context.Context, counterID string) (Fields, error) {
	counterKey, err := p.counterKey(counterID)
	if err != nil {
		return nil, err
	}
	syncSetKey := p.syncSetKey(counterKey)
	param := p.cacheParam.NewRawParamKey(counterKey)

	getArgs := []interface{}{syncSetKey, strconv.FormatInt(c.UnixMills(time.Now()), 10)}
	for i := 0; i < maxInitRetries; i++ {
		raw, err := redis.StringMap(p.client.Eval(ctx, param, p.scripts.hgetAll, getArgs...))
		if err != nil {
			return nil, err
		}
		gen, absent := raw[counterEvictGen]
		if !absent {
			fields, err := p.buildCounterFields(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "parse counterID %s", counterID)
			}
			return fields, nil
		}
		evictGen, err := strconv.ParseInt(gen, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse evict generation of %s", counterID)
		}

		origin, err := p.persist.Load(ctx, counterID)
		if err != nil {
			return nil, err
		}
		if origin == nil {
			return nil, errors.Errorf("load counterID %s nil", counterID)
		}
		reply, err := p.updateReply(p.client.Eval(ctx, param, p.scripts.update, p.updateArgs(syncSetKey, LUATRUE, evictGen, p.buildInitFields(origin))...))
		if err != nil {
			return nil, err
		}
		// 其他调用已初始化时重新读取缓存
		if reply.updated == LUATRUE && reply.exist == LUAFALSE {
			return origin, nil
		}
	}
	return nil, errors.Errorf("init counterID %s fail after %d retries", counterID, maxInitRetries)
}

// Create implements Store.Create,the fields are stored to the persist and the cached copy is dropped
func (p *RedisStore) Create(ctx context.Context, entityID string, fields Fields) error {
	if _, err := p.counterKey(entityID); err != nil {
		return err
	}
	if err := p.persist.Store(ctx, entityID, fields); err != nil {
		return err
	}
	return p.drop(ctx, entityID)
}

// Delete implements Store.Delete
func (p *RedisStore) Delete(ctx context.Context, entityID string) error {
	if _, err := p.counterKey(entityID); err != nil {
		return err
	}
	if _, err := p.persist.Del(ctx, entityID); err != nil {
		return err
	}
	return p.drop(ctx, entityID)
}

func (p *RedisStore) drop(ctx context.Context, counterID string) error {
	counterKey, err := p.counterKey(counterID)
	if err != nil {
		return err
	}
	delArgs := []interface{}{p.syncSetKey(counterKey), evictGenTTLMs}
	_, err = p.client.Eval(ctx, p.cacheParam.NewRawParamKey(counterKey), p.scripts.del, delArgs...)
	return err
}

func (p *RedisStore) counterKey(counterID string) (string, error) {
	if counterID == "" || strings.Contains(counterID, ":") {
		return "", errors.Wrapf(ErrInvalidEntity, "counterID %q must not be empty or contain `:`", counterID)
	}
	return p.cacheParam.KeyPrefix() + "h:" + counterID, nil
}

func (p *RedisStore) parseCounterID(counterKey string) (string, error) {
	prefix := p.cacheParam.KeyPrefix() + "h:"
	if !strings.HasPrefix(counterKey, prefix) || len(counterKey) == len(prefix) {
		return "", errors.Errorf("invalid counter key:%s", counterKey)
	}
	return counterKey[len(prefix):], nil
}

func (p *RedisStore) syncSetKey(counterKey string) string {
	return p.syncSetSlotKey(c.Fnv32Hashcode(counterKey) % p.slotsCount)
}

func (p *RedisStore) syncSetSlotKey(slotIndex int) string {
	return p.cacheParam.KeyPrefix() + "z.sync:" + strconv.Itoa(slotIndex)
}

func (p *RedisStore) buildInitFields(fields Fields) Fields {
	initFields := Fields{}
	for k, v := range fields {
		initFields["_"+k] = v
	}
	return initFields
}

func (p *RedisStore) buildCounterFields(raw map[string]string) (fields Fields, err error) {
	fields = Fields{}
	for k, v := range raw {
		if strings.HasPrefix(k, "_") {
			continue
		}
		fields[k], err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
	}
	return
}

// updateArgs 初始值在前,变化的字段在后,返回值的顺序与变化的字段一致
func (p *RedisStore) updateArgs(syncSetKey string, isInit int, evictGen int64, fieldAndValues ...Fields) []interface{} {
	args := []interface{}{syncSetKey, strconv.FormatInt(c.UnixMills(time.Now()), 10), strconv.Itoa(isInit), strconv.FormatInt(evictGen, 10)}
	for _, fieldAndValue := range fieldAndValues {
		for k, v := range fieldAndValue {
			args = append(args, k, strconv.FormatInt(v, 10))
		}
	}
	return args
}

type updateResult struct {
	exist   int
	updated int
	values  []int64
}

// evictGen 未更新时返回的淘汰代数
func (p *updateResult) evictGen() int64 {
	if p.updated == LUATRUE || len(p.values) == 0 {
		return 0
	}
	return p.values[0]
}

func (p *RedisStore) updateReply(redisReply interface{}, redisErr error) (*updateResult, error) {
	reply, err := redis.Int64s(redisReply, redisErr)
	if err != nil {
		return nil, err
	}
	if len(reply) < 2 {
		return nil, errors.Errorf("bad reply length:%d", len(reply))
	}
	return &updateResult{exist: int(reply[0]), updated: int(reply[1]), values: reply[2:]}, nil
}
