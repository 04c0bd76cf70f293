package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/d0ngw/counters/cache"
	c "github.com/d0ngw/counters/common"
	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// RedisSyncConfig config the write-back of RedisStore
type RedisSyncConfig struct {
	SlotMaxItems          int64 `yaml:"slot_max_items"`           //同步集合的最大长度,超出的计数器同步后被淘汰
	MinSyncVersionChanges int64 `yaml:"min_sync_version_changes"` //写版本变化达到该值时同步
	MinSyncIntervalMs     int64 `yaml:"min_sync_interval_ms"`     //距离上次同步超过该时间时同步
	EvictIntervalMs       int64 `yaml:"evict_interval_ms"`        //超过该时间未访问的计数器同步后被淘汰
}

// Parse implements Configurer
func (p *RedisSyncConfig) Parse() error {
	if p.SlotMaxItems <= 0 || p.MinSyncVersionChanges <= 0 || p.MinSyncIntervalMs <= 0 || p.EvictIntervalMs <= 0 {
		return errors.New("slot_max_items,min_sync_version_changes and xxx_ms must be >0")
	}
	return nil
}

// RedisSync sync the counters of RedisStore to its Persist
type RedisSync struct {
	Name         string
	redisServers []*cache.RedisServer
	store        *RedisStore
	conf         RedisSyncConfig
	stop         atomic.Bool
}

// NewRedisSync create new RedisSync
func NewRedisSync(store *RedisStore, conf RedisSyncConfig) (*RedisSync, error) {
	if store == nil {
		return nil, errors.New("no redis store")
	}
	if err := conf.Parse(); err != nil {
		return nil, err
	}
	servers, err := store.client.GetGroupServers(store.cacheParam.Group())
	if err != nil {
		return nil, err
	}
	return &RedisSync{
		Name:         store.cacheParam.Group() + ".sync",
		redisServers: servers,
		store:        store,
		conf:         conf,
	}, nil
}

// SyncStats the result of a scan
type SyncStats struct {
	Processed int64
	Synced    int64
	Evicted   int64
}

func (p *SyncStats) add(o SyncStats) {
	p.Processed += o.Processed
	p.Synced += o.Synced
	p.Evicted += o.Evicted
}

// ScanAll scan the sync sets of all the redis servers
func (p *RedisSync) ScanAll(ctx context.Context) (SyncStats, error) {
	return p.scanAll(ctx, false)
}

// Flush sync every counter having unsynced writes,ignoring the sync interval and version changes
func (p *RedisSync) Flush(ctx context.Context) (SyncStats, error) {
	return p.scanAll(ctx, true)
}

func (p *RedisSync) scanAll(ctx context.Context, force bool) (SyncStats, error) {
	var total SyncStats
	var firstErr error
	for _, redisServer := range p.redisServers {
		c.Infof("begin scan redis %s", redisServer.Addr())
		for i := 0; i < p.store.slotsCount; i++ {
			if p.stopped(ctx) {
				c.Infof("stop scan redis %s", redisServer.Addr())
				return total, firstErr
			}
			stats, err := p.scan(ctx, redisServer, i, force)
			total.add(stats)
			if err != nil {
				c.Errorf("scan redis %s slot:%d fail,err:%v", redisServer.Addr(), i, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		c.Infof("finish scan redis %s", redisServer.Addr())
	}
	return total, firstErr
}

// Stop stop the scan task
func (p *RedisSync) Stop() {
	p.stop.Store(true)
}

func (p *RedisSync) stopped(ctx context.Context) bool {
	return p.stop.Load() || ctx.Err() != nil
}

func (p *RedisSync) scan(ctx context.Context, server *cache.RedisServer, slotIndex int, force bool) (stats SyncStats, err error) {
	_, err = cache.DoWithServer(ctx, server, func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		return nil, p.scanSlot(ctx, conn, slotIndex, force, &stats)
	})
	return
}

func (p *RedisSync) scanSlot(ctx context.Context, conn redis.Conn, slotIndex int, force bool, stats *SyncStats) error {
	syncSetSlotKey := p.store.syncSetSlotKey(slotIndex)
	originLength, err := redis.Int64(redis.DoContext(conn, ctx, cache.ZCARD, syncSetSlotKey))
	if err != nil {
		return err
	}
	if originLength <= 0 {
		return nil
	}
	var needEvictItemCount int64
	if over := originLength - p.conf.SlotMaxItems; over > 0 {
		needEvictItemCount = over
	}
	c.Debugf("begin scan slotKey:%s,length:%d,needEvictItemCount:%d", syncSetSlotKey, originLength, needEvictItemCount)

	var removeCounterKey = func(counterKey string, batchRemoved *int64) {
		if removed, err := redis.Int64(redis.DoContext(conn, ctx, cache.ZREM, syncSetSlotKey, counterKey)); err == nil {
			if removed > 0 {
				(*batchRemoved)++
			}
		} else {
			c.Errorf("remove counter key %s in sync set %s fail,err:%v", counterKey, syncSetSlotKey, err)
		}
	}

	st := time.Now()
	var batchRemoved, nextStart int64
	const batch int64 = 30
	for {
		if p.stopped(ctx) {
			c.Infof("stop scan slotKey:%s", syncSetSlotKey)
			return nil
		}
		// 已删除的成员使后面的成员前移
		start := nextStart - batchRemoved
		if start < 0 {
			start = 0
		}
		end := start + batch - 1
		nextStart = end + 1

		length, err := redis.Int64(redis.DoContext(conn, ctx, cache.ZCARD, syncSetSlotKey))
		if err != nil {
			return err
		}
		if start >= length {
			break
		}

		batchRemoved = 0
		counterKeyAndTimeSet, err := redis.Strings(redis.DoContext(conn, ctx, cache.ZRANGE, syncSetSlotKey, start, end, cache.WITHSCOR))
		if err != nil {
			return err
		}
		for i := 0; i+1 < len(counterKeyAndTimeSet); i += 2 {
			stats.Processed++
			counterKey := counterKeyAndTimeSet[i]
			accessTime, err := strconv.ParseInt(counterKeyAndTimeSet[i+1], 10, 64)
			if err != nil {
				c.Errorf("invalid accessTime %s,%s", counterKey, counterKeyAndTimeSet[i+1])
				continue
			}

			fields, err := redis.StringMap(redis.DoContext(conn, ctx, cache.HGETALL, counterKey))
			if err != nil {
				c.Errorf("invalid counter %s,err:%v", counterKey, err)
				continue
			}
			if len(fields) == 0 {
				c.Warnf("not exist counter key:%s,remove it from sync set:%s", counterKey, syncSetSlotKey)
				removeCounterKey(counterKey, &batchRemoved)
				continue
			}

			lastWrite := fields[counterWriteVer]
			lastSync := fields[counterSyncVer]
			syncTime := fields[counterSyncTimestamp]
			if lastWrite == "" || lastSync == "" || syncTime == "" {
				c.Warnf("invalid counter key:%s,_w:%s,_s:%s,_st:%s,remove it from sync set:%s", counterKey, lastWrite, lastSync, syncTime, syncSetSlotKey)
				removeCounterKey(counterKey, &batchRemoved)
				continue
			}

			writeVersion, _ := strconv.ParseInt(lastWrite, 10, 64)
			syncVersion, _ := strconv.ParseInt(lastSync, 10, 64)
			syncEpoch, _ := strconv.ParseInt(syncTime, 10, 64)
			now := c.UnixMills(time.Now())

			var needSync, needEvict bool
			if writeVersion > syncVersion {
				if force || now-syncEpoch >= p.conf.MinSyncIntervalMs || writeVersion-syncVersion >= p.conf.MinSyncVersionChanges {
					needSync = true
				}
			}
			if accessTime > 0 && now-accessTime >= p.conf.EvictIntervalMs {
				needEvict = true
			}
			if needEvictItemCount > 0 {
				needEvict = true
			}
			if needEvict && writeVersion > syncVersion {
				needSync = true
			}

			var synced bool
			if needSync {
				if c.DebugEnabled() {
					c.Debugf("sync %s,version %d->%d,last sync at %s", counterKey, syncVersion, writeVersion, c.UnixMillsTime(syncEpoch).Format(time.RFC3339))
				}
				synced, err = p.syncCounter(ctx, conn, counterKey, fields, writeVersion, now)
				if err != nil {
					return err
				}
				if synced {
					stats.Synced++
				}
			}

			if needEvict && (!needSync || synced) {
				evictResult, err := redis.Ints(p.store.scripts.evict.DoContext(ctx, conn, counterKey, syncSetSlotKey, writeVersion, evictGenTTLMs))
				if err != nil {
					return err
				}
				c.Debugf("try evict counter key:%s,evicted:%d", counterKey, evictResult[0])
				if evictResult[0] == LUATRUE {
					needEvictItemCount--
					stats.Evicted++
					batchRemoved++
				}
			}
		}
	}
	c.Infof("finish scan slotKey:%s in %d ms,slot length:%d,evicted:%d,synced:%d", syncSetSlotKey, time.Since(st).Milliseconds(), originLength, stats.Evicted, stats.Synced)
	return nil
}

func (p *RedisSync) syncCounter(ctx context.Context, conn redis.Conn, counterKey string, raw map[string]string, writeVersion, now int64) (bool, error) {
	counterID, err := p.store.parseCounterID(counterKey)
	if err != nil {
		return false, err
	}
	counterFields, err := p.store.buildCounterFields(raw)
	if err != nil {
		return false, err
	}
	if err = p.store.persist.Store(ctx, counterID, counterFields); err != nil {
		c.Errorf("sync counter key:%s,write version:%d fail,err:%v", counterKey, writeVersion, err)
		return false, nil
	}
	if _, err = p.store.scripts.setSync.DoContext(ctx, conn, counterKey, writeVersion, now); err != nil {
		return false, err
	}
	c.Debugf("sync counter key:%s,write version:%d", counterKey, writeVersion)
	return true, nil
}
