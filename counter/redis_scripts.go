package counter

import (
	"github.com/gomodule/redigo/redis"
)

// Lua
const (
	LUAFALSE int = 0
	LUATRUE  int = 1
)

// 计数器hash中的保留字段
const (
	counterWriteVer      = "_w"
	counterSyncVer       = "_s"
	counterSyncTimestamp = "_st"
	counterEvictGen      = "_g"
)

// evictGenTTLMs 淘汰代数的保留时间,从persist加载计数器的耗时必须小于该值
const evictGenTTLMs int64 = 3600 * 1000

// 计数器被淘汰或删除时`key:g`加1,加载前后代数不同说明加载的值可能已过期
// update的参数
// KEYS[1]:计数器key
// ARGV[1]:同步集合key,ARGV[2]:当前毫秒,ARGV[3]:是否初始化,ARGV[4]:加载前的淘汰代数
// ARGV[5...]:field,value对,`_f`是初始值,只在计数器不存在时写入;`=f`覆盖值;`f`增量
// 返回 {exist,updated,非初始值字段的新值...},未更新时返回 {0,0,淘汰代数}
const updateLua = `
local key = KEYS[1]
local syncKey = ARGV[1]
local now = ARGV[2]
local isInit = tonumber(ARGV[3])
local exist = redis.call('EXISTS', key)
if exist == 0 then
  local gen = tonumber(redis.call('GET', key .. ':g') or '0')
  if isInit == 0 or gen ~= tonumber(ARGV[4]) then
    return {0, 0, gen}
  end
  redis.call('HSET', key, '_w', 0, '_s', 0, '_st', now)
end
local result = {exist, 1}
local writes = 0
for i = 5, #ARGV, 2 do
  local f = ARGV[i]
  local v = ARGV[i + 1]
  local prefix = string.sub(f, 1, 1)
  if prefix == '_' then
    if exist == 0 then
      redis.call('HSET', key, string.sub(f, 2), v)
    end
  elseif prefix == '=' then
    redis.call('HSET', key, string.sub(f, 2), v)
    table.insert(result, tonumber(v))
    writes = writes + 1
  else
    table.insert(result, redis.call('HINCRBY', key, f, v))
    writes = writes + 1
  end
end
if writes > 0 then
  redis.call('HINCRBY', key, '_w', 1)
end
redis.call('ZADD', syncKey, now, key)
return result
`

// hgetAll的参数
// KEYS[1]:计数器key,ARGV[1]:同步集合key,ARGV[2]:当前毫秒
// 计数器不存在时返回 {'_g',淘汰代数}
const hgetAllLua = `
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  return {'_g', redis.call('GET', key .. ':g') or '0'}
end
redis.call('ZADD', ARGV[1], ARGV[2], key)
return redis.call('HGETALL', key)
`

// setSync的参数
// KEYS[1]:计数器key,ARGV[1]:已同步的写版本,ARGV[2]:当前毫秒
const setSyncLua = `
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  return 0
end
local synced = tonumber(redis.call('HGET', key, '_s') or '0')
if tonumber(ARGV[1]) > synced then
  redis.call('HSET', key, '_s', ARGV[1], '_st', ARGV[2])
else
  redis.call('HSET', key, '_st', ARGV[2])
end
return 1
`

// evict的参数
// KEYS[1]:计数器key,ARGV[1]:同步集合key,ARGV[2]:已同步的写版本,ARGV[3]:淘汰代数的保留毫秒
// 写版本没有变化时才删除计数器,返回 {evicted}
const evictLua = `
local key = KEYS[1]
local w = redis.call('HGET', key, '_w')
if w and tonumber(w) ~= tonumber(ARGV[2]) then
  return {0}
end
redis.call('DEL', key)
redis.call('ZREM', ARGV[1], key)
redis.call('INCR', key .. ':g')
redis.call('PEXPIRE', key .. ':g', ARGV[3])
return {1}
`

// del的参数
// KEYS[1]:计数器key,ARGV[1]:同步集合key,ARGV[2]:淘汰代数的保留毫秒
const delLua = `
redis.call('ZREM', ARGV[1], KEYS[1])
redis.call('INCR', KEYS[1] .. ':g')
redis.call('PEXPIRE', KEYS[1] .. ':g', ARGV[2])
return redis.call('DEL', KEYS[1])
`

// Scripts define persist counter lua scripts
type Scripts struct {
	update  *redis.Script
	setSync *redis.Script
	evict   *redis.Script
	hgetAll *redis.Script
	del     *redis.Script
}

// NewScripts create the scripts
func NewScripts() *Scripts {
	return &Scripts{
		update:  redis.NewScript(1, updateLua),
		setSync: redis.NewScript(1, setSyncLua),
		evict:   redis.NewScript(1, evictLua),
		hgetAll: redis.NewScript(1, hgetAllLua),
		del:     redis.NewScript(1, delLua),
	}
}
