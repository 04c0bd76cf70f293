package cache

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, id string) (*miniredis.Miniredis, *RedisServer) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return mr, &RedisServer{ID: id, Host: mr.Host(), Port: port}
}

func newTestClient(t *testing.T) (*miniredis.Miniredis, *RedisClient) {
	mr, server := newTestServer(t, "r1")
	conf := &RedisConf{
		Servers: []*RedisServer{server},
		Groups:  map[string][]string{"test": {"r1"}},
	}
	require.NoError(t, conf.Parse())
	client := NewRedisClientWithConf(conf)
	t.Cleanup(client.Close)
	return mr, client
}

func TestParamConf(t *testing.T) {
	conf := NewParamConf("test", "c:", 60)
	assert.Equal(t, "test", conf.Group())
	assert.Equal(t, 60, conf.Expire())
	assert.Equal(t, "c:", conf.KeyPrefix())

	sub := conf.NewWithKeyPrefix("a:")
	assert.Equal(t, "c:a:", sub.KeyPrefix())
	assert.Equal(t, "c:", conf.KeyPrefix())

	key := sub.NewParamKey("1")
	assert.Equal(t, "c:a:1", key.Key())
	assert.Equal(t, "test", key.Group())

	raw := conf.NewRawParamKey("x:1")
	assert.Equal(t, "x:1", raw.Key())
}

func TestRedisConfParse(t *testing.T) {
	var nilConf *RedisConf
	assert.NoError(t, nilConf.Parse())

	conf := &RedisConf{Servers: []*RedisServer{{ID: "", Host: "127.0.0.1", Port: 6379}}}
	assert.Error(t, conf.Parse())

	conf = &RedisConf{Servers: []*RedisServer{{ID: "a", Host: "127.0.0.1", Port: 0}}}
	assert.Error(t, conf.Parse())

	conf = &RedisConf{Servers: []*RedisServer{
		{ID: "a", Host: "127.0.0.1", Port: 6379},
		{ID: "b", Host: "127.0.0.1", Port: 6379},
	}}
	assert.Error(t, conf.Parse())

	conf = &RedisConf{
		Servers: []*RedisServer{{ID: "a", Host: "127.0.0.1", Port: 6379}},
		Groups:  map[string][]string{"g": {"b"}},
	}
	assert.Error(t, conf.Parse())

	conf = &RedisConf{
		Servers: []*RedisServer{{ID: "a", Host: "127.0.0.1", Port: 6379}},
		Groups:  map[string][]string{"g": {"a", "a"}},
	}
	assert.Error(t, conf.Parse())

	conf = &RedisConf{
		Servers: []*RedisServer{
			{ID: "b", Host: "127.0.0.1", Port: 6380},
			{ID: "a", Host: "127.0.0.1", Port: 6379},
		},
		Groups: map[string][]string{"g": {"b", "a"}},
	}
	require.NoError(t, conf.Parse())
	assert.Equal(t, conf, conf.RedisConfig())

	client := NewRedisClientWithConf(conf)
	defer client.Close()
	servers, err := client.GetGroupServers("g")
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "a", servers[0].ID)
	assert.Equal(t, "b", servers[1].ID)
	assert.Equal(t, "127.0.0.1:6379", servers[0].Addr())

	_, err = client.GetGroupServers("none")
	assert.Error(t, err)
}

func TestRedisClient(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	assert.NoError(t, client.Ping(ctx))

	param := NewParamConf("test", "t:", 0).NewParamKey("1")
	v, err := redis.Int64(client.Cmd(ctx, param, HINCRBY, param.Key(), "a", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	assert.Equal(t, "3", mr.HGet("t:1", "a"))

	script := redis.NewScript(1, `return redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])`)
	v, err = redis.Int64(client.Eval(ctx, param, script, "a", -5))
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)

	deleted, err := client.Del(ctx, param)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, mr.Exists("t:1"))

	deleted, err = client.Del(ctx, param)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = client.Cmd(ctx, NewParamConf("none", "", 0).NewParamKey("1"), PING)
	assert.Error(t, err)
}

func TestRedisClientRoute(t *testing.T) {
	mr1, s1 := newTestServer(t, "r1")
	mr2, s2 := newTestServer(t, "r2")
	conf := &RedisConf{
		Servers: []*RedisServer{s1, s2},
		Groups:  map[string][]string{"test": {"r1", "r2"}},
	}
	require.NoError(t, conf.Parse())
	client := NewRedisClientWithConf(conf)
	defer client.Close()

	ctx := context.Background()
	paramConf := NewParamConf("test", "k:", 0)
	for i := 0; i < 50; i++ {
		param := paramConf.NewParamKey(strconv.Itoa(i))
		server, err := client.SelectServer(param)
		require.NoError(t, err)
		again, err := client.SelectServer(param)
		require.NoError(t, err)
		assert.Equal(t, server.ID, again.ID)

		_, err = client.Cmd(ctx, param, "SET", param.Key(), i)
		require.NoError(t, err)
		if server.ID == "r1" {
			assert.True(t, mr1.Exists(param.Key()))
			assert.False(t, mr2.Exists(param.Key()))
		} else {
			assert.True(t, mr2.Exists(param.Key()))
			assert.False(t, mr1.Exists(param.Key()))
		}
	}
	assert.NotEmpty(t, mr1.Keys())
	assert.NotEmpty(t, mr2.Keys())
}

func TestRedisClientUnavailable(t *testing.T) {
	mr, client := newTestClient(t)
	mr.Close()
	assert.Error(t, client.Ping(context.Background()))
}

type record struct {
	Value     int64
	UpdatedAt int64
	Name      string
}

func TestEncDec(t *testing.T) {
	origin := &record{Value: -3, UpdatedAt: 1700000000000, Name: "a"}
	bytes, err := MsgPackEncodeBytes(origin)
	require.NoError(t, err)

	dest := &record{}
	require.NoError(t, MsgPackDecodeBytes(bytes, dest))
	assert.Equal(t, *origin, *dest)

	bytes, err = MsgPackEncodeBytes(nil)
	require.NoError(t, err)
	var v *int
	assert.NoError(t, MsgPackDecodeBytes(bytes, &v))
	assert.Nil(t, v)

	assert.Error(t, MsgPackDecodeBytes(nil, dest))

	m := map[string]interface{}{}
	bytes, err = MsgPackEncodeBytes(map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, MsgPackDecodeBytes(bytes, &m))
	assert.Equal(t, "v", m["k"])
}
