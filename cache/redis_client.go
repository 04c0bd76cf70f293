package cache

import (
	"context"
	"fmt"

	c "github.com/d0ngw/counters/common"
	"github.com/gomodule/redigo/redis"
)

// Redis commands
const (
	DEL      = "DEL"
	EXISTS   = "EXISTS"
	EXPIRE   = "EXPIRE"
	HGETALL  = "HGETALL"
	HINCRBY  = "HINCRBY"
	HSET     = "HSET"
	SADD     = "SADD"
	SPOP     = "SPOP"
	SCARD    = "SCARD"
	ZCARD    = "ZCARD"
	ZRANGE   = "ZRANGE"
	ZREM     = "ZREM"
	PING     = "PING"
	WITHSCOR = "WITHSCORES"
)

// ConnFunc use conn do something
type ConnFunc func(ctx context.Context, conn redis.Conn) (interface{}, error)

// RedisClient route the keys of group to the servers by hash
type RedisClient struct {
	groups map[string][]*RedisServer
}

// NewRedisClient create RedisClient with groups
func NewRedisClient(groups map[string][]*RedisServer) *RedisClient {
	return &RedisClient{groups: groups}
}

// NewRedisClientWithConf create RedisClient with parsed RedisConf
func NewRedisClientWithConf(conf *RedisConf) *RedisClient {
	return NewRedisClient(conf.groups)
}

// GetGroupServers return all servers of group
func (p *RedisClient) GetGroupServers(group string) ([]*RedisServer, error) {
	servers := p.groups[group]
	if len(servers) == 0 {
		return nil, fmt.Errorf("can't find redis servers of group %s", group)
	}
	return servers, nil
}

// SelectServer select the server of param.Key() in param.Group()
func (p *RedisClient) SelectServer(param Param) (*RedisServer, error) {
	servers, err := p.GetGroupServers(param.Group())
	if err != nil {
		return nil, err
	}
	if len(servers) == 1 {
		return servers[0], nil
	}
	return servers[c.Fnv32Hashcode(param.Key())%len(servers)], nil
}

// Do acquire the conn of param and call f
func (p *RedisClient) Do(ctx context.Context, param Param, f ConnFunc) (interface{}, error) {
	server, err := p.SelectServer(param)
	if err != nil {
		return nil, err
	}
	return DoWithServer(ctx, server, f)
}

// DoWithServer acquire a conn from server and call f
func DoWithServer(ctx context.Context, server *RedisServer, f ConnFunc) (interface{}, error) {
	if server.pool == nil {
		return nil, fmt.Errorf("no pool for redis server %s", server.ID)
	}
	conn, err := server.pool.GetContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.Errorf("close redis conn of %s fail,err:%v", server.ID, err)
		}
	}()
	return f(ctx, conn)
}

// Eval run script with KEYS[1]=param.Key()
func (p *RedisClient) Eval(ctx context.Context, param Param, script *redis.Script, args ...interface{}) (interface{}, error) {
	return p.Do(ctx, param, func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		keysAndArgs := make([]interface{}, 0, len(args)+1)
		keysAndArgs = append(keysAndArgs, param.Key())
		keysAndArgs = append(keysAndArgs, args...)
		return script.DoContext(ctx, conn, keysAndArgs...)
	})
}

// Cmd run command with args on the server of param
func (p *RedisClient) Cmd(ctx context.Context, param Param, cmd string, args ...interface{}) (interface{}, error) {
	return p.Do(ctx, param, func(ctx context.Context, conn redis.Conn) (interface{}, error) {
		return redis.DoContext(conn, ctx, cmd, args...)
	})
}

// Del delete the key of param
func (p *RedisClient) Del(ctx context.Context, param Param) (bool, error) {
	n, err := redis.Int(p.Cmd(ctx, param, DEL, param.Key()))
	return n > 0, err
}

// Ping ping all servers
func (p *RedisClient) Ping(ctx context.Context) error {
	for group, servers := range p.groups {
		for _, server := range servers {
			if _, err := DoWithServer(ctx, server, func(ctx context.Context, conn redis.Conn) (interface{}, error) {
				return redis.DoContext(conn, ctx, PING)
			}); err != nil {
				return fmt.Errorf("ping redis %s of group %s fail,err:%w", server.Addr(), group, err)
			}
		}
	}
	return nil
}

// Close close all the pools
func (p *RedisClient) Close() {
	for _, servers := range p.groups {
		for _, server := range servers {
			if err := server.Close(); err != nil {
				c.Errorf("close redis %s fail,err:%v", server.Addr(), err)
			}
		}
	}
}
