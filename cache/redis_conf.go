package cache

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	c "github.com/d0ngw/counters/common"
	"github.com/gomodule/redigo/redis"
)

// Redis连接池的默认参数,单位毫秒
const (
	DefaultConnectTimeout = 5 * 1000
	DefaultReadTimeout    = 5 * 1000
	DefaultWriteTimeout   = 5 * 1000
	DefaultMaxActive      = 100
	DefaultMaxIdle        = 2
	DefaultIdleTimeout    = 60 * 1000
)

// RedisConfigurer Redis配置器
type RedisConfigurer interface {
	c.Configurer
	RedisConfig() *RedisConf
}

// RedisPoolConf Redis连接池配置
type RedisPoolConf struct {
	ConnectTimeout int `yaml:"connect_timeout"` //连接超时时间,单位毫秒
	ReadTimeout    int `yaml:"read_timeout"`    //读取超时,单位毫秒
	WriteTimeout   int `yaml:"write_timeout"`   //写超时,单位毫秒
	MaxIdle        int `yaml:"max_idle"`        //最大空闲连接
	MaxActive      int `yaml:"max_active"`      //最大活跃连接,0表示不限制
	IdleTimeout    int `yaml:"idle_timeout"`    //空闲连接的超时时间,单位毫秒
}

var defaultPool = &RedisPoolConf{
	ConnectTimeout: DefaultConnectTimeout,
	ReadTimeout:    DefaultReadTimeout,
	WriteTimeout:   DefaultWriteTimeout,
	MaxActive:      DefaultMaxActive,
	MaxIdle:        DefaultMaxIdle,
	IdleTimeout:    DefaultIdleTimeout,
}

// RedisServer Redis实例的配置
type RedisServer struct {
	ID   string      `yaml:"id"`   //Redis实例的id
	Host string      `yaml:"host"` //Redis主机地址
	Port int         `yaml:"port"` //Redis的端口
	Auth string      `yaml:"auth"` //Redis认证密码
	DB   int         `yaml:"db"`
	pool *redis.Pool //Redis实例的连接池
}

// Addr host:port
func (p *RedisServer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p *RedisServer) initPool(poolConf *RedisPoolConf) error {
	if p.pool != nil {
		return fmt.Errorf("server %s already inited", p.ID)
	}
	options := []redis.DialOption{
		redis.DialConnectTimeout(time.Duration(poolConf.ConnectTimeout) * time.Millisecond),
		redis.DialReadTimeout(time.Duration(poolConf.ReadTimeout) * time.Millisecond),
		redis.DialWriteTimeout(time.Duration(poolConf.WriteTimeout) * time.Millisecond),
		redis.DialDatabase(p.DB),
	}
	if p.Auth != "" {
		options = append(options, redis.DialPassword(p.Auth))
	}

	var addr = p.Addr()
	p.pool = &redis.Pool{
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr, options...)
		},
		MaxActive:   poolConf.MaxActive,
		MaxIdle:     poolConf.MaxIdle,
		IdleTimeout: time.Duration(poolConf.IdleTimeout) * time.Millisecond,
		Wait:        true,
	}
	return nil
}

// Close close the pool
func (p *RedisServer) Close() error {
	if p.pool == nil {
		return nil
	}
	return p.pool.Close()
}

// RedisConf redis config
type RedisConf struct {
	Servers   []*RedisServer            `yaml:"servers"`      //实例列表
	Groups    map[string][]string       `yaml:"groups"`       //Redis组定义,key为组ID;value为Server的id列表
	Pool      *RedisPoolConf            `yaml:"pool"`         //默认的连接池配置
	GroupPool map[string]*RedisPoolConf `yaml:"groups_pools"` //Redis组的连接池配置
	groups    map[string][]*RedisServer
}

// Parse implements Configurer interface
func (p *RedisConf) Parse() error {
	if p == nil {
		c.Warnf("no redis conf")
		return nil
	}
	groups := map[string][]*RedisServer{}
	servers := map[string]*RedisServer{}

	// 检查server的配置
	var dupCheck = map[string]struct{}{}
	for _, server := range p.Servers {
		if c.IsEmpty(server.ID, server.Host) {
			return fmt.Errorf("invalid redis server conf,id and host must not be empty")
		}
		if server.Port <= 0 {
			return fmt.Errorf("invalid redis server conf,port %d", server.Port)
		}

		id := "id " + server.ID
		if _, ok := dupCheck[id]; ok {
			return fmt.Errorf("duplicate server:%s", id)
		}
		dupCheck[id] = struct{}{}

		addr := server.Addr()
		if _, ok := dupCheck[addr]; ok {
			return fmt.Errorf("duplicate server:%s", addr)
		}
		dupCheck[addr] = struct{}{}
		servers[server.ID] = server
	}

	// 检查group
	for groupID, groupServers := range p.Groups {
		if groupID == "" {
			return fmt.Errorf("invalid redis group id")
		}
		if len(groupServers) == 0 {
			return fmt.Errorf("redis group id %s has no servers", groupID)
		}
		dupCheck = map[string]struct{}{}
		for _, serverID := range groupServers {
			if _, ok := dupCheck[serverID]; ok {
				return fmt.Errorf("duplicate server id %s in group %s", serverID, groupID)
			}
			dupCheck[serverID] = struct{}{}
		}

		poolConf := p.GroupPool[groupID]
		if poolConf == nil {
			poolConf = p.Pool
		}
		if poolConf == nil {
			poolConf = defaultPool
		}

		// 对redis实例进行排序,保证key的路由稳定
		ids := append([]string(nil), groupServers...)
		sort.Strings(ids)
		redisServers := make([]*RedisServer, 0, len(ids))
		for _, serverID := range ids {
			server := servers[serverID]
			if server == nil {
				return fmt.Errorf("can't find server id %s", serverID)
			}
			groupServer := *server
			groupServer.pool = nil
			if err := groupServer.initPool(poolConf); err != nil {
				return err
			}
			redisServers = append(redisServers, &groupServer)
		}
		groups[groupID] = redisServers
	}
	p.groups = groups
	return nil
}

// RedisConfig implements RedisConfigurer
func (p *RedisConf) RedisConfig() *RedisConf {
	return p
}
