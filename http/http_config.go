// Package http 提供运维用的http服务,包括prometheus指标和健康检查
package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Config Http配置
type Config struct {
	Addr           string `yaml:"addr"`             //Http监听地址
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`  //读超时,单位毫秒
	WriteTimeoutMs int    `yaml:"write_timeout_ms"` //写超时,单位毫秒
	MaxConns       int    `yaml:"max_conns"`        //最大的并发连接数

	middlewares []Middleware
	handles     map[string]http.Handler
	lock        sync.Mutex
}

// NewConfig 创建配置
func NewConfig(addr string) *Config {
	conf := &Config{Addr: addr}
	_ = conf.Parse()
	return conf
}

// Parse implements Configurer
func (p *Config) Parse() error {
	if p.Addr == "" {
		p.Addr = ":9090"
	}
	if p.ReadTimeoutMs <= 0 {
		p.ReadTimeoutMs = 5000
	}
	if p.WriteTimeoutMs <= 0 {
		p.WriteTimeoutMs = 10000
	}
	if p.MaxConns < 0 {
		return errors.Errorf("invalid max_conns %d", p.MaxConns)
	}
	return nil
}

func (p *Config) readTimeout() time.Duration {
	return time.Duration(p.ReadTimeoutMs) * time.Millisecond
}

func (p *Config) writeTimeout() time.Duration {
	return time.Duration(p.WriteTimeoutMs) * time.Millisecond
}

// Handle 注册pattern的处理器
func (p *Config) Handle(pattern string, handler http.Handler) error {
	if handler == nil {
		return errors.Errorf("can't bind nil handler to %s", pattern)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.handles == nil {
		p.handles = map[string]http.Handler{}
	}
	if _, ok := p.handles[pattern]; ok {
		return errors.Errorf("duplicate path:%s", pattern)
	}
	p.handles[pattern] = handler
	return nil
}

// HandleFunc 注册pattern的处理函数
func (p *Config) HandleFunc(pattern string, handlerFunc http.HandlerFunc) error {
	return p.Handle(pattern, handlerFunc)
}

// RegMiddleware 注册middleware,作用于所有的处理器
func (p *Config) RegMiddleware(middleware Middleware) error {
	if middleware == nil {
		return errors.New("invalid middleware")
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.middlewares = append(p.middlewares, middleware)
	return nil
}
