package http

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	c "github.com/d0ngw/counters/common"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

type tcpKeepAliveListener struct {
	*net.TCPListener
}

// Accept接受连接
func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	if err = tc.SetKeepAlive(true); err != nil {
		return
	}
	if err = tc.SetKeepAlivePeriod(3 * time.Minute); err != nil {
		return
	}
	return tc, nil
}

// GraceableHandler 安全地关闭的处理器
type GraceableHandler struct {
	handler   http.Handler
	waitGroup *sync.WaitGroup
}

func (p *GraceableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.waitGroup.Add(1)
	defer p.waitGroup.Done()

	p.handler.ServeHTTP(w, r)
}

// Service Http服务
type Service struct {
	c.BaseService
	Conf         *Config
	listener     net.Listener
	graceHandler *GraceableHandler
	server       *http.Server
	lock         sync.Mutex
}

// NewService 创建Http服务
func NewService(conf *Config) *Service {
	return &Service{BaseService: c.BaseService{SName: "http"}, Conf: conf}
}

// Init 初始化Http服务
func (p *Service) Init() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if len(p.Conf.handles) == 0 {
		return errors.New("no http handler")
	}
	serveMux := http.NewServeMux()
	for pattern, handler := range p.Conf.handles {
		serveMux.Handle(pattern, withMiddlewares(handler.ServeHTTP, p.Conf.middlewares))
	}

	graceHandler := &GraceableHandler{
		handler:   serveMux,
		waitGroup: &sync.WaitGroup{}}

	p.server = &http.Server{
		ReadTimeout:  p.Conf.readTimeout(),
		WriteTimeout: p.Conf.writeTimeout(),
		Handler:      graceHandler}
	p.graceHandler = graceHandler
	return nil
}

// Start 启动Http服务,开始端口监听和服务处理
func (p *Service) Start() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.server == nil {
		c.Errorf("%s is not inited", p.Name())
		return false
	}
	ln, err := net.Listen("tcp", p.Conf.Addr)
	if err != nil {
		c.Errorf("Listen at %s fail,error:%v", p.Conf.Addr, err)
		return false
	}
	c.Infof("Listen at %s", ln.Addr())

	tcpListener := tcpKeepAliveListener{ln.(*net.TCPListener)}
	if p.Conf.MaxConns > 0 {
		p.listener = netutil.LimitListener(tcpListener, p.Conf.MaxConns)
	} else {
		p.listener = tcpListener
	}

	p.graceHandler.waitGroup.Add(1)
	go func(server *http.Server, listener net.Listener, wg *sync.WaitGroup) {
		defer wg.Done()
		err := server.Serve(listener)
		if err != nil {
			var errLevel = c.Error
			if err == http.ErrServerClosed || strings.Contains(err.Error(), "use of closed network connection") {
				errLevel = c.Warn
			}
			c.Logf(errLevel, "server.Serve return with %v", err)
		}
	}(p.server, p.listener, p.graceHandler.waitGroup)
	return true
}

// Addr the listened address,nil if not started
func (p *Service) Addr() net.Addr {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop 停止Http服务,关闭端口监听并等待处理中的请求
func (p *Service) Stop() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.listener != nil {
		if err := p.listener.Close(); err != nil {
			c.Errorf("Close listener error:%v", err)
		}
	}
	if p.server != nil {
		p.server.SetKeepAlivesEnabled(false)
	}

	// 等待所有的服务
	c.Infof("Waiting shutdown")
	if p.graceHandler != nil {
		p.graceHandler.waitGroup.Wait()
	}
	if p.server != nil {
		// 关闭空闲的连接
		_ = p.server.Close()
	}
	c.Infof("Finish shutdown")

	p.listener = nil
	return true
}
