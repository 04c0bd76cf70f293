package http

import (
	"net/http"
	"runtime/debug"
	"time"

	c "github.com/d0ngw/counters/common"
)

// Middleware 包装处理函数
type Middleware interface {
	Handle(next http.HandlerFunc) http.HandlerFunc
}

// MiddlewareFunc adapts a func to Middleware
type MiddlewareFunc func(next http.HandlerFunc) http.HandlerFunc

// Handle implements Middleware
func (f MiddlewareFunc) Handle(next http.HandlerFunc) http.HandlerFunc {
	return f(next)
}

// RecoverMiddleware 恢复处理中的panic并返回500
var RecoverMiddleware = MiddlewareFunc(func(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				c.Errorf("handle %s panic:%v\n%s", r.RequestURI, err, debug.Stack())
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
})

// AccessLogMiddleware 在debug级别记录请求耗时
var AccessLogMiddleware = MiddlewareFunc(func(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		if c.DebugEnabled() {
			c.Debugf("%s %s from %s,cost:%v", r.Method, r.RequestURI, r.RemoteAddr, time.Since(start))
		}
	}
})

func withMiddlewares(h http.HandlerFunc, middlewares []Middleware) http.HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i].Handle(h)
	}
	return h
}
