package common

import (
	"hash/fnv"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"sync"
	"syscall"
)

// HasNil 检查参数中是否有nil,包括值为nil的指针/func/map/slice/interface
func HasNil(params ...interface{}) bool {
	for _, p := range params {
		if p == nil {
			return true
		}
		v := reflect.ValueOf(p)
		switch v.Kind() {
		case reflect.Ptr, reflect.Func, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan:
			if v.IsNil() {
				return true
			}
		}
	}
	return false
}

// IsEmpty 检查字符串参数中是否有空串(trim之后)
func IsEmpty(strs ...string) bool {
	for _, s := range strs {
		if strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}

// SplitTrimOmitEmpty 按sep切分s,去掉每一项两边的空白并忽略空项
func SplitTrimOmitEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	ret := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}

// Fnv32Hashcode fnv32a,返回非负的int
func Fnv32Hashcode(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}

// Shutdownhook 监听退出信号并执行注册的hook
type Shutdownhook struct {
	ch    chan os.Signal //接收信号的channel
	hooks []func()       //停机时需要调用的方法列表
	sync.Mutex
}

// NewShutdownhook 创建一个Shutdownhook,sig是要监听的信号,默认会监听syscall.SIGINT,syscall.SIGTERM
func NewShutdownhook(sig ...os.Signal) *Shutdownhook {
	if len(sig) == 0 {
		sig = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, len(sig))
	signal.Notify(ch, sig...)
	return &Shutdownhook{ch: ch}
}

// AddHook 增加一个Hook函数
func (p *Shutdownhook) AddHook(hookFunc func()) {
	p.Lock()
	defer p.Unlock()
	p.hooks = append(p.hooks, hookFunc)
}

// WaitShutdown 等待进程退出的信号,收到信号后按注册的逆序执行hook
func (p *Shutdownhook) WaitShutdown() {
	s, ok := <-p.ch
	signal.Stop(p.ch)
	if !ok {
		Warnf("signal channel closed")
		return
	}

	p.Lock()
	defer p.Unlock()
	Infof("Receive signal:%v,Run hooks", s)
	for i := len(p.hooks) - 1; i >= 0; i-- {
		p.hooks[i]()
	}
	Infof("Finished run hooks")
}
