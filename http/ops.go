package http

import (
	"context"
	"net/http"
	"time"

	c "github.com/d0ngw/counters/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 运维接口的路径
const (
	MetricsPath = "/metrics"
	HealthPath  = "/healthz"
)

// HealthCheck check one dependency of the service
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// promLogger adapts the `promhttp` child logger to promhttp.Logger
type promLogger struct {
	log c.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.log.Errorf("%v", v)
}

// RegOps 注册/metrics和/healthz
func RegOps(conf *Config, gatherer prometheus.Gatherer, timeout time.Duration, checks ...HealthCheck) error {
	metrics := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      promLogger{log: c.Named("promhttp")},
		ErrorHandling: promhttp.ContinueOnError,
	})
	if err := conf.Handle(MetricsPath, metrics); err != nil {
		return err
	}
	return conf.HandleFunc(HealthPath, healthHandler(timeout, checks))
}

func healthHandler(timeout time.Duration, checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := make(map[string]string, len(checks))
		healthy := true
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				c.Warnf("health check %s fail,err:%v", check.Name, err)
				status[check.Name] = err.Error()
				healthy = false
				continue
			}
			status[check.Name] = "ok"
		}
		if !healthy {
			RenderJSON(w, http.StatusServiceUnavailable, &Resp{Success: false, Data: status, Msg: "unhealthy"})
			return
		}
		RenderJSON(w, http.StatusOK, &Resp{Success: true, Data: status})
	}
}
