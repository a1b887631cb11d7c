package middleware

import (
	"authz-rpc/message"
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records call counts and latencies per method and error kind.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authz_rpc",
			Name:      "calls_total",
			Help:      "RPC calls by method and error kind (empty kind on success).",
		}, []string{"method", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "authz_rpc",
			Name:      "call_duration_seconds",
			Help:      "RPC call latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			m.duration.WithLabelValues(req.ServiceMethod).Observe(time.Since(start).Seconds())
			m.calls.WithLabelValues(req.ServiceMethod, resp.ErrorKind).Inc()
			return resp
		}
	}
}
