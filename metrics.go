package lnclient

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values used by the client metrics.
const (
	kindUnary  = `unary`
	kindStream = `stream`

	outcomeResolved     = `resolved`
	outcomeRejected     = `rejected`
	outcomeCompleted    = `completed`
	outcomeErrored      = `errored`
	outcomeUnsubscribed = `unsubscribed`
)

// metrics is nil-safe, recording nothing if nil.
type metrics struct {
	calls   *prometheus.CounterVec
	updates *prometheus.CounterVec
}

// newMetrics registers the client metrics with reg, reusing existing
// collectors, e.g. for multiple clients sharing a registry.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	calls, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: `lnclient`,
		Name:      `calls_total`,
		Help:      `Adapted calls, by method, kind (unary or stream), and outcome.`,
	}, []string{`method`, `kind`, `outcome`}))
	if err != nil {
		return nil, err
	}
	updates, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: `lnclient`,
		Name:      `stream_updates_total`,
		Help:      `Next notifications delivered by streaming calls, by method and kind (status or data).`,
	}, []string{`method`, `kind`}))
	if err != nil {
		return nil, err
	}
	return &metrics{calls: calls, updates: updates}, nil
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (x *metrics) call(method, kind, outcome string) {
	if x == nil {
		return
	}
	x.calls.WithLabelValues(method, kind, outcome).Inc()
}

func (x *metrics) update(method string, kind UpdateKind) {
	if x == nil {
		return
	}
	x.updates.WithLabelValues(method, kind.String()).Inc()
}
