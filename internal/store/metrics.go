package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// slowOperation is the duration above which an operation is logged at warn
// level instead of debug.
const slowOperation = 50 * time.Millisecond

type metrics struct {
	duration  *prometheus.HistogramVec
	conflicts *prometheus.CounterVec
}

// newMetrics creates the store collectors and registers them with reg when
// it is non-nil. Collectors already registered by an earlier store are
// reused.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "msgarchive",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of archive operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgarchive",
			Subsystem: "store",
			Name:      "conflicts_total",
			Help:      "Inserts that hit an existing natural key, by table and policy.",
		}, []string{"table", "policy"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.conflicts, err = register(reg, m.conflicts); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// timeit records the duration of op. Use as: defer s.timeit("op")()
func (s *Store) timeit(op string) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		s.metrics.duration.WithLabelValues(op).Observe(elapsed.Seconds())
		if elapsed > slowOperation {
			s.log.Warn("slow archive operation", "op", op, "duration", elapsed)
			return
		}
		s.log.Debug("archive operation", "op", op, "duration", elapsed)
	}
}
