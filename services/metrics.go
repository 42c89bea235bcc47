// services/metrics.go
package services

import (
	"io"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// Metrics counts accepted and rejected actions per kind.
type Metrics struct {
	registry gometrics.Registry
}

func NewMetrics() *Metrics {
	return &Metrics{registry: gometrics.NewRegistry()}
}

// Observe records one finished action. err == nil counts as accepted.
func (m *Metrics) Observe(action string, start time.Time, err error) {
	if m == nil {
		return
	}
	gometrics.GetOrRegisterTimer("action."+action+".latency", m.registry).UpdateSince(start)
	if err == nil {
		gometrics.GetOrRegisterCounter("action."+action+".accepted", m.registry).Inc(1)
		return
	}
	gometrics.GetOrRegisterCounter("action."+action+".rejected."+ErrorCode(err), m.registry).Inc(1)
}

// IncPublishFailure counts a notification the fan-out refused.
func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	gometrics.GetOrRegisterCounter("notify.failed", m.registry).Inc(1)
}

// IncRetry counts a store conflict that forced a re-read.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	gometrics.GetOrRegisterCounter("store.conflict_retries", m.registry).Inc(1)
}

// Count returns the current value of a counter, or 0 if it was never touched.
func (m *Metrics) Count(name string) int64 {
	if c, ok := m.registry.Get(name).(gometrics.Counter); ok {
		return c.Count()
	}
	return 0
}

// WriteJSON dumps every metric as one JSON object.
func (m *Metrics) WriteJSON(w io.Writer) {
	gometrics.WriteJSONOnce(m.registry, w)
}
