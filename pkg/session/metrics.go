package session

import (
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/team-ns/launcher/pkg/api"
)

type sessionMetrics struct {
	set             *metrics.Set
	connections     *metrics.Counter
	errors          *metrics.Counter
	rejectedVersion *metrics.Counter
}

// m gets the metrics, initializing them if necessary.
func (h *Handler) m() *sessionMetrics {
	h.metricsInit.Do(func() {
		mo := &h.metricsObj
		mo.set = metrics.NewSet()
		mo.connections = mo.set.NewCounter(`launcher_session_connections_total`)
		mo.errors = mo.set.NewCounter(`launcher_session_errors_total`)
		mo.rejectedVersion = mo.set.NewCounter(`launcher_session_rejects_total{reason="versiongate"}`)
	})
	return &h.metricsObj
}

// request gets the per-message-type request counter.
func (m *sessionMetrics) request(t api.MessageType) *metrics.Counter {
	return m.set.GetOrCreateCounter(`launcher_session_requests_total{type="` + string(t) + `"}`)
}

// WritePrometheus writes the session metrics to w.
func (h *Handler) WritePrometheus(w io.Writer) {
	h.m().set.WritePrometheus(w)
}
