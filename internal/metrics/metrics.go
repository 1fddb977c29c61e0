package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh results recorded on mailctl_auth_refresh_total.
const (
	RefreshOK       = "ok"
	RefreshRejected = "rejected"
	RefreshError    = "error"
)

// Metrics holds the counters of one CLI invocation. All methods are safe on a
// nil receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	messagesFetched       prometheus.Counter
	messagesPersisted     prometheus.Counter
	recordsSkipped        prometheus.Counter
	attachmentsDownloaded prometheus.Counter
	attachmentFailures    prometheus.Counter
	authRefresh           *prometheus.CounterVec
}

// New creates a Metrics instance backed by a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailctl_messages_fetched_total",
			Help: "Remote message records received from the mail API.",
		}),
		messagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailctl_messages_persisted_total",
			Help: "Message records upserted into the local store.",
		}),
		recordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailctl_records_skipped_total",
			Help: "Remote records dropped because they could not be mapped.",
		}),
		attachmentsDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailctl_attachments_downloaded_total",
			Help: "Attachments written to the content directory.",
		}),
		attachmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailctl_attachment_failures_total",
			Help: "Attachment downloads that failed.",
		}),
		authRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailctl_auth_refresh_total",
			Help: "Silent credential refresh attempts by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.messagesFetched,
		m.messagesPersisted,
		m.recordsSkipped,
		m.attachmentsDownloaded,
		m.attachmentFailures,
		m.authRefresh,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSync records the outcome of one fetched page.
func (m *Metrics) ObserveSync(fetched, persisted, skipped int) {
	if m == nil {
		return
	}
	m.messagesFetched.Add(float64(fetched))
	m.messagesPersisted.Add(float64(persisted))
	m.recordsSkipped.Add(float64(skipped))
}

// ObserveDownload records one attachment download attempt.
func (m *Metrics) ObserveDownload(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.attachmentFailures.Inc()
		return
	}
	m.attachmentsDownloaded.Inc()
}

// ObserveRefresh records a silent refresh with one of the Refresh* results.
func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.authRefresh.WithLabelValues(result).Inc()
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
