package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhaobenny/cptop/internal/model"
)

const namespace = "cptop"

// Metrics holds the ingestion and quota collectors on a private registry so
// that one-shot CLI runs can write them to a node_exporter textfile.
type Metrics struct {
	Registry *prometheus.Registry

	FilesScanned   *prometheus.CounterVec
	EventsIngested prometheus.Counter
	ParseFailures  prometheus.Counter
	ScanDuration   prometheus.Histogram

	PremiumUnits   *prometheus.GaugeVec
	QuotaRemaining prometheus.Gauge
	OverageCost    prometheus.Gauge
	Anomalies      prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FilesScanned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_scanned_total",
				Help:      "Log files visited by a scan",
			},
			[]string{"result"}, // "ok" / "unchanged" / "rotated" / "error"
		),
		EventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Usage events newly stored in the cache",
		}),
		ParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Structured log blocks that could not be decoded",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of a full scan",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PremiumUnits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "premium_units",
				Help:      "Premium request units consumed in the current billing period",
			},
			[]string{"model", "kind"}, // kind: "included" / "overage"
		),
		QuotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_remaining_units",
			Help:      "Included quota left in the current billing period",
		}),
		OverageCost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overage_cost_dollars",
			Help:      "Overage cost accrued in the current billing period",
		}),
		Anomalies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unknown_model_events",
			Help:      "Events excluded from billing because their model has no multiplier",
		}),
	}

	m.Registry.MustRegister(
		m.FilesScanned,
		m.EventsIngested,
		m.ParseFailures,
		m.ScanDuration,
		m.PremiumUnits,
		m.QuotaRemaining,
		m.OverageCost,
		m.Anomalies,
	)
	return m
}

// ObserveScan records one finished scan
func (m *Metrics) ObserveScan(d time.Duration, inserted int64, failures int) {
	m.ScanDuration.Observe(d.Seconds())
	m.EventsIngested.Add(float64(inserted))
	m.ParseFailures.Add(float64(failures))
}

// ObserveReport sets the quota gauges from the current billing period
func (m *Metrics) ObserveReport(r *model.UsageReport) {
	m.PremiumUnits.Reset()
	m.Anomalies.Set(float64(len(r.Anomalies)))
	if r.Current == nil {
		return
	}
	for name, c := range r.Current.Models {
		m.PremiumUnits.WithLabelValues(name, "included").Set(c.IncludedUnits)
		m.PremiumUnits.WithLabelValues(name, "overage").Set(c.OverageUnits)
	}
	m.QuotaRemaining.Set(r.Current.RemainingQuota)
	m.OverageCost.Set(r.Current.Totals.OverageCost)
}

// WriteTextfile writes all metrics in the Prometheus text format
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
