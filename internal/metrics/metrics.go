package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "medivrit"

// Reporter collects the outcome of one batch run and pushes it to a
// Prometheus Pushgateway. A Reporter without a URL only collects.
type Reporter struct {
	URL    string
	Job    string
	Logger *slog.Logger

	registry    *prometheus.Registry
	upserted    prometheus.Gauge
	sections    *prometheus.GaugeVec
	reminders   *prometheus.GaugeVec
	lastSuccess prometheus.Gauge
	duration    prometheus.Gauge
	started     time.Time
	succeeded   sync.Once
}

// NewReporter registers the job's metrics on a fresh registry. The last
// success gauge joins the registry only once Succeeded is called.
func NewReporter(url, job string, logger *slog.Logger) *Reporter {
	r := &Reporter{
		URL:      url,
		Job:      job,
		Logger:   logger,
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
		upserted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exercises_upserted",
			Help:      "Exercise rows confirmed by the backend in the last run.",
		}),
		sections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exercises_stored",
			Help:      "Exercises stored per SOAP section after the last run.",
		}, []string{"section"}),
		reminders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reminders",
			Help:      "Reminder emails by delivery status in the last run.",
		}, []string{"status"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that finished without error.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}

	r.registry.MustRegister(r.upserted, r.sections, r.reminders, r.duration)

	return r
}

// Registry exposes the collected metrics.
func (r *Reporter) Registry() *prometheus.Registry {
	return r.registry
}

// Upserted records how many exercise rows were written.
func (r *Reporter) Upserted(n int) {
	r.upserted.Set(float64(n))
}

// Stored records the exercise count of one section.
func (r *Reporter) Stored(section string, n int) {
	r.sections.WithLabelValues(section).Set(float64(n))
}

// Reminders records how many reminders ended with status.
func (r *Reporter) Reminders(status string, n int) {
	r.reminders.WithLabelValues(status).Set(float64(n))
}

// Succeeded stamps the run as successful.
func (r *Reporter) Succeeded() {
	r.succeeded.Do(func() { r.registry.MustRegister(r.lastSuccess) })
	r.lastSuccess.SetToCurrentTime()
}

// Push sends the collected metrics. Metrics of the same name in the job's
// group are replaced and the rest are kept, so a failed run leaves the
// previous last success timestamp in place. It does nothing when no URL is
// configured.
func (r *Reporter) Push(ctx context.Context) error {
	if r.URL == "" {
		return nil
	}

	r.duration.Set(time.Since(r.started).Seconds())

	err := push.New(r.URL, r.Job).Gatherer(r.registry).AddContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}

	r.Logger.Debug("Pushed metrics", "component", "metrics", "job", r.Job)

	return nil
}
