package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/saicgr/AIFitnessCoach-sub010/export"
	"github.com/saicgr/AIFitnessCoach-sub010/hook"
	"github.com/saicgr/AIFitnessCoach-sub010/id"
	"github.com/saicgr/AIFitnessCoach-sub010/mutation"
)

// Compile-time interface checks.
var (
	_ hook.Extension            = (*MetricsExtension)(nil)
	_ hook.MutationEnqueued     = (*MetricsExtension)(nil)
	_ hook.MutationSynced       = (*MetricsExtension)(nil)
	_ hook.MutationRetrying     = (*MetricsExtension)(nil)
	_ hook.MutationDeadLettered = (*MetricsExtension)(nil)
	_ hook.PassStarted          = (*MetricsExtension)(nil)
	_ hook.PassFinished         = (*MetricsExtension)(nil)
	_ hook.DeadLettersRecovered = (*MetricsExtension)(nil)
	_ hook.ExportCreated        = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via Prometheus.
// Register it as a fitsync extension to automatically track enqueue rates,
// sync counts, retry counts, dead-letter depth, recovery totals, export
// counts, and sync pass durations.
type MetricsExtension struct {
	MutationsEnqueued    prometheus.Counter
	MutationsSynced      prometheus.Counter
	MutationRetries      prometheus.Counter
	MutationsDeadLetter  prometheus.Counter
	DeadLettersRecovered prometheus.Counter
	ExportsCreated       prometheus.Counter

	// DeadLetterDepth tracks the current dead-letter set size as seen by
	// this process: incremented on dead-letter, decremented on recovery.
	DeadLetterDepth prometheus.Gauge

	// PassesStarted counts sync passes by trigger ("poll" or "manual").
	PassesStarted *prometheus.CounterVec

	// PassDuration observes wall-clock sync pass duration in seconds.
	PassDuration prometheus.Histogram
}

// NewMetricsExtension creates a MetricsExtension registered against the
// default Prometheus registerer.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsExtensionWithRegisterer creates a MetricsExtension with the
// provided registerer. Use prometheus.NewRegistry() for testing.
func NewMetricsExtensionWithRegisterer(reg prometheus.Registerer) *MetricsExtension {
	factory := promauto.With(reg)
	return &MetricsExtension{
		MutationsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "fitsync_mutations_enqueued_total",
			Help: "Total number of mutations enqueued for sync.",
		}),
		MutationsSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "fitsync_mutations_synced_total",
			Help: "Total number of mutations successfully applied to the remote API.",
		}),
		MutationRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "fitsync_mutation_retries_total",
			Help: "Total number of retry attempts scheduled after transient failures.",
		}),
		MutationsDeadLetter: factory.NewCounter(prometheus.CounterOpts{
			Name: "fitsync_mutations_dead_lettered_total",
			Help: "Total number of mutations that exhausted their retry budget.",
		}),
		DeadLettersRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "fitsync_dead_letters_recovered_total",
			Help: "Total number of dead-lettered mutations returned to the active queue.",
		}),
		ExportsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "fitsync_exports_created_total",
			Help: "Total number of dead-letter export files written.",
		}),
		DeadLetterDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fitsync_dead_letters",
			Help: "Current number of mutations in the dead-letter set.",
		}),
		PassesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsync_sync_passes_total",
			Help: "Total number of sync passes by trigger.",
		}, []string{"trigger"}),
		PassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitsync_sync_pass_duration_seconds",
			Help:    "Wall-clock duration of sync passes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Mutation lifecycle hooks ────────────────────────

// OnMutationEnqueued implements hook.MutationEnqueued.
func (m *MetricsExtension) OnMutationEnqueued(_ context.Context, _ *mutation.Mutation) error {
	m.MutationsEnqueued.Inc()
	return nil
}

// OnMutationSynced implements hook.MutationSynced.
func (m *MetricsExtension) OnMutationSynced(_ context.Context, _ *mutation.Mutation, _ time.Duration) error {
	m.MutationsSynced.Inc()
	return nil
}

// OnMutationRetrying implements hook.MutationRetrying.
func (m *MetricsExtension) OnMutationRetrying(_ context.Context, _ *mutation.Mutation, _ int, _ time.Time) error {
	m.MutationRetries.Inc()
	return nil
}

// OnMutationDeadLettered implements hook.MutationDeadLettered.
func (m *MetricsExtension) OnMutationDeadLettered(_ context.Context, _ *mutation.Mutation, _ error) error {
	m.MutationsDeadLetter.Inc()
	m.DeadLetterDepth.Inc()
	return nil
}

// ── Sync pass hooks ─────────────────────────────────

// OnPassStarted implements hook.PassStarted.
func (m *MetricsExtension) OnPassStarted(_ context.Context, _ id.PassID, trigger string) error {
	m.PassesStarted.WithLabelValues(trigger).Inc()
	return nil
}

// OnPassFinished implements hook.PassFinished.
func (m *MetricsExtension) OnPassFinished(_ context.Context, _ id.PassID, _, _ int, elapsed time.Duration) error {
	m.PassDuration.Observe(elapsed.Seconds())
	return nil
}

// ── Recovery and export hooks ───────────────────────

// OnDeadLettersRecovered implements hook.DeadLettersRecovered.
func (m *MetricsExtension) OnDeadLettersRecovered(_ context.Context, count int64) error {
	m.DeadLettersRecovered.Add(float64(count))
	m.DeadLetterDepth.Sub(float64(count))
	return nil
}

// OnExportCreated implements hook.ExportCreated.
func (m *MetricsExtension) OnExportCreated(_ context.Context, _ *export.File) error {
	m.ExportsCreated.Inc()
	return nil
}
