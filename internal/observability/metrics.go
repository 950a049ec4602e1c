package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Tracer is the shared tracer for pipeline spans. No exporter is installed by
// default, so spans are no-ops unless the embedding environment sets one up.
var Tracer = otel.Tracer("singbox-rules")

// Metrics definitions
var (
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "singbox_rules_fetch_seconds",
		Help:    "Time spent fetching an upstream rule list.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	FetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "singbox_rules_fetch_retries_total",
		Help: "Total number of fetch attempts beyond the first.",
	})

	RulesParsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "singbox_rules_parsed_total",
		Help: "Total number of rules parsed from upstream lists, by kind.",
	}, []string{"kind"})

	RuleSetsBuiltTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "singbox_rules_sets_built_total",
		Help: "Total number of rule-set JSON files written.",
	})

	CompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "singbox_rules_compile_seconds",
		Help:    "Time spent in a single external compile invocation.",
		Buckets: prometheus.DefBuckets,
	})

	CompileFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "singbox_rules_compile_failures_total",
		Help: "Total number of failed external compile invocations.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "singbox_rules_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})
)
