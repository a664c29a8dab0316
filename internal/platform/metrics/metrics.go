package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bot holds the coordinator process metrics.
type Bot struct {
	RequestsPublished prometheus.Counter
	ResultsHandled    *prometheus.CounterVec
}

// NewBot creates and registers the coordinator metrics.
func NewBot() *Bot {
	return &Bot{
		RequestsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrcverify_requests_published_total",
			Help: "Verification requests published to the broker",
		}),
		ResultsHandled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vrcverify_results_handled_total",
			Help: "Verification results consumed, by outcome",
		}, []string{"outcome"}),
	}
}

// Checker holds the profile checker process metrics.
type Checker struct {
	Lookups          *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	ResultsPublished prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// NewChecker creates and registers the checker metrics.
func NewChecker() *Checker {
	return &Checker{
		Lookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vrcverify_profile_lookups_total",
			Help: "VRChat profile lookups, by status",
		}, []string{"status"}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrcverify_profile_cache_hits_total",
			Help: "Profile lookups served from the result cache",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrcverify_profile_cache_misses_total",
			Help: "Profile lookups that missed the result cache",
		}),
		ResultsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vrcverify_results_published_total",
			Help: "Verification results published to the broker",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vrcverify_scheduler_queue_depth",
			Help: "Tasks waiting in the rate-limited scheduler",
		}),
	}
}
