package observability

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
	for _, c := range collectors() {
		prometheus.MustRegister(c)
	}
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"upstream"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geoengine_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cache lookups by cache, tier and outcome.",
		},
		[]string{"cache", "tier", "outcome"},
	)

	cacheOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	boundaryResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boundary_resolutions_total",
			Help: "Boundary lookups by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	layerFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "layer_fetches_total",
			Help: "Context layer fetches by layer, provider and outcome.",
		},
		[]string{"layer", "provider", "outcome"},
	)

	cacheClears = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_clear_commands_total",
			Help: "Cache clear commands applied, by scope and result.",
		},
		[]string{"scope", "result"},
	)

	cacheClearKeys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_clear_keys_total",
			Help: "Keys removed by cache clear commands.",
		},
		[]string{"scope"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Filter sessions currently held in memory.",
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds, buildInfo,
		cacheResults, cacheOpDuration, boundaryResolutions, layerFetches, cacheClears,
		cacheClearKeys, kafkaConsumerErrors, activeSessions,
	}
}

// Init attaches the collectors to reg (in addition to the default registry)
// and toggles recording.
func Init(reg prometheus.Registerer, on bool) {
	enabled.Store(on)
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

// IncCacheResult records a lookup outcome ("hit" or "miss") for a cache tier.
func IncCacheResult(cache, tier, outcome string) {
	if !enabled.Load() {
		return
	}
	cacheResults.WithLabelValues(cache, tier, outcome).Inc()
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpDuration.WithLabelValues(op, res).Observe(durationSeconds)
}

func IncBoundaryResolution(strategy, outcome string) {
	if !enabled.Load() {
		return
	}
	boundaryResolutions.WithLabelValues(strategy, outcome).Inc()
}

func IncLayerFetch(layer, provider, outcome string) {
	if !enabled.Load() {
		return
	}
	layerFetches.WithLabelValues(layer, provider, outcome).Inc()
}

func ObserveCacheClear(scope string, keys int, d time.Duration, err error) {
	if !enabled.Load() {
		return
	}
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheClears.WithLabelValues(scope, res).Inc()
	if keys > 0 {
		cacheClearKeys.WithLabelValues(scope).Add(float64(keys))
	}
	upstreamLatencySeconds.WithLabelValues("cache_clear").Observe(d.Seconds())
}

func IncKafkaConsumerError(kind string) {
	if !enabled.Load() {
		return
	}
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
