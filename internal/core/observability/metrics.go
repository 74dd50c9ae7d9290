// Package observability holds the Prometheus collectors shared by the pipeline.
package observability

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

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

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache backend operations by op and result.",
		},
		[]string{"op", "result"},
	)

	redisOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browse_cache_lookups_total",
			Help: "Cache lookups for remote locations by outcome.",
		},
		[]string{"namespace", "outcome"},
	)

	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browse_downloads_total",
			Help: "Remote file downloads by result.",
		},
		[]string{"namespace", "result"},
	)

	downloadBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browse_download_bytes_total",
			Help: "Bytes written to the local cache.",
		},
		[]string{"namespace"},
	)

	decodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "browse_decode_failures_total",
			Help: "Cached files that could not be decoded into images.",
		},
	)

	imagesAssembled = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "browse_images_per_output",
			Help:    "Decoded images returned per output call.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	hotCellsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "footprint_hot_cells",
			Help: "Number of footprint cells tracked for hotness.",
		},
	)

	hotnessScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "footprint_hotness_score",
			Help:    "Sampled hotness score of footprint cells touched by queries.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		cacheOpTotal, redisOpDurationSeconds, cacheLookups, downloadsTotal,
		downloadBytesTotal, decodeFailuresTotal, imagesAssembled,
		hotCellsGauge, hotnessScore,
	}
}

var initMu sync.Mutex

// Init registers the collectors on reg. With enabled=false or a nil registry the
// collectors still count but nothing exposes them.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	initMu.Lock()
	defer initMu.Unlock()
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpTotal.WithLabelValues(op, res).Inc()
	redisOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit(namespace string)  { cacheLookups.WithLabelValues(namespace, "hit").Inc() }
func IncCacheMiss(namespace string) { cacheLookups.WithLabelValues(namespace, "miss").Inc() }

func ObserveDownload(namespace string, bytes int64, err error) {
	if err != nil {
		downloadsTotal.WithLabelValues(namespace, "error").Inc()
		return
	}
	downloadsTotal.WithLabelValues(namespace, "ok").Inc()
	if bytes > 0 {
		downloadBytesTotal.WithLabelValues(namespace).Add(float64(bytes))
	}
}

func AddDecodeFailures(n int) {
	if n > 0 {
		decodeFailuresTotal.Add(float64(n))
	}
}

func ObserveImagesAssembled(n int) { imagesAssembled.Observe(float64(n)) }

func SetHotCells(n int) { hotCellsGauge.Set(float64(n)) }

func ObserveHotnessValueSample(score float64) { hotnessScore.Observe(score) }
