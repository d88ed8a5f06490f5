package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_device_pool_hits_total",
		Help: "Total number of successful buffer pool retrievals",
	}, []string{"backend"})

	poolMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_device_pool_misses_total",
		Help: "Total number of buffer pool misses (allocations)",
	}, []string{"backend"})

	poolSizeBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tensorcore_device_pool_size_bytes",
		Help: "Current total size of idle buffers in the pool in bytes",
	}, []string{"backend"})

	poolBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tensorcore_device_pool_buffers_count",
		Help: "Current total number of idle buffers in the pool",
	}, []string{"backend"})

	liveBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tensorcore_device_live_bytes",
		Help: "Bytes currently handed out by the backend",
	}, []string{"backend"})

	budgetRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_device_budget_rejections_total",
		Help: "Total number of requests refused by the memory budget",
	}, []string{"backend"})
)
