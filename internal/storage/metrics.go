package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_storage_allocations_total",
		Help: "Total number of storages allocated",
	}, []string{"backend", "kind"})

	releases = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_storage_releases_total",
		Help: "Total number of storages whose last reference was released",
	}, []string{"backend", "kind"})

	liveStorages = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tensorcore_storage_live",
		Help: "Number of storages currently holding a buffer",
	}, []string{"backend"})

	resizes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_storage_resizes_total",
		Help: "Total number of storage resizes by path (inplace, realloc)",
	}, []string{"backend", "path"})

	allocFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorcore_storage_allocation_failures_total",
		Help: "Total number of failed storage allocations and resizes",
	}, []string{"backend"})
)
