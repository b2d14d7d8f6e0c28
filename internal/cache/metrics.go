package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthsync_cache_hits_total",
		Help: "Number of fresh cache reads",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthsync_cache_misses_total",
		Help: "Number of cache reads that found nothing usable",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthsync_cache_evictions_total",
		Help: "Number of entries removed by size-based eviction",
	})

	cacheDroppedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthsync_cache_dropped_writes_total",
		Help: "Number of writes dropped after storage rejected them twice",
	})
)
