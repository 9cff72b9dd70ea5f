package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics the B+tree, document map, and impact transform report
// through. Each is registered once at package init, matching the
// teacher's promauto.New* pattern of declaring metrics as package
// vars rather than constructing a registry per component instance.
var (
	BtreeSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mgstore_btree_splits_total",
		Help: "Number of leaf or internal node splits performed.",
	})

	BtreePages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mgstore_btree_pages",
		Help: "Number of pages currently allocated to the vocabulary B+tree.",
	})

	DocmapSaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mgstore_docmap_save_duration_seconds",
		Help:    "Time taken by DocMap.Save calls.",
		Buckets: prometheus.DefBuckets,
	})

	DocmapCacheHitRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mgstore_docmap_cache_hit_ratio",
		Help: "Fraction of document-map reads served from resident pages rather than a page fault.",
	})

	ImpactTransformDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mgstore_impact_transform_duration_seconds",
		Help:    "Wall time of a full impact-transform run over a vocabulary.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	ImpactTermsRewritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mgstore_impact_terms_rewritten_total",
		Help: "Number of vocabulary terms rewritten by the impact transform.",
	})

	StemCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mgstore_stemcache_hits_total",
		Help: "Number of stem cache lookups served from a cached slot.",
	})

	StemCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mgstore_stemcache_misses_total",
		Help: "Number of stem cache lookups that invoked the stemmer.",
	})
)
