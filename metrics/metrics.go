// Package metrics exports spanindex counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/spanindex"
	"github.com/meigma/spanindex/cache"
)

const namespace = "spanindex"

// Source is implemented by *spanindex.Index.
type Source interface {
	Stats() *spanindex.Stats
	BlockCache() cache.BlockCache
}

var _ prometheus.Collector = (*Collector)(nil)

var (
	seeksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "seeks_total"),
		"Number of range reads served from a seek checkpoint",
		nil, nil)

	returnedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "returned_bytes_total"),
		"Decompressed bytes returned by range reads",
		nil, nil)

	discardedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "discarded_bytes_total"),
		"Decompressed bytes skipped between a checkpoint and the requested range",
		nil, nil)

	compressedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "compressed_read_bytes_total"),
		"Compressed bytes read by range reads",
		nil, nil)

	fullScansDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "full_scans_total"),
		"Number of whole-file scans made by column filters",
		nil, nil)

	buildsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "builds_total"),
		"Number of file index builds by outcome",
		[]string{"result"}, nil)

	builtBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "built_bytes_total"),
		"Decompressed bytes scanned by successful builds",
		nil, nil)

	cacheLookupsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "block_cache", "lookups_total"),
		"Block cache lookups by outcome",
		[]string{"result"}, nil)

	cacheSizeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "block_cache", "size_bytes"),
		"Current size of the block cache",
		nil, nil)
)

// Collector reads the counters of an index at scrape time.
type Collector struct {
	src Source
}

// NewCollector returns a collector for src.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Describe sends the descriptors of all metrics.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- seeksDesc
	ch <- returnedDesc
	ch <- discardedDesc
	ch <- compressedDesc
	ch <- fullScansDesc
	ch <- buildsDesc
	ch <- builtBytesDesc
	ch <- cacheLookupsDesc
	ch <- cacheSizeDesc
}

// Collect sends the current metric values.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats().Snapshot()
	counter := func(desc *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	counter(seeksDesc, s.Seeks)
	counter(returnedDesc, s.BytesReturned)
	counter(discardedDesc, s.BytesDiscarded)
	counter(compressedDesc, s.CompressedBytesRead)
	counter(fullScansDesc, s.FullScans)
	counter(buildsDesc, s.Builds, "success")
	counter(buildsDesc, s.BuildFailures, "failure")
	counter(builtBytesDesc, s.BuiltBytes)

	bc := c.src.BlockCache()
	if bc == nil {
		return
	}
	cs := bc.Stats()
	counter(cacheLookupsDesc, cs.Hits, "hit")
	counter(cacheLookupsDesc, cs.Misses, "miss")
	ch <- prometheus.MustNewConstMetric(cacheSizeDesc, prometheus.GaugeValue, float64(bc.SizeBytes()))
}
