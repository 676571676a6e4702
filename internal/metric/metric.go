// Package metric exports variable engine counters to Prometheus.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bmcpi/varstore/internal/backend"
	"github.com/bmcpi/varstore/internal/firmware/varstore"
)

const namespace = "varstore"

type counter struct {
	desc  *prometheus.Desc
	value func(varstore.Stats) uint64
}

func newCounter(name, help string, value func(varstore.Stats) uint64) counter {
	return counter{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		value: value,
	}
}

// Collector reads the counters of a StatsReporter at scrape time.
type Collector struct {
	source   backend.StatsReporter
	counters []counter
}

// NewCollector returns a collector over source.
func NewCollector(source backend.StatsReporter) *Collector {
	return &Collector{
		source: source,
		counters: []counter{
			newCounter("lookups_total", "Variable lookups by name and vendor GUID.",
				func(s varstore.Stats) uint64 { return s.Lookups }),
			newCounter("index_hits_total", "Lookups answered from an index table.",
				func(s varstore.Stats) uint64 { return s.IndexHits }),
			newCounter("index_entries_scanned_total", "Index table entries examined.",
				func(s varstore.Stats) uint64 { return s.IndexEntriesScanned }),
			newCounter("tail_walks_total", "Walks of the unindexed part of a store.",
				func(s varstore.Stats) uint64 { return s.TailWalks }),
			newCounter("records_walked_total", "Records visited during tail walks.",
				func(s varstore.Stats) uint64 { return s.RecordsWalked }),
			newCounter("shadowed_total", "Records skipped during enumeration because a newer copy exists.",
				func(s varstore.Stats) uint64 { return s.Shadowed }),
			newCounter("decrypts_total", "Protected payloads decrypted.",
				func(s varstore.Stats) uint64 { return s.Decrypts }),
			newCounter("plain_cache_hits_total", "Protected payloads served from the plaintext cache.",
				func(s varstore.Stats) uint64 { return s.PlainCacheHits }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.counters {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	for _, m := range c.counters {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.value(stats)))
	}
}

// Init registers the collector for source with the default registry.
func Init(source backend.StatsReporter) error {
	return prometheus.Register(NewCollector(source))
}
