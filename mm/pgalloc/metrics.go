package pgalloc

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pagekit"

// metrics holds the counters updated by Manager operations.
type metrics struct {
	allocs    *prometheus.CounterVec // result: ok, no_memory
	frees     prometheus.Counter
	reserves  *prometheus.CounterVec // result: ok, not_free
	reclaimed prometheus.Counter
	state     *stateCollector

	reg        prometheus.Registerer
	registered []prometheus.Collector
}

func newMetrics(m *Manager, reg prometheus.Registerer) (*metrics, error) {
	mt := &metrics{
		allocs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alloc_total",
			Help:      "Page block allocations by result.",
		}, []string{"result"}),
		frees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "free_total",
			Help:      "Page blocks returned to the allocator.",
		}),
		reserves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reserve_total",
			Help:      "Single-page reservations by result.",
		}, []string{"result"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_bytes_total",
			Help:      "Bytes of free page memory returned to the operating system.",
		}),
		state: &stateCollector{m: m},
		reg:   reg,
	}

	if reg == nil {
		return mt, nil
	}
	for _, c := range mt.collectors() {
		if err := reg.Register(c); err != nil {
			mt.unregister()
			return nil, fmt.Errorf("pgalloc: register metrics: %w", err)
		}
		mt.registered = append(mt.registered, c)
	}
	return mt, nil
}

func (mt *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{mt.allocs, mt.frees, mt.reserves, mt.reclaimed, mt.state}
}

func (mt *metrics) unregister() {
	for _, c := range mt.registered {
		mt.reg.Unregister(c)
	}
	mt.registered = nil
}

// stateCollector reports free-list shape at scrape time.
type stateCollector struct {
	m *Manager
}

var (
	freePagesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "free_pages"),
		"Pages currently free.",
		nil, nil,
	)
	freeBlocksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "free_blocks"),
		"Free blocks per order.",
		[]string{"order"}, nil,
	)
)

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- freePagesDesc
	ch <- freeBlocksDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	c.m.mu.Lock()
	areas := c.m.alg.DumpState()
	free := c.m.alg.FreePageCount()
	c.m.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(freePagesDesc, prometheus.GaugeValue, float64(free))
	for _, area := range areas {
		ch <- prometheus.MustNewConstMetric(freeBlocksDesc, prometheus.GaugeValue,
			float64(len(area.Frames)), strconv.Itoa(area.Order))
	}
}
