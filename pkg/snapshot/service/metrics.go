package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ prometheus.Collector = &Collector{}

// Collector exports snapshot progress and restoration status.
type Collector struct {
	s *Service

	accounts       *prometheus.Desc
	blocks         *prometheus.Desc
	bytes          *prometheus.Desc
	taking         *prometheus.Desc
	restoreStatus  *prometheus.Desc
	chunksTotal    *prometheus.Desc
	chunksRestored *prometheus.Desc
	restoreAccts   *prometheus.Desc
	restoreBytes   *prometheus.Desc
}

func NewCollector(s *Service) *Collector {
	return &Collector{
		s:        s,
		accounts: prometheus.NewDesc("snapshot_accounts", "Accounts chunked by the running or last snapshot.", nil, nil),
		blocks:   prometheus.NewDesc("snapshot_blocks", "Blocks chunked by the running or last snapshot.", nil, nil),
		bytes:    prometheus.NewDesc("snapshot_bytes", "Compressed bytes written by the running or last snapshot.", nil, nil),
		taking:   prometheus.NewDesc("snapshot_in_progress", "1 while a snapshot is being taken.", nil, nil),
		restoreStatus: prometheus.NewDesc("snapshot_restore_status",
			"Restoration state: 0 inactive, 1 initializing, 2 ongoing, 3 finalizing, 4 failed.", nil, nil),
		chunksTotal: prometheus.NewDesc("snapshot_restore_chunks_total",
			"Chunks declared by the active restoration's manifest.", []string{"kind"}, nil),
		chunksRestored: prometheus.NewDesc("snapshot_restore_chunks_done",
			"Chunks applied by the active restoration.", []string{"kind"}, nil),
		restoreAccts: prometheus.NewDesc("snapshot_restore_accounts",
			"Account entries applied by the active or last restoration.", nil, nil),
		restoreBytes: prometheus.NewDesc("snapshot_restore_bytes",
			"Compressed chunk bytes applied by the active or last restoration.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accounts
	ch <- c.blocks
	ch <- c.bytes
	ch <- c.taking
	ch <- c.restoreStatus
	ch <- c.chunksTotal
	ch <- c.chunksRestored
	ch <- c.restoreAccts
	ch <- c.restoreBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	p := c.s.Progress()
	ch <- prometheus.MustNewConstMetric(c.accounts, prometheus.GaugeValue, float64(p.Accounts()))
	ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(p.Blocks()))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(p.Bytes()))
	taking := 0.0
	if c.s.taking.Load() {
		taking = 1
	}
	ch <- prometheus.MustNewConstMetric(c.taking, prometheus.GaugeValue, taking)

	st := c.s.Status()
	ch <- prometheus.MustNewConstMetric(c.restoreStatus, prometheus.GaugeValue, float64(st.Kind))
	ch <- prometheus.MustNewConstMetric(c.chunksTotal, prometheus.GaugeValue, float64(st.StateChunks), "state")
	ch <- prometheus.MustNewConstMetric(c.chunksTotal, prometheus.GaugeValue, float64(st.BlockChunks), "block")
	ch <- prometheus.MustNewConstMetric(c.chunksRestored, prometheus.GaugeValue, float64(st.StateChunksDone), "state")
	ch <- prometheus.MustNewConstMetric(c.chunksRestored, prometheus.GaugeValue, float64(st.BlockChunksDone), "block")

	r := c.s.RestoreProgress()
	ch <- prometheus.MustNewConstMetric(c.restoreAccts, prometheus.GaugeValue, float64(r.Accounts()))
	ch <- prometheus.MustNewConstMetric(c.restoreBytes, prometheus.GaugeValue, float64(r.Bytes()))
}
