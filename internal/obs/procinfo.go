package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

// NewSelfCollector reports this process's own resident memory and open
// file descriptor count by reading /proc/self, the same procfs.FS
// surface the teacher uses for mount-point telemetry, narrowed to the
// one thing a long-running mgstore-serve process needs: whether it is
// leaking file descriptors across store directories it has open.
func NewSelfCollector() (prometheus.Collector, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, err
	}

	rss := prometheus.NewDesc("mgstore_process_resident_memory_bytes", "Resident memory of the serving process.", nil, nil)
	fds := prometheus.NewDesc("mgstore_process_open_fds", "Number of open file descriptors held by the serving process.", nil, nil)

	return &selfCollector{fs: fs, rss: rss, fds: fds}, nil
}

type selfCollector struct {
	fs  procfs.FS
	rss *prometheus.Desc
	fds *prometheus.Desc
}

func (c *selfCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rss
	ch <- c.fds
}

func (c *selfCollector) Collect(ch chan<- prometheus.Metric) {
	self, err := c.fs.Self()
	if err != nil {
		return
	}
	if stat, err := self.Stat(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(stat.ResidentMemory()))
	}
	if n, err := self.FileDescriptorsLen(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(n))
	}
}
