package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters and gauges exposed at the metrics endpoint.
// Registered against the default registry so a single promhttp.Handler
// in the root package serves every peer's metrics.
type Metrics struct {
	QueueDepth       prometheus.Gauge
	HeartbeatsSent   prometheus.Counter
	HeartbeatsFailed prometheus.Counter
	DroppedPeers     prometheus.Counter
	FilesStored      prometheus.Gauge
	LookupsStarted   prometheus.Counter
	LookupsTimedOut  prometheus.Counter
}

// NewMetrics registers and returns a fresh set of metrics for name. The
// peer name is folded into a const label so multiple peers in a single
// process (as tests run) don't collide on the default registry.
func NewMetrics(name string) *Metrics {
	labels := prometheus.Labels{"peer": name}
	factory := func(opts prometheus.GaugeOpts) prometheus.Gauge {
		return prometheus.NewGauge(mergeGaugeLabels(opts, labels))
	}
	counterFactory := func(opts prometheus.CounterOpts) prometheus.Counter {
		return prometheus.NewCounter(mergeCounterLabels(opts, labels))
	}

	m := &Metrics{
		QueueDepth: factory(prometheus.GaugeOpts{
			Name: "meff_work_queue_depth",
			Help: "Current number of notifications buffered in the dispatcher's work queue.",
		}),
		HeartbeatsSent: counterFactory(prometheus.CounterOpts{
			Name: "meff_heartbeats_sent_total",
			Help: "Heartbeats sent to directory peers.",
		}),
		HeartbeatsFailed: counterFactory(prometheus.CounterOpts{
			Name: "meff_heartbeats_failed_total",
			Help: "Directory removals after a failed heartbeat or other send, or a DroppedPeer notice.",
		}),
		DroppedPeers: counterFactory(prometheus.CounterOpts{
			Name: "meff_dropped_peers_total",
			Help: "Peers removed from the directory after a failed heartbeat or send.",
		}),
		FilesStored: factory(prometheus.GaugeOpts{
			Name: "meff_files_stored",
			Help: "Number of files currently held locally.",
		}),
		LookupsStarted: counterFactory(prometheus.CounterOpts{
			Name: "meff_lookups_started_total",
			Help: "FindFile lookups broadcast to the directory.",
		}),
		LookupsTimedOut: counterFactory(prometheus.CounterOpts{
			Name: "meff_lookups_timed_out_total",
			Help: "Pending lookups swept out after exceeding the timeout.",
		}),
	}

	// Registration failing with AlreadyRegisteredError (a test suite
	// reusing a peer name) is not fatal: the gauge/counter still works
	// as a value, it just won't be the one a concurrent scrape sees.
	for _, c := range []prometheus.Collector{
		m.QueueDepth, m.HeartbeatsSent, m.HeartbeatsFailed,
		m.DroppedPeers, m.FilesStored, m.LookupsStarted, m.LookupsTimedOut,
	} {
		_ = prometheus.Register(c)
	}
	return m
}

func mergeGaugeLabels(opts prometheus.GaugeOpts, labels prometheus.Labels) prometheus.GaugeOpts {
	if opts.ConstLabels == nil {
		opts.ConstLabels = prometheus.Labels{}
	}
	for k, v := range labels {
		opts.ConstLabels[k] = v
	}
	return opts
}

func mergeCounterLabels(opts prometheus.CounterOpts, labels prometheus.Labels) prometheus.CounterOpts {
	if opts.ConstLabels == nil {
		opts.ConstLabels = prometheus.Labels{}
	}
	for k, v := range labels {
		opts.ConstLabels[k] = v
	}
	return opts
}
