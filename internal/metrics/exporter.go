package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"lecca.io/mind-watchtower/internal/refresh"
	"lecca.io/mind-watchtower/internal/rpc"
	"lecca.io/mind-watchtower/internal/window"
)

type Exporter struct {
	nodeMgr *rpc.Manager
	window  *window.RollingWindow

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	fetchFailures *prometheus.CounterVec
	listed        prometheus.Gauge
	published     prometheus.Gauge
	lastHeight    prometheus.Gauge
	lastSuccess   prometheus.Gauge
	failureRatio  prometheus.Gauge
	avgInterval   prometheus.Gauge
	nodeHeight    *prometheus.GaugeVec
	nodeUp        *prometheus.GaugeVec
	nodeSyncing   *prometheus.GaugeVec
	nodeLastCheck *prometheus.GaugeVec
}

// NewExporter registers the watchtower metrics on reg. nodeMgr and win may be nil.
func NewExporter(reg prometheus.Registerer, prefix, chainID string, nodeMgr *rpc.Manager, win *window.RollingWindow) *Exporter {
	if prefix == "" {
		prefix = "mind"
	}
	constLabels := prometheus.Labels{"chain_id": chainID}

	e := &Exporter{
		nodeMgr: nodeMgr,
		window:  win,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        prefix + "_refresh_cycles_total",
			Help:        "Refresh cycles by outcome",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        prefix + "_refresh_cycle_duration_seconds",
			Help:        "Duration of refresh cycles",
			ConstLabels: constLabels,
			Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        prefix + "_refresh_fetch_failures_total",
			Help:        "Per-address fetch failures by operation",
			ConstLabels: constLabels,
		}, []string{"op"}),
		listed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        prefix + "_validators_listed",
			Help:        "Validator addresses listed by the last cycle",
			ConstLabels: constLabels,
		}),
		published: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        prefix + "_validators_published",
			Help:        "Validator records published by the last cycle",
			ConstLabels: constLabels,
		}),
		lastHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        prefix + "_refresh_last_height",
			Help:        "Block height that triggered the last cycle",
			ConstLabels: constLabels,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        prefix + "_refresh_last_success_timestamp",
			Help:        "Unix timestamp of the last successful cycle",
			ConstLabels: constLabels,
		}),
		failureRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        prefix + "_refresh_failure_ratio",
			Help:        "Failed cycle ratio over the rolling window (0-1)",
			ConstLabels: constLabels,
		}),
		avgInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        prefix + "_refresh_interval_avg_100_seconds",
			Help:        "Average time between the last 100 cycles in seconds",
			ConstLabels: constLabels,
		}),
		nodeHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        prefix + "_node_height",
			Help:        "Current block height of the node",
			ConstLabels: constLabels,
		}, []string{"label", "rpc_url"}),
		nodeUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        prefix + "_node_up",
			Help:        "Node up status (1=up, 0=down)",
			ConstLabels: constLabels,
		}, []string{"label", "rpc_url"}),
		nodeSyncing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        prefix + "_node_syncing",
			Help:        "Node syncing status (1=syncing, 0=synced)",
			ConstLabels: constLabels,
		}, []string{"label", "rpc_url"}),
		nodeLastCheck: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        prefix + "_node_last_check_timestamp",
			Help:        "Unix timestamp of last node check",
			ConstLabels: constLabels,
		}, []string{"label", "rpc_url"}),
	}

	reg.MustRegister(
		e.cycles,
		e.cycleDuration,
		e.fetchFailures,
		e.listed,
		e.published,
		e.lastHeight,
		e.lastSuccess,
		e.failureRatio,
		e.avgInterval,
		e.nodeHeight,
		e.nodeUp,
		e.nodeSyncing,
		e.nodeLastCheck,
	)

	return e
}

// Start refreshes node gauges every interval until ctx is done.
func (e *Exporter) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.UpdateNodes()
			}
		}
	}()
}

// ObserveCycle records one refresh cycle. Register it with Scheduler.OnCycle
// after the window has been fed.
func (e *Exporter) ObserveCycle(res refresh.CycleResult) {
	outcome := "ok"
	switch {
	case res.Err != nil:
		outcome = "failed"
	case len(res.Failed) > 0:
		outcome = "partial"
	}
	e.cycles.WithLabelValues(outcome).Inc()
	e.cycleDuration.Observe(res.Duration.Seconds())

	for _, fe := range res.Failed {
		e.fetchFailures.WithLabelValues(fe.Op).Inc()
	}

	e.listed.Set(float64(res.Listed))
	if res.OK() {
		e.published.Set(float64(res.Published))
		e.lastSuccess.Set(float64(res.Started.Unix()))
	}
	e.lastHeight.Set(float64(res.Height))

	if e.window != nil {
		_, _, ratio := e.window.Stats()
		e.failureRatio.Set(ratio)
		e.avgInterval.Set(e.window.AvgIntervalLastN(100).Seconds())
	}

	e.UpdateNodes()
}

func (e *Exporter) UpdateNodes() {
	if e.nodeMgr == nil {
		return
	}
	for _, n := range e.nodeMgr.GetNodes() {
		status := n.GetStatus()
		nodeLabels := prometheus.Labels{
			"label":   n.Config.Label,
			"rpc_url": rpc.RedactURL(n.Config.RPC),
		}

		e.nodeHeight.With(nodeLabels).Set(float64(status.BlockHeight))
		e.nodeUp.With(nodeLabels).Set(boolToFloat(status.Healthy))
		e.nodeSyncing.With(nodeLabels).Set(boolToFloat(status.Syncing))

		if !status.LastCheck.IsZero() {
			e.nodeLastCheck.With(nodeLabels).Set(float64(status.LastCheck.Unix()))
		} else {
			e.nodeLastCheck.With(nodeLabels).Set(0)
		}
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
