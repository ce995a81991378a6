package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "staking_gateway_build_info",
			Help: "Build information of the staking gateway",
		},
		[]string{"version", "commit", "date"},
	)

	EventsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_gateway_events_applied_total",
		Help: "Total number of staking events applied to the reconciler",
	}, []string{"kind", "source"})

	EventsDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_gateway_events_discarded_total",
		Help: "Total number of staking events discarded by the reconciler",
	}, []string{"reason"})

	StaleReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staking_gateway_stale_reads_total",
		Help: "Total number of cache reads that returned a stale record",
	})

	TrackedWalletsCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_gateway_tracked_wallets_current",
		Help: "Current number of wallets tracked by the reconciler",
	})

	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_gateway_webhook_requests_total",
		Help: "Total number of webhook requests received",
	}, []string{"result"})

	ListenerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_gateway_listener_events_total",
		Help: "Total number of log notifications handled by the event listener",
	}, []string{"result"})

	ListenerReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staking_gateway_listener_reconnects_total",
		Help: "Total number of websocket reconnects by the event listener",
	})

	PollTickTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_gateway_poll_tick_total",
		Help: "Total number of poller ticks",
	}, []string{"result"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "staking_gateway_poll_duration_seconds",
		Help:    "Duration of a full poller tick across all tracked wallets",
		Buckets: prometheus.ExponentialBuckets(0.05, 1.8, 10),
	})

	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_gateway_rpc_requests_total",
		Help: "Total number of upstream RPC requests",
	}, []string{"method", "result"})
)
