package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mtcagent_build_info",
		Help: "Build information of the agent",
	}, []string{"version", "commit", "date"})

	AdapterLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtcagent_adapter_lines_total", Help: "Total SHDR lines received, per device.",
	}, []string{"device"})
	AdapterReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtcagent_adapter_reconnects_total", Help: "Total adapter reconnect attempts.",
	}, []string{"device"})
	AdaptersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtcagent_adapters_connected", Help: "Adapters currently connected.",
	})

	Observations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtcagent_observations_total", Help: "Observations appended to the sample buffer.",
	})
	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mtcagent_duplicates_suppressed_total", Help: "Values dropped because they equal the current value.",
	})
	IngestDiscards = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtcagent_ingest_discards_total", Help: "SHDR input discarded before reaching the buffer.",
	}, []string{"reason"})
	LastSequence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtcagent_last_sequence", Help: "Most recently allocated sequence number.",
	})

	AssetOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtcagent_asset_ops_total", Help: "Asset commands applied, per operation.",
	}, []string{"op"})
	AssetCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtcagent_assets", Help: "Live assets currently stored.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtcagent_http_requests_total", Help: "Query requests served, per kind.",
	}, []string{"kind"})
	HTTPErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtcagent_http_errors_total", Help: "Error documents returned, per error code.",
	}, []string{"code"})
	StreamingClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mtcagent_streaming_clients", Help: "Clients currently attached to interval streams.",
	})
)
