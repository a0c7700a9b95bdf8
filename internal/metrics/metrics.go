package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-tactile-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	RxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_rx_bytes_total",
		Help: "Total raw bytes read from the sensor transport.",
	})
	Packages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoder_packages_total",
		Help: "Total packages accepted by the sequence validator.",
	})
	Frames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoder_frames_total",
		Help: "Total complete frames assembled.",
	})
	MalformedPackages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoder_malformed_total",
		Help: "Total package candidates rejected by CRC.",
	})
	SequenceGaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoder_sequence_gaps_total",
		Help: "Total sequence discontinuities (partial frame discarded).",
	})
	SkippedPackages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decoder_skipped_packages_total",
		Help: "Total valid packages dropped while waiting for a start-of-frame.",
	})
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_dropped_frames_total",
		Help: "Total frames evicted from the output queue (drop-oldest).",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Frames waiting in the output queue after the last push.",
	})
	CommandsTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transport_tx_commands_total",
		Help: "Total control commands written to the sensor transport.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total frames sent to TCP clients.",
	})
	TCPRxCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_commands_total",
		Help: "Total control commands received from TCP clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total frames dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acquisition_reconnects_total",
		Help: "Total transport reconnect attempts after a latched error.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTransportRead  = "transport_read"
	ErrTransportWrite = "transport_write"
	ErrTxOverflow     = "transport_tx_overflow"
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrConnect        = "connect"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRxBytes    uint64
	localPackages   uint64
	localFrames     uint64
	localMalformed  uint64
	localGaps       uint64
	localSkipped    uint64
	localQDrop      uint64
	localQDepth     uint64
	localCmdTx      uint64
	localTCPTx      uint64
	localTCPRx      uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubReject  uint64
	localHubClients uint64
	localReconnects uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxBytes    uint64
	Packages   uint64
	Frames     uint64
	Malformed  uint64
	Gaps       uint64
	Skipped    uint64
	QueueDrops uint64
	QueueDepth uint64
	CommandsTx uint64
	TCPTx      uint64
	TCPRx      uint64
	HubDrops   uint64
	HubKicks   uint64
	HubRejects uint64
	HubClients uint64
	Reconnects uint64
	Errors     uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		RxBytes:    atomic.LoadUint64(&localRxBytes),
		Packages:   atomic.LoadUint64(&localPackages),
		Frames:     atomic.LoadUint64(&localFrames),
		Malformed:  atomic.LoadUint64(&localMalformed),
		Gaps:       atomic.LoadUint64(&localGaps),
		Skipped:    atomic.LoadUint64(&localSkipped),
		QueueDrops: atomic.LoadUint64(&localQDrop),
		QueueDepth: atomic.LoadUint64(&localQDepth),
		CommandsTx: atomic.LoadUint64(&localCmdTx),
		TCPTx:      atomic.LoadUint64(&localTCPTx),
		TCPRx:      atomic.LoadUint64(&localTCPRx),
		HubDrops:   atomic.LoadUint64(&localHubDrop),
		HubKicks:   atomic.LoadUint64(&localHubKick),
		HubRejects: atomic.LoadUint64(&localHubReject),
		HubClients: atomic.LoadUint64(&localHubClients),
		Reconnects: atomic.LoadUint64(&localReconnects),
		Errors:     atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func AddRxBytes(n int) {
	RxBytes.Add(float64(n))
	atomic.AddUint64(&localRxBytes, uint64(n))
}

func IncPackage() {
	Packages.Inc()
	atomic.AddUint64(&localPackages, 1)
}

func IncFrame() {
	Frames.Inc()
	atomic.AddUint64(&localFrames, 1)
}

// IncMalformed counts a CRC rejection.
func IncMalformed() {
	MalformedPackages.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncSequenceGap() {
	SequenceGaps.Inc()
	atomic.AddUint64(&localGaps, 1)
}

func IncSkipped() {
	SkippedPackages.Inc()
	atomic.AddUint64(&localSkipped, 1)
}

func IncQueueDrop() {
	QueueDropped.Inc()
	atomic.AddUint64(&localQDrop, 1)
}

func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
	atomic.StoreUint64(&localQDepth, uint64(n))
}

func IncCommandTx() {
	CommandsTx.Inc()
	atomic.AddUint64(&localCmdTx, 1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncTCPRx() {
	TCPRxCommands.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func IncReconnect() {
	Reconnects.Inc()
	atomic.AddUint64(&localReconnects, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTransportRead, ErrTransportWrite, ErrTxOverflow,
		ErrTCPRead, ErrTCPWrite, ErrHandshake, ErrConnect,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
