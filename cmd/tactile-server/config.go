package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	backend      string
	serialDev    string
	baud         int
	serialReadTO time.Duration
	usbPath      string
	usbVID       string
	usbPID       string
	usbSerial    string
	canIf        string
	canRxID      uint
	canTxID      uint
	canExtended  bool
	simRate      float64

	shapeFile string
	rows      int
	cols      int
	bpp       int

	queueCap     int
	readSize     int
	txQueue      int
	reconnectMin time.Duration
	reconnectMax time.Duration

	listenAddr      string
	logFormat       string
	logLevel        string
	logFile         string
	logMaxSizeMB    int
	logMaxBackups   int
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	hubPrime        bool
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	readOnly        bool
	mdnsEnable      bool
	mdnsName        string
}

func defaultConfig() *appConfig {
	return &appConfig{
		backend:      "serial",
		serialDev:    "/dev/ttyUSB0",
		baud:         921600,
		serialReadTO: 50 * time.Millisecond,
		canIf:        "can0",
		canRxID:      0x100,
		canTxID:      0x101,
		simRate:      50,
		rows:         16,
		cols:         16,
		bpp:          2,
		queueCap:     16,
		readSize:     4096,
		txQueue:      64,
		reconnectMin: 200 * time.Millisecond,
		reconnectMax: 5 * time.Second,
		listenAddr:   ":20100",
		logFormat:    "text",
		logLevel:     "info",
		logMaxSizeMB: 50,
		hubBuffer:    16,
		hubPolicy:    "drop",
		handshakeTO:  3 * time.Second,
		clientReadTO: 60 * time.Second,
	}
}

func parseFlags() (*appConfig, bool) {
	return parseArgs(flag.CommandLine, os.Args[1:])
}

func parseArgs(fs *flag.FlagSet, args []string) (*appConfig, bool) {
	cfg := defaultConfig()
	fs.StringVar(&cfg.backend, "backend", cfg.backend, "Sensor transport: serial|usb|socketcan|sim")
	fs.StringVar(&cfg.serialDev, "serial", cfg.serialDev, "Serial device path (backend=serial)")
	fs.IntVar(&cfg.baud, "baud", cfg.baud, "Serial/USB baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", cfg.serialReadTO, "Serial/USB read timeout")
	fs.StringVar(&cfg.usbPath, "usb-path", "", "USB CDC device path (backend=usb); overrides VID/PID lookup")
	fs.StringVar(&cfg.usbVID, "usb-vid", "", "USB vendor id in hex (backend=usb)")
	fs.StringVar(&cfg.usbPID, "usb-pid", "", "USB product id in hex (backend=usb)")
	fs.StringVar(&cfg.usbSerial, "usb-serial", "", "USB serial number filter (backend=usb)")
	fs.StringVar(&cfg.canIf, "can-if", cfg.canIf, "SocketCAN interface (backend=socketcan)")
	fs.UintVar(&cfg.canRxID, "can-rx-id", cfg.canRxID, "CAN id carrying sensor data")
	fs.UintVar(&cfg.canTxID, "can-tx-id", cfg.canTxID, "CAN id for control commands")
	fs.BoolVar(&cfg.canExtended, "can-extended", false, "Use 29-bit CAN ids")
	fs.Float64Var(&cfg.simRate, "sim-rate", cfg.simRate, "Simulated frames per second (backend=sim)")
	fs.StringVar(&cfg.shapeFile, "shape-file", "", "YAML sensor geometry; overrides -rows/-cols/-bpp")
	fs.IntVar(&cfg.rows, "rows", cfg.rows, "Sensor rows (packages per frame)")
	fs.IntVar(&cfg.cols, "cols", cfg.cols, "Sensor columns (points per package)")
	fs.IntVar(&cfg.bpp, "bpp", cfg.bpp, "Bytes per point: 1|2")
	fs.IntVar(&cfg.queueCap, "queue", cfg.queueCap, "Decoded frame queue capacity (drop-oldest)")
	fs.IntVar(&cfg.readSize, "read-size", cfg.readSize, "Transport read buffer size")
	fs.IntVar(&cfg.txQueue, "tx-queue", cfg.txQueue, "Control command queue size")
	fs.DurationVar(&cfg.reconnectMin, "reconnect-min", cfg.reconnectMin, "Initial reconnect backoff")
	fs.DurationVar(&cfg.reconnectMax, "reconnect-max", cfg.reconnectMax, "Maximum reconnect backoff")
	fs.StringVar(&cfg.listenAddr, "listen", cfg.listenAddr, "TCP frame service listen address")
	fs.StringVar(&cfg.logFormat, "log-format", cfg.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", cfg.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.logFile, "log-file", "", "Also write logs to this rolling file")
	fs.IntVar(&cfg.logMaxSizeMB, "log-max-size", cfg.logMaxSizeMB, "Rolling log file size in MB before rotation")
	fs.IntVar(&cfg.logMaxBackups, "log-max-backups", 0, "Rotated log files to keep (0 = all)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", cfg.hubBuffer, "Per-client hub buffer (frames)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", cfg.hubPolicy, "Backpressure policy: drop|kick")
	fs.BoolVar(&cfg.hubPrime, "hub-prime", false, "Send the latest frame to clients on connect")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", cfg.handshakeTO, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", cfg.clientReadTO, "Per-connection read deadline")
	fs.BoolVar(&cfg.readOnly, "read-only", false, "Ignore control commands from TCP clients")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default tactile-server-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false
	}

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
// Geometry is validated when the shape is loaded.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "serial", "socketcan", "sim":
	case "usb":
		if c.usbPath == "" && (c.usbVID == "" || c.usbPID == "") {
			return errors.New("backend usb needs -usb-path or -usb-vid and -usb-pid")
		}
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.canExtended && c.canRxID > 0x1FFFFFFF || !c.canExtended && c.canRxID > 0x7FF {
		return fmt.Errorf("can-rx-id 0x%X out of range", c.canRxID)
	}
	if c.canExtended && c.canTxID > 0x1FFFFFFF || !c.canExtended && c.canTxID > 0x7FF {
		return fmt.Errorf("can-tx-id 0x%X out of range", c.canTxID)
	}
	if c.simRate <= 0 {
		return fmt.Errorf("sim-rate must be > 0")
	}
	if c.queueCap <= 0 {
		return fmt.Errorf("queue must be > 0 (got %d)", c.queueCap)
	}
	if c.readSize <= 0 {
		return fmt.Errorf("read-size must be > 0 (got %d)", c.readSize)
	}
	if c.txQueue <= 0 {
		return fmt.Errorf("tx-queue must be > 0 (got %d)", c.txQueue)
	}
	if c.reconnectMin <= 0 || c.reconnectMax < c.reconnectMin {
		return fmt.Errorf("reconnect backoff must satisfy 0 < min <= max (got %v, %v)", c.reconnectMin, c.reconnectMax)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.logFile != "" && c.logMaxSizeMB <= 0 {
		return fmt.Errorf("log-max-size must be > 0")
	}
	return nil
}

const envPrefix = "TACTILE_SERVER_"

// applyEnvOverrides maps TACTILE_SERVER_* environment variables to config
// fields unless the corresponding flag was explicitly set (flag wins). Empty
// values are ignored. Durations use time.ParseDuration format and ids accept
// 0x-prefixed hex.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
	}
	// lookup returns the env value for key unless flag name was set.
	lookup := func(name, key string) (string, bool) {
		if _, ok := set[name]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(envPrefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(name, key string, dst *string) {
		if v, ok := lookup(name, key); ok {
			*dst = v
		}
	}
	integer := func(name, key string, dst *int) {
		if v, ok := lookup(name, key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = n
		}
	}
	id := func(name, key string, dst *uint) {
		if v, ok := lookup(name, key); ok {
			n, err := strconv.ParseUint(v, 0, 32)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = uint(n)
		}
	}
	dur := func(name, key string, dst *time.Duration) {
		if v, ok := lookup(name, key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = d
		}
	}
	boolean := func(name, key string, dst *bool) {
		if v, ok := lookup(name, key); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(key, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	str("backend", "BACKEND", &c.backend)
	str("serial", "SERIAL", &c.serialDev)
	integer("baud", "BAUD", &c.baud)
	dur("serial-read-timeout", "SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("usb-path", "USB_PATH", &c.usbPath)
	str("usb-vid", "USB_VID", &c.usbVID)
	str("usb-pid", "USB_PID", &c.usbPID)
	str("usb-serial", "USB_SERIAL", &c.usbSerial)
	str("can-if", "CAN_IF", &c.canIf)
	id("can-rx-id", "CAN_RX_ID", &c.canRxID)
	id("can-tx-id", "CAN_TX_ID", &c.canTxID)
	boolean("can-extended", "CAN_EXTENDED", &c.canExtended)
	if v, ok := lookup("sim-rate", "SIM_RATE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.simRate = f
		} else {
			fail("SIM_RATE", err)
		}
	}
	str("shape-file", "SHAPE_FILE", &c.shapeFile)
	integer("rows", "ROWS", &c.rows)
	integer("cols", "COLS", &c.cols)
	integer("bpp", "BPP", &c.bpp)
	integer("queue", "QUEUE", &c.queueCap)
	integer("read-size", "READ_SIZE", &c.readSize)
	integer("tx-queue", "TX_QUEUE", &c.txQueue)
	dur("reconnect-min", "RECONNECT_MIN", &c.reconnectMin)
	dur("reconnect-max", "RECONNECT_MAX", &c.reconnectMax)
	str("listen", "LISTEN", &c.listenAddr)
	str("log-format", "LOG_FORMAT", &c.logFormat)
	str("log-level", "LOG_LEVEL", &c.logLevel)
	str("log-file", "LOG_FILE", &c.logFile)
	integer("log-max-size", "LOG_MAX_SIZE", &c.logMaxSizeMB)
	integer("log-max-backups", "LOG_MAX_BACKUPS", &c.logMaxBackups)
	if _, ok := set["metrics-addr"]; !ok {
		// An empty value explicitly disables metrics.
		if v, ok := os.LookupEnv(envPrefix + "METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	integer("hub-buffer", "HUB_BUFFER", &c.hubBuffer)
	str("hub-policy", "HUB_POLICY", &c.hubPolicy)
	boolean("hub-prime", "HUB_PRIME", &c.hubPrime)
	dur("log-metrics-interval", "LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	integer("max-clients", "MAX_CLIENTS", &c.maxClients)
	dur("handshake-timeout", "HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "CLIENT_READ_TIMEOUT", &c.clientReadTO)
	boolean("read-only", "READ_ONLY", &c.readOnly)
	boolean("mdns-enable", "MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "MDNS_NAME", &c.mdnsName)
	return firstErr
}
