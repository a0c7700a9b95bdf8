package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/framewire"
	"github.com/kstaniek/go-tactile-server/internal/hub"
	"github.com/kstaniek/go-tactile-server/internal/logging"
	"github.com/kstaniek/go-tactile-server/internal/metrics"
)

// SendFunc forwards a client control command to the sensor transport.
type SendFunc func(cmd []byte) error

// Stats counts connection and command outcomes since the server was created.
type Stats struct {
	Accepted          uint64
	HandshakeFailures uint64
	Rejected          uint64 // over the client limit
	Connected         uint64
	Disconnected      uint64
	CommandsForwarded uint64
	CommandsRejected  uint64 // read-only mode or no sensor
	CommandOverflows  uint64
	CommandErrors     uint64
}

type counters struct {
	accepted, handshakeFail, rejected, connected, disconnected atomic.Uint64
	cmdForwarded, cmdRejected, cmdOverflow, cmdErrors          atomic.Uint64
}

// Server owns the TCP listener and streams decoded frames to clients. Each
// admitted connection gets a writer goroutine fed by the hub and a reader
// goroutine that forwards control commands to Send.
type Server struct {
	mu    sync.RWMutex
	addr  string
	Hub   *hub.Hub
	Codec framewire.Codec
	Send  SendFunc

	readOnly         bool
	flushInterval    time.Duration
	batchSize        int
	readDeadline     time.Duration
	handshakeTimeout time.Duration
	maxClients       int
	logger           *slog.Logger

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error

	listener net.Listener
	sessMu   sync.Mutex
	sessions map[*hub.Client]*session
	wg       sync.WaitGroup
	nextID   atomic.Uint64
	stats    counters
}

// session is one admitted client connection.
type session struct {
	id     uint64
	conn   net.Conn
	client *hub.Client
	log    *slog.Logger
}

const (
	defaultFlushInterval    = 5 * time.Millisecond
	defaultBatchSize        = 8
	defaultReadDeadline     = 60 * time.Second
	defaultHandshakeTimeout = 3 * time.Second
	defaultClientBuffer     = 16
	acceptRetryDelay        = 200 * time.Millisecond
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		addr:             ":0",
		Codec:            framewire.Codec{MaxBody: framewire.MaxCommandLen},
		flushInterval:    defaultFlushInterval,
		batchSize:        defaultBatchSize,
		readDeadline:     defaultReadDeadline,
		handshakeTimeout: defaultHandshakeTimeout,
		logger:           logging.L(),
		readyCh:          make(chan struct{}),
		sessions:         make(map[*hub.Client]*session),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.setAddr(a) } }
func WithHub(hb *hub.Hub) ServerOption     { return func(s *Server) { s.Hub = hb } }
func WithSend(send SendFunc) ServerOption  { return func(s *Server) { s.Send = send } }

// WithReadOnly makes the server discard client commands instead of
// forwarding them to the sensor.
func WithReadOnly(ro bool) ServerOption { return func(s *Server) { s.readOnly = ro } }

func WithFlushInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

func WithBatchSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// WithMaxClients limits simultaneous clients; zero means unlimited.
func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Stats returns a snapshot of the connection counters.
func (s *Server) Stats() Stats {
	c := &s.stats
	return Stats{
		Accepted:          c.accepted.Load(),
		HandshakeFailures: c.handshakeFail.Load(),
		Rejected:          c.rejected.Load(),
		Connected:         c.connected.Load(),
		Disconnected:      c.disconnected.Load(),
		CommandsForwarded: c.cmdForwarded.Load(),
		CommandsRejected:  c.cmdRejected.Load(),
		CommandOverflows:  c.cmdOverflow.Load(),
		CommandErrors:     c.cmdErrors.Load(),
	}
}

// fail records err as the last server error and counts it.
func (s *Server) fail(err error) {
	metrics.IncError(mapErrToMetric(err))
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve listens on the configured address and admits clients until ctx is
// cancelled. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		s.fail(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr(), "read_only", s.readOnly)
	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) {
				time.Sleep(acceptRetryDelay)
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			s.fail(wrap)
			return wrap
		}
		s.stats.accepted.Add(1)
		sess := s.admit(ctx, conn)
		if sess == nil {
			continue
		}
		s.startWriter(ctx.Done(), sess)
		s.startReader(ctx.Done(), sess)
	}
}

// admit tunes the socket, runs the handshake and registers a hub client.
// It closes conn and returns nil when the client is turned away.
func (s *Server) admit(ctx context.Context, conn net.Conn) *session {
	id := s.nextID.Add(1)
	l := s.logger.With("conn_id", id, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if err := s.Handshake(ctx, conn); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrHandshake, err)
		s.fail(wrap)
		s.stats.handshakeFail.Add(1)
		l.Warn("handshake_failed", "error", wrap)
		_ = conn.Close()
		return nil
	}
	if s.maxClients > 0 && s.Hub != nil && s.Hub.Count() >= s.maxClients {
		metrics.IncHubReject()
		s.stats.rejected.Add(1)
		l.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	bufSize := defaultClientBuffer
	if s.Hub != nil && s.Hub.OutBufSize > 0 {
		bufSize = s.Hub.OutBufSize
	}
	sess := &session{id: id, conn: conn, client: hub.NewClient(bufSize), log: l}
	s.sessMu.Lock()
	s.sessions[sess.client] = sess
	s.sessMu.Unlock()
	if s.Hub != nil {
		s.Hub.Add(sess.client)
	}
	s.stats.connected.Add(1)
	l.Info("client_connected")
	return sess
}

// release detaches a session from the hub; safe to call more than once.
func (s *Server) release(sess *session) {
	_ = sess.conn.Close()
	s.sessMu.Lock()
	_, ok := s.sessions[sess.client]
	delete(s.sessions, sess.client)
	s.sessMu.Unlock()
	if !ok {
		return
	}
	if s.Hub != nil {
		s.Hub.Remove(sess.client)
	}
	sess.client.Close()
	s.stats.disconnected.Add(1)
	sess.log.Info("client_disconnected")
}

// Shutdown closes the listener and every client, then waits for the IO
// goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.sessMu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.sessMu.Unlock()
	for _, sess := range open {
		s.release(sess)
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		st := s.Stats()
		s.logger.Info("shutdown_summary",
			"accepted", st.Accepted,
			"handshake_fail", st.HandshakeFailures,
			"rejected", st.Rejected,
			"connected", st.Connected,
			"disconnected", st.Disconnected,
			"commands", st.CommandsForwarded,
			"commands_rejected", st.CommandsRejected,
			"command_overflow", st.CommandOverflows,
			"command_errors", st.CommandErrors,
		)
		return nil
	}
}
