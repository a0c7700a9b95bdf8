package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kstaniek/go-tactile-server/internal/framequeue"
	"github.com/kstaniek/go-tactile-server/internal/logging"
	"github.com/kstaniek/go-tactile-server/internal/metrics"
	"github.com/kstaniek/go-tactile-server/internal/tactile"
	"github.com/kstaniek/go-tactile-server/internal/transport"
)

// DefaultTxQueue is the control-command backlog per connection.
const DefaultTxQueue = 64

var (
	// ErrNotConnected is returned by Send and Disconnect without a live link.
	ErrNotConnected = errors.New("sensor not connected")
	// ErrAlreadyConnected is returned by Connect while a link is open.
	ErrAlreadyConnected = errors.New("sensor already connected")
	// ErrTxOverflow is returned by Send when the command queue is full.
	ErrTxOverflow = errors.New("command queue overflow")
)

// Sensor is the consumer-facing handle of one tactile sensor. It owns the
// frame queue across connections; each Connect starts a fresh decoder and
// producer loop. There is no automatic reconnect.
type Sensor struct {
	shape    tactile.Shape
	q        *framequeue.Queue
	log      *slog.Logger
	now      func() time.Time
	readSize int
	txQueue  int

	mu      sync.Mutex
	loop    *Loop
	tx      *transport.AsyncTx
	session string
}

// Option configures a Sensor.
type Option func(*Sensor)

// WithQueueCapacity sets the frame queue capacity.
func WithQueueCapacity(n int) Option { return func(s *Sensor) { s.q = framequeue.New(n) } }

// WithReadSize sets the per-read buffer of the producer loop.
func WithReadSize(n int) Option { return func(s *Sensor) { s.readSize = n } }

// WithTxQueue sets the control-command backlog.
func WithTxQueue(n int) Option { return func(s *Sensor) { s.txQueue = n } }

// WithLogger sets the logger used for connection and read-loop events.
func WithLogger(l *slog.Logger) Option { return func(s *Sensor) { s.log = l } }

// WithClock overrides the frame timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Sensor) { s.now = now } }

// NewSensor validates shape and returns a disconnected sensor.
func NewSensor(shape tactile.Shape, opts ...Option) (*Sensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	s := &Sensor{shape: shape.Clone(), txQueue: DefaultTxQueue}
	for _, o := range opts {
		o(s)
	}
	if s.q == nil {
		s.q = framequeue.New(framequeue.DefaultCapacity)
	}
	if s.log == nil {
		s.log = logging.L()
	}
	return s, nil
}

// Connect starts acquisition on tr. The sensor takes ownership of tr and
// closes it on Disconnect. Frames and a latched error left over from a
// previous connection are discarded.
func (s *Sensor) Connect(ctx context.Context, tr transport.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop != nil {
		return ErrAlreadyConnected
	}
	decOpts := []tactile.DecoderOption{tactile.WithLogger(s.log)}
	if s.now != nil {
		decOpts = append(decOpts, tactile.WithClock(s.now))
	}
	dec, err := tactile.NewDecoder(s.shape, decOpts...)
	if err != nil {
		return err
	}
	s.q.Reset()
	session := uuid.NewString()
	l := s.log.With("session", session)
	loop := NewLoop(tr, dec, s.q, s.readSize, l)
	tx := transport.NewAsyncTx(ctx, s.txQueue, func(cmd []byte) error {
		_, err := tr.Write(cmd)
		return err
	}, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrTransportWrite)
			l.Error("transport_write_error", "error", err)
		},
		OnAfter: metrics.IncCommandTx,
		OnDrop: func() error {
			metrics.IncError(metrics.ErrTxOverflow)
			return ErrTxOverflow
		},
	})
	if err := loop.Start(ctx); err != nil {
		tx.Close()
		return fmt.Errorf("start acquisition: %w", err)
	}
	s.loop, s.tx, s.session = loop, tx, session
	l.Info("sensor_connected", "rows", s.shape.Rows, "cols", s.shape.Cols, "bpp", s.shape.BytesPerPoint)
	return nil
}

// Disconnect stops the producer loop and closes the transport. Frames already
// queued stay readable.
func (s *Sensor) Disconnect() error {
	s.mu.Lock()
	loop, tx, session := s.loop, s.tx, s.session
	s.loop, s.tx = nil, nil
	s.mu.Unlock()
	if loop == nil {
		return ErrNotConnected
	}
	tx.Close()
	err := loop.Stop()
	s.log.Info("sensor_disconnected", "session", session)
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// Connected reports whether a producer loop is attached (it may have stopped
// on a transport error; see Done).
func (s *Sensor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop != nil
}

// Done is closed when the current producer loop exits. It returns nil when
// not connected.
func (s *Sensor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		return nil
	}
	return s.loop.Done()
}

// Get returns the oldest queued frame. A latched transport error is returned
// once, before any remaining frames.
func (s *Sensor) Get() (tactile.Frame, bool, error) {
	if err := s.q.TakeError(); err != nil {
		return tactile.Frame{}, false, err
	}
	f, ok := s.q.Get()
	return f, ok, nil
}

// GetLast returns the newest frame and drops the backlog. A latched transport
// error is returned once, before any remaining frames.
func (s *Sensor) GetLast() (tactile.Frame, bool, error) {
	if err := s.q.TakeError(); err != nil {
		return tactile.Frame{}, false, err
	}
	f, ok := s.q.GetLast()
	return f, ok, nil
}

// Send queues a control command for the transport without blocking decoding.
func (s *Sensor) Send(cmd []byte) error {
	s.mu.Lock()
	tx := s.tx
	s.mu.Unlock()
	if tx == nil {
		return ErrNotConnected
	}
	return tx.Send(cmd)
}

// Session returns the id of the current connection, or "" when disconnected.
func (s *Sensor) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		return ""
	}
	return s.session
}

// Notify signals (coalesced) that a frame or an error was queued.
func (s *Sensor) Notify() <-chan struct{} { return s.q.Notify() }

// Shape returns a copy of the configured geometry.
func (s *Sensor) Shape() tactile.Shape { return s.shape.Clone() }

// Queue exposes the frame queue for depth and drop inspection.
func (s *Sensor) Queue() *framequeue.Queue { return s.q }
