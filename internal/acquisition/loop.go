// Package acquisition runs the producer side of a tactile sensor: one
// goroutine reads the transport, decodes inline and hands finished frames
// to a drop-oldest queue that consumers poll.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-tactile-server/internal/framequeue"
	"github.com/kstaniek/go-tactile-server/internal/logging"
	"github.com/kstaniek/go-tactile-server/internal/metrics"
	"github.com/kstaniek/go-tactile-server/internal/tactile"
	"github.com/kstaniek/go-tactile-server/internal/transport"
)

// DefaultReadSize is the per-read buffer; transports may return fewer bytes.
const DefaultReadSize = 4096

var (
	// ErrTransport wraps a fatal transport read error latched into the queue.
	ErrTransport = errors.New("transport error")
	// ErrLoopStarted is returned by Start on a loop that was already started.
	ErrLoopStarted = errors.New("acquisition loop already started")
)

// Loop is the producer goroutine for one transport. A Loop runs once:
// Stopped -> Running -> Stopped.
type Loop struct {
	tr       transport.Transport
	dec      *tactile.Decoder
	q        *framequeue.Queue
	readSize int
	log      *slog.Logger

	started   atomic.Bool
	running   atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewLoop wires a transport to a decoder and queue. readSize <= 0 selects
// DefaultReadSize; a nil logger selects the global one.
func NewLoop(tr transport.Transport, dec *tactile.Decoder, q *framequeue.Queue, readSize int, l *slog.Logger) *Loop {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	if l == nil {
		l = logging.L()
	}
	return &Loop{tr: tr, dec: dec, q: q, readSize: readSize, log: l, done: make(chan struct{})}
}

// Start spawns the producer goroutine.
func (l *Loop) Start(ctx context.Context) error {
	if l.started.Swap(true) {
		return ErrLoopStarted
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.running.Store(true)
	go l.run(ctx)
	return nil
}

// Running reports whether the producer goroutine is still reading.
func (l *Loop) Running() bool { return l.running.Load() }

// Done is closed when the producer goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Stop cancels the loop, closes the transport so an in-flight read returns,
// and waits for the goroutine to exit. It returns the transport close error.
func (l *Loop) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	l.closeOnce.Do(func() { l.closeErr = l.tr.Close() })
	if l.started.Load() {
		<-l.done
	}
	return l.closeErr
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.running.Store(false)
	l.log.Info("acquisition_start", "read_size", l.readSize)
	buf := make([]byte, l.readSize)
	for {
		if ctx.Err() != nil {
			l.logEnd("stopped")
			return
		}
		n, err := l.tr.Read(buf)
		if n > 0 {
			metrics.AddRxBytes(n)
			for _, f := range l.dec.Push(buf[:n]) {
				l.q.Push(f)
			}
		}
		if err != nil {
			if ctx.Err() != nil { // shutting down, close raced the read
				l.logEnd("stopped")
				return
			}
			metrics.IncError(metrics.ErrTransportRead)
			l.log.Error("transport_read_error", "error", err)
			l.q.SetError(fmt.Errorf("%w: %w", ErrTransport, err))
			l.logEnd("transport_error")
			return
		}
	}
}

func (l *Loop) logEnd(reason string) {
	st := l.dec.Stats()
	l.log.Info("acquisition_end",
		"reason", reason,
		"packages", st.Packages,
		"frames", st.Frames,
		"checksum_errors", st.ChecksumErrors,
		"gaps", st.Gaps,
		"skipped", st.Skipped,
		"slid_bytes", st.SlidBytes,
	)
}
