package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx funnels control-command writes through a single goroutine so a
// slow or wedged link never stalls the caller. If the internal buffer is
// full, Send invokes the OnDrop hook and returns its error (usually an
// overflow sentinel).
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, writeFn, hooks)
//	a.Send(cmd)
//	a.Close()
//
// Send after Close returns ErrAsyncTxClosed.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func([]byte) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (command not sent).
	OnError func(error)
	// OnAfter is called only after a successful send.
	OnAfter func()
	// OnDrop is called when the buffer is full; its returned error is returned
	// from Send. If nil, the overflow is silent (best-effort fire-and-forget).
	OnDrop func() error
}

var (
	// ErrAsyncTxClosed is returned by Send after Close.
	ErrAsyncTxClosed = errors.New("async tx closed")
	// ErrEmptyCommand is returned by Send for a zero-length command.
	ErrEmptyCommand = errors.New("empty command")
)

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func([]byte) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan []byte, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case cmd, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(cmd); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter()
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Send queues a copy of cmd for transmission or returns the drop error if
// the buffer is full.
func (a *AsyncTx) Send(cmd []byte) error {
	if len(cmd) == 0 {
		return ErrEmptyCommand
	}
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- append([]byte(nil), cmd...):
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Pending is the number of queued commands not yet handed to the writer.
func (a *AsyncTx) Pending() int { return len(a.ch) }

// Close stops the worker and waits for it to exit. Queued commands that were
// not written yet are discarded.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) { // already closed
		return
	}
	// close under the send lock so no Send writes to a closed channel
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
