package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errOverflow = errors.New("overflow")
	errSendFail = errors.New("send fail")
)

// TestAsyncTxSuccess verifies commands are sent and hooks fire.
func TestAsyncTxSuccess(t *testing.T) {
	var sent atomic.Int64
	var after atomic.Int64
	ax := NewAsyncTx(context.Background(), 4, func(cmd []byte) error {
		sent.Add(1)
		return nil
	}, Hooks{OnAfter: func() { after.Add(1) }})
	defer ax.Close()
	for i := 0; i < 3; i++ {
		if err := ax.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && sent.Load() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if sent.Load() != 3 || after.Load() != 3 {
		t.Fatalf("expected 3 sent & after, got sent=%d after=%d", sent.Load(), after.Load())
	}
}

// TestAsyncTxCopiesCommand ensures callers may reuse their buffer after Send.
func TestAsyncTxCopiesCommand(t *testing.T) {
	got := make(chan []byte, 1)
	ax := NewAsyncTx(context.Background(), 1, func(cmd []byte) error { got <- cmd; return nil }, Hooks{})
	defer ax.Close()
	buf := []byte{1, 2, 3}
	if err := ax.Send(buf); err != nil {
		t.Fatal(err)
	}
	buf[0] = 9
	select {
	case cmd := <-got:
		if !bytes.Equal(cmd, []byte{1, 2, 3}) {
			t.Fatalf("command aliased caller buffer: % X", cmd)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout")
	}
}

// TestAsyncTxOverflow ensures OnDrop is invoked when buffer full.
func TestAsyncTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var drops atomic.Int64
	block := make(chan struct{})
	ax := NewAsyncTx(ctx, 1, func([]byte) error { <-block; return nil }, Hooks{OnDrop: func() error { drops.Add(1); return errOverflow }})
	defer ax.Close()
	defer close(block)
	// First command is picked up by the worker, second fills the buffer.
	if err := ax.Send([]byte{1}); err != nil {
		t.Fatalf("unexpected error enqueue first: %v", err)
	}
	var overflow error
	for i := 0; i < 3 && overflow == nil; i++ {
		overflow = ax.Send([]byte{2})
	}
	if !errors.Is(overflow, errOverflow) {
		t.Fatalf("expected overflow error, got %v", overflow)
	}
	if drops.Load() == 0 {
		t.Fatalf("expected a drop")
	}
	if ax.Pending() != 1 {
		t.Fatalf("expected 1 pending command, got %d", ax.Pending())
	}
}

func TestAsyncTxRejectsEmptyCommand(t *testing.T) {
	var sent atomic.Int64
	ax := NewAsyncTx(context.Background(), 1, func([]byte) error { sent.Add(1); return nil }, Hooks{})
	defer ax.Close()
	if err := ax.Send(nil); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
	if ax.Pending() != 0 || sent.Load() != 0 {
		t.Fatalf("empty command must not be queued")
	}
}

// TestAsyncTxSendError triggers OnError hook.
func TestAsyncTxSendError(t *testing.T) {
	var errs atomic.Int64
	ax := NewAsyncTx(context.Background(), 2, func([]byte) error { return errSendFail }, Hooks{OnError: func(error) { errs.Add(1) }})
	defer ax.Close()
	_ = ax.Send([]byte{0})
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && errs.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if errs.Load() == 0 {
		t.Fatalf("expected error hook invocation")
	}
}

func TestAsyncTxSendAfterClose(t *testing.T) {
	tx := NewAsyncTx(context.Background(), 2, func([]byte) error { return nil }, Hooks{})
	tx.Close()
	tx.Close()
	if err := tx.Send([]byte{1}); !errors.Is(err, ErrAsyncTxClosed) {
		t.Fatalf("expected ErrAsyncTxClosed, got %v", err)
	}
}

func TestAsyncTxCloseConcurrentSend(t *testing.T) {
	for i := 0; i < 100; i++ {
		ax := NewAsyncTx(context.Background(), 1, func([]byte) error { return nil }, Hooks{})
		done := make(chan error, 1)
		go func() {
			done <- ax.Send([]byte{0})
		}()
		time.Sleep(1 * time.Millisecond)
		ax.Close()
		if err := <-done; err != nil && !errors.Is(err, ErrAsyncTxClosed) {
			t.Fatalf("iteration %d: unexpected send error %v", i, err)
		}
	}
}

type eofPort struct {
	mu    sync.Mutex
	reads []error
}

func (p *eofPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.reads[0]
	p.reads = p.reads[1:]
	return 0, err
}
func (p *eofPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *eofPort) Close() error                { return nil }

func TestIdleOnEOF(t *testing.T) {
	fatal := errors.New("unplugged")
	tr := IdleOnEOF(&eofPort{reads: []error{io.EOF, nil, fatal}})
	buf := make([]byte, 8)
	for i, want := range []error{nil, nil, fatal} {
		n, err := tr.Read(buf)
		if n != 0 || err != want {
			t.Fatalf("read %d: n=%d err=%v want %v", i, n, err, want)
		}
	}
}
