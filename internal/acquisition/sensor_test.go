package acquisition

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/tactile"
)

var errUnplugged = errors.New("device unplugged")

var shape = tactile.Shape{Rows: 4, Cols: 3, BytesPerPoint: 1}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeTransport hands out queued chunks, returns (0, nil) when idle and
// unblocks with io.ErrClosedPipe once closed.
type fakeTransport struct {
	chunks  chan []byte
	errs    chan error
	closed  chan struct{}
	once    sync.Once
	pending []byte

	mu      sync.Mutex
	written [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		chunks: make(chan []byte, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if len(f.pending) == 0 {
		select {
		case c := <-f.chunks:
			f.pending = c
		case err := <-f.errs:
			return 0, err
		case <-f.closed:
			return 0, io.ErrClosedPipe
		case <-time.After(5 * time.Millisecond):
			return 0, nil
		}
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

// encodeFrames returns the wire stream for n frames and their planes.
func encodeFrames(t *testing.T, n int) ([]byte, [][]byte) {
	t.Helper()
	enc, err := tactile.NewEncoder(shape, 0x01)
	if err != nil {
		t.Fatal(err)
	}
	var stream []byte
	var planes [][]byte
	for i := 0; i < n; i++ {
		p := make([]byte, shape.Rows*shape.Cols)
		for j := range p {
			p[j] = byte(i*16 + j)
		}
		stream, err = enc.AppendFrame(stream, uint8(i), [][]byte{p})
		if err != nil {
			t.Fatal(err)
		}
		planes = append(planes, p)
	}
	return stream, planes
}

func collect(t *testing.T, s *Sensor, n int) []tactile.Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	var out []tactile.Frame
	for len(out) < n {
		f, ok, err := s.Get()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			out = append(out, f)
			continue
		}
		select {
		case <-s.Notify():
		case <-deadline:
			t.Fatalf("timeout: got %d of %d frames", len(out), n)
		}
	}
	return out
}

func newSensor(t *testing.T, opts ...Option) *Sensor {
	t.Helper()
	s, err := NewSensor(shape, append([]Option{WithLogger(quiet()), WithReadSize(7)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSensorDeliversFrames(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newSensor(t, WithClock(func() time.Time { return ts }))
	tr := newFakeTransport()
	if err := s.Connect(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	defer s.Disconnect()

	stream, want := encodeFrames(t, 3)
	for len(stream) > 0 {
		n := min(11, len(stream))
		tr.chunks <- stream[:n]
		stream = stream[n:]
	}
	got := collect(t, s, 3)
	for i, f := range got {
		if f.FrameID != uint8(i) || !bytes.Equal(f.Planes[0], want[i]) {
			t.Fatalf("frame %d: id=%d planes=% X want % X", i, f.FrameID, f.Planes[0], want[i])
		}
		if !f.Timestamp.Equal(ts) {
			t.Fatalf("frame %d timestamp %v", i, f.Timestamp)
		}
	}
}

func TestSensorTransportErrorLatched(t *testing.T) {
	s := newSensor(t)
	tr := newFakeTransport()
	if err := s.Connect(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	stream, _ := encodeFrames(t, 2)
	tr.chunks <- stream
	done := s.Done()
	// Let the frames drain before the error so ordering is deterministic.
	deadline := time.Now().Add(2 * time.Second)
	for s.Queue().Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	tr.errs <- errUnplugged
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on transport error")
	}

	_, ok, err := s.Get()
	if ok || !errors.Is(err, ErrTransport) || !errors.Is(err, errUnplugged) {
		t.Fatalf("expected latched transport error first, got ok=%v err=%v", ok, err)
	}
	f, ok, err := s.GetLast()
	if err != nil || !ok || f.FrameID != 1 {
		t.Fatalf("expected last frame after error, got ok=%v err=%v id=%d", ok, err, f.FrameID)
	}
	if _, ok, err := s.Get(); ok || err != nil {
		t.Fatalf("expected empty queue, got ok=%v err=%v", ok, err)
	}
	if !s.Connected() {
		t.Fatal("sensor stays connected until Disconnect")
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if !tr.isClosed() {
		t.Fatal("transport not closed")
	}
}

func TestSensorConnectLifecycle(t *testing.T) {
	s := newSensor(t)
	if err := s.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Send([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected on send, got %v", err)
	}
	tr1 := newFakeTransport()
	if err := s.Connect(context.Background(), tr1); err != nil {
		t.Fatal(err)
	}
	first := s.Session()
	if first == "" {
		t.Fatal("empty session id")
	}
	if err := s.Connect(context.Background(), newFakeTransport()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
	done := s.Done()
	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	default:
		t.Fatal("loop still running after Disconnect")
	}
	if s.Session() != "" || s.Done() != nil {
		t.Fatal("state not cleared after Disconnect")
	}

	tr2 := newFakeTransport()
	if err := s.Connect(context.Background(), tr2); err != nil {
		t.Fatal(err)
	}
	defer s.Disconnect()
	if s.Session() == first {
		t.Fatal("session id reused across connections")
	}
	stream, _ := encodeFrames(t, 1)
	tr2.chunks <- stream
	if got := collect(t, s, 1); got[0].FrameID != 0 {
		t.Fatalf("unexpected frame %+v", got[0])
	}
}

func TestSensorSendCommand(t *testing.T) {
	s := newSensor(t)
	tr := newFakeTransport()
	if err := s.Connect(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	defer s.Disconnect()
	if err := s.Send([]byte{0x55, 0x01}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for len(tr.writes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	w := tr.writes()
	if len(w) != 1 || !bytes.Equal(w[0], []byte{0x55, 0x01}) {
		t.Fatalf("writes = %v", w)
	}
}

func TestSensorContextCancelStopsLoop(t *testing.T) {
	s := newSensor(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Connect(ctx, newFakeTransport()); err != nil {
		t.Fatal(err)
	}
	done := s.Done()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop ignored cancellation")
	}
	if _, _, err := s.Get(); err != nil {
		t.Fatalf("cancellation must not latch an error, got %v", err)
	}
	_ = s.Disconnect()
}

func TestNewSensorInvalidShape(t *testing.T) {
	if _, err := NewSensor(tactile.Shape{Rows: 0, Cols: 1, BytesPerPoint: 1}); !errors.Is(err, tactile.ErrInvalidShape) {
		t.Fatalf("expected ErrInvalidShape, got %v", err)
	}
}

func TestLoopStartOnce(t *testing.T) {
	dec, err := tactile.NewDecoder(shape, tactile.WithLogger(quiet()))
	if err != nil {
		t.Fatal(err)
	}
	s := newSensor(t)
	l := NewLoop(newFakeTransport(), dec, s.Queue(), 0, quiet())
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !l.Running() {
		t.Fatal("expected running")
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrLoopStarted) {
		t.Fatalf("expected ErrLoopStarted, got %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}
	if l.Running() {
		t.Fatal("expected stopped")
	}
}
