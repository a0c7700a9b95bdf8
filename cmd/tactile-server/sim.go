package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/tactile"
)

// simIdle bounds a single simulated read so cancellation is observed.
const simIdle = 50 * time.Millisecond

func simInterval(rate float64) (time.Duration, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, fmt.Errorf("invalid sim rate %v", rate)
	}
	return time.Duration(float64(time.Second) / rate), nil
}

// simTransport produces wire packages for a pressure blob circling the
// sensor surface. Commands written to it are counted and discarded.
type simTransport struct {
	enc      *tactile.Encoder
	shape    tactile.Shape
	interval time.Duration
	next     time.Time
	frameID  uint8
	tick     uint64
	pending  []byte
	planes   [][]byte

	commands  atomic.Uint64
	closed    chan struct{}
	closeOnce sync.Once
}

func newSimTransport(shape tactile.Shape, interval time.Duration) (*simTransport, error) {
	enc, err := tactile.NewEncoder(shape, 0x01)
	if err != nil {
		return nil, err
	}
	planes := make([][]byte, shape.BytesPerPoint)
	for i := range planes {
		planes[i] = make([]byte, shape.Points())
	}
	return &simTransport{
		enc:      enc,
		shape:    shape,
		interval: interval,
		next:     time.Now(),
		planes:   planes,
		closed:   make(chan struct{}),
	}, nil
}

func (s *simTransport) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		if wait := time.Until(s.next); wait > 0 {
			t := time.NewTimer(min(wait, simIdle))
			select {
			case <-s.closed:
				t.Stop()
				return 0, io.ErrClosedPipe
			case <-t.C:
			}
			if time.Now().Before(s.next) {
				return 0, nil
			}
		}
		select {
		case <-s.closed:
			return 0, io.ErrClosedPipe
		default:
		}
		s.render()
		var err error
		if s.pending, err = s.enc.AppendFrame(s.pending[:0], s.frameID, s.planes); err != nil {
			return 0, err
		}
		s.frameID++
		s.tick++
		s.next = s.next.Add(s.interval)
		if behind := time.Since(s.next); behind > 10*s.interval {
			s.next = time.Now() // resync after a stall
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// render fills planes with a Gaussian blob; values span the full point width.
func (s *simTransport) render() {
	rows, cols := float64(s.shape.Rows), float64(s.shape.Cols)
	phase := float64(s.tick) * 0.1
	cr := (rows - 1) * (0.5 + 0.35*math.Sin(phase))
	cc := (cols - 1) * (0.5 + 0.35*math.Cos(phase))
	sigma := math.Max(1, math.Min(rows, cols)/4)
	peak := float64(uint(1)<<(8*s.shape.BytesPerPoint) - 1)
	for r := 0; r < s.shape.Rows; r++ {
		for c := 0; c < s.shape.Cols; c++ {
			dr, dc := float64(r)-cr, float64(c)-cc
			v := uint16(peak * math.Exp(-(dr*dr+dc*dc)/(2*sigma*sigma)))
			i := r*s.shape.Cols + c
			if s.shape.BytesPerPoint == 2 {
				s.planes[0][i] = byte(v >> 8)
				s.planes[1][i] = byte(v)
			} else {
				s.planes[0][i] = byte(v)
			}
		}
	}
}

func (s *simTransport) Write(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, errSimClosed
	default:
	}
	s.commands.Add(1)
	return len(p), nil
}

var errSimClosed = errors.New("sim transport closed")

func (s *simTransport) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
