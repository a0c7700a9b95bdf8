package tactile

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/logging"
	"github.com/kstaniek/go-tactile-server/internal/metrics"
)

const warnInterval = time.Second

// Stats counts what a Decoder has seen since construction or the last Reset.
type Stats struct {
	Packages       uint64
	Frames         uint64
	ChecksumErrors uint64
	Gaps           uint64
	Skipped        uint64
	SlidBytes      uint64
}

// Decoder turns an arbitrarily chunked byte stream into finished frames.
// It is not safe for concurrent use; one producer goroutine owns it.
type Decoder struct {
	shape   Shape
	acc     bytes.Buffer
	seq     *Sequencer
	scanner *Scanner
	asm     *Assembler
	now     func() time.Time
	logger  *slog.Logger
	warn    *logging.Throttled
	frames  uint64
	stats   Stats
	out     []Frame
}

// DecoderOption customizes a Decoder.
type DecoderOption func(*Decoder)

// WithClock overrides the timestamp source for finished frames.
func WithClock(now func() time.Time) DecoderOption {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger for throttled corruption warnings.
func WithLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDecoder validates shape and returns a Decoder in the unlocked state.
func NewDecoder(shape Shape, opts ...DecoderOption) (*Decoder, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	shape = shape.Clone()
	d := &Decoder{
		shape:  shape,
		seq:    NewSequencer(shape.Rows),
		asm:    NewAssembler(shape),
		now:    time.Now,
		logger: logging.L(),
	}
	d.scanner = NewScanner(shape, d.seq)
	for _, o := range opts {
		o(d)
	}
	d.warn = logging.NewThrottled(d.logger, warnInterval)
	return d, nil
}

// Shape returns the decoder's geometry.
func (d *Decoder) Shape() Shape { return d.shape.Clone() }

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() Stats { return d.stats }

// Buffered returns the number of bytes held back awaiting more input.
func (d *Decoder) Buffered() int { return d.acc.Len() }

// Reset discards buffered bytes, the partial frame and the sequence lock.
func (d *Decoder) Reset() {
	d.acc.Reset()
	d.seq.Reset()
	d.asm.Abort()
	d.stats = Stats{}
}

// Push appends p to the stream and returns every frame finished by it, in
// completion order. Corruption is absorbed: bad candidates are slid over and
// counted, and sequence breaks discard the partial frame.
func (d *Decoder) Push(p []byte) []Frame {
	if len(p) > 0 {
		d.acc.Write(p)
	}
	d.out = nil
	slid := d.scanner.Scan(&d.acc, d.handle)
	d.stats.SlidBytes += uint64(slid)
	out := d.out
	d.out = nil
	return out
}

func (d *Decoder) handle(ev Event) {
	switch ev.Kind {
	case EventChecksum:
		d.stats.ChecksumErrors++
		metrics.IncMalformed()
		d.warn.Warn("decoder_checksum_mismatch",
			"declared", fmt.Sprintf("0x%04X", ev.Declared),
			"computed", fmt.Sprintf("0x%04X", ev.Computed))
	case EventGap:
		d.stats.Gaps++
		metrics.IncSequenceGap()
		d.asm.Abort()
		d.warn.Warn("decoder_sequence_gap",
			"frame_id", ev.Package.FrameID, "package_id", ev.Package.PackageID,
			"last_frame_id", ev.LastFrame, "last_package_id", ev.LastPackage)
	case EventSkip:
		d.stats.Skipped++
		metrics.IncSkipped()
	case EventPackage:
		d.stats.Packages++
		metrics.IncPackage()
		pid := ev.Package.PackageID
		d.asm.Write(pid, ev.Package.Payload)
		if d.asm.IsComplete(pid) {
			d.finish(ev.Package.FrameID)
		}
	}
}

func (d *Decoder) finish(frameID uint8) {
	d.frames++
	d.stats.Frames++
	metrics.IncFrame()
	d.out = append(d.out, Frame{
		Planes:    d.asm.TakeFinished(),
		Timestamp: d.now(),
		FrameID:   frameID,
		Seq:       d.frames,
		Rows:      d.shape.Rows,
		Cols:      d.shape.Cols,
	})
}
