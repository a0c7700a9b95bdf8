package tactile

import "bytes"

// EventKind classifies what the scanner found at a cursor position.
type EventKind int

const (
	// EventPackage carries a package accepted by the Sequencer.
	EventPackage EventKind = iota
	// EventChecksum reports a candidate whose CRC did not match.
	EventChecksum
	// EventGap reports a sequence discontinuity; the partial frame is lost.
	EventGap
	// EventSkip reports a valid package dropped while waiting for package 0.
	EventSkip
)

// Event is emitted by Scanner.Scan in stream order.
type Event struct {
	Kind    EventKind
	Verdict Verdict // EventPackage: Accept or StartFrame
	Package Package
	Offset  int // candidate start within the scanned window

	// EventChecksum
	Declared, Computed uint16

	// EventGap: the baseline that was broken.
	LastFrame, LastPackage uint8
}

// Scanner finds packages in an accumulating byte stream and gates them
// through the checksum and the Sequencer.
type Scanner struct {
	shape Shape
	size  int
	seq   *Sequencer
}

// NewScanner returns a Scanner for shape reporting to seq.
func NewScanner(shape Shape, seq *Sequencer) *Scanner {
	return &Scanner{shape: shape, size: shape.PackageSize(), seq: seq}
}

// Scan walks acc from the start, invoking fn for every checksum failure and
// every structurally valid package, then drops the consumed prefix. The
// unconsumed tail (at most one partial package plus bytes that could not yet
// be ruled out) stays in acc for the next call. It returns the number of
// bytes discarded by single-byte resync slides.
//
// A candidate needs a marker at its first byte and at the byte following it.
// When acc ends exactly at the candidate's end the second marker is not
// required yet and the CRC alone decides. Junk between two packages can
// therefore reject the earlier one when both arrive in one read and accept it
// when the read ends right after it.
func (s *Scanner) Scan(acc *bytes.Buffer, fn func(Event)) (slid int) {
	data := acc.Bytes()
	size := s.size
	off := 0
	for len(data)-off >= size {
		if data[off] != Marker || (len(data)-off > size && data[off+size] != Marker) {
			off++
			slid++
			continue
		}
		pkt := data[off : off+size]
		declared := uint16(pkt[size-2])<<8 | uint16(pkt[size-1])
		computed := Checksum(pkt[:size-CRCLen])
		if computed != declared {
			fn(Event{Kind: EventChecksum, Offset: off, Declared: declared, Computed: computed})
			off++
			slid++
			continue
		}
		p := Package{
			FrameID:   pkt[frameIDOff],
			PackageID: pkt[pkgIDOff],
			Payload:   pkt[HeaderLen : size-CRCLen],
			Checksum:  declared,
		}
		lastFrame, lastPkg, _ := s.seq.Last()
		switch v := s.seq.Check(p.FrameID, p.PackageID); v {
		case Accept, StartFrame:
			fn(Event{Kind: EventPackage, Verdict: v, Package: p, Offset: off})
		case Restart:
			fn(Event{Kind: EventGap, Package: p, Offset: off, LastFrame: lastFrame, LastPackage: lastPkg})
			fn(Event{Kind: EventPackage, Verdict: StartFrame, Package: p, Offset: off})
		case Gap:
			fn(Event{Kind: EventGap, Package: p, Offset: off, LastFrame: lastFrame, LastPackage: lastPkg})
		case Skip:
			fn(Event{Kind: EventSkip, Package: p, Offset: off})
		}
		off += size
	}
	acc.Next(off)
	reclaim(acc)
	return slid
}

// reclaim copies the unread tail into a fresh backing array when a burst of
// noise left a large, mostly consumed buffer behind.
func reclaim(b *bytes.Buffer) bool {
	data := b.Bytes()
	if cap(data) < reclaimMinCap || len(data)*4 >= cap(data) {
		return false
	}
	tail := make([]byte, len(data))
	copy(tail, data)
	*b = *bytes.NewBuffer(tail)
	return true
}

const reclaimMinCap = 16 * 1024
