package tactile

// Verdict is the Sequencer's decision for one structurally valid package.
type Verdict int

const (
	// Accept continues the frame being assembled.
	Accept Verdict = iota
	// StartFrame begins a new frame at package 0.
	StartFrame
	// Restart is package 0 arriving before the previous frame finished: the
	// partial frame is discarded and a new one starts with this package.
	Restart
	// Gap breaks the lock; the partial frame must be discarded.
	Gap
	// Skip drops a package seen while unlocked.
	Skip
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case StartFrame:
		return "start_frame"
	case Restart:
		return "restart"
	case Gap:
		return "gap"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Sequencer enforces strict package ordering within a frame. Packages are
// never retransmitted, so after any discontinuity the only way back is the
// next package 0.
type Sequencer struct {
	rows        int
	locked      bool
	lastFrame   uint8
	lastPackage uint8
}

// NewSequencer returns an unlocked Sequencer for frames of rows packages.
func NewSequencer(rows int) *Sequencer { return &Sequencer{rows: rows} }

// Locked reports whether a (frame, package) baseline is held.
func (s *Sequencer) Locked() bool { return s.locked }

// Last returns the last accepted frame and package id. ok is false when unlocked.
func (s *Sequencer) Last() (frameID, packageID uint8, ok bool) {
	return s.lastFrame, s.lastPackage, s.locked
}

// Reset drops the lock; the next accepted package must be package 0.
func (s *Sequencer) Reset() {
	s.locked = false
	s.lastFrame, s.lastPackage = 0, 0
}

// Check classifies a package and updates the sequence state.
func (s *Sequencer) Check(frameID, packageID uint8) Verdict {
	if !s.locked {
		if packageID != 0 {
			return Skip
		}
		s.lock(frameID, 0)
		return StartFrame
	}
	if packageID == 0 {
		complete := int(s.lastPackage) == s.rows-1
		s.lock(frameID, 0)
		if !complete {
			return Restart
		}
		return StartFrame
	}
	if packageID != s.lastPackage+1 || frameID != s.lastFrame || int(packageID) >= s.rows {
		s.Reset()
		return Gap
	}
	s.lastPackage = packageID
	return Accept
}

func (s *Sequencer) lock(frameID, packageID uint8) {
	s.locked = true
	s.lastFrame, s.lastPackage = frameID, packageID
}
