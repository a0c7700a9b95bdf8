package tactile

// Package is one parsed wire package. Payload aliases the scanner's
// accumulator and is only valid for the duration of the event callback.
type Package struct {
	FrameID   uint8
	PackageID uint8
	Payload   []byte
	Checksum  uint16
}
