package transport

import (
	"errors"
	"io"
	"os"
)

// Transport is a raw byte link to a sensor (USB bulk, CAN, UART). Read
// returns 1..len(p) bytes, or (0, nil) when the adapter's read timeout
// expired without data; any error is terminal for the link. Write sends a
// control command.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// IdleOnEOF adapts a port whose read timeout surfaces as io.EOF (an
// *os.File in VMIN=0/VTIME mode) to the Transport contract.
func IdleOnEOF(t Transport) Transport { return idleEOF{t} }

type idleEOF struct{ Transport }

func (p idleEOF) Read(b []byte) (int, error) {
	n, err := p.Transport.Read(b)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}
