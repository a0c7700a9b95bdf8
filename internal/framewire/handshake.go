package framewire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Hello is exchanged in both directions before any message. The digit
// before the newline is the protocol version.
const Hello = "TACTILEv1\n"

const helloPrefix = "TACTILEv"

var (
	// ErrBadHello means the peer does not speak the frame protocol at all.
	ErrBadHello = errors.New("bad hello")
	// ErrVersionMismatch means the peer speaks another protocol version.
	ErrVersionMismatch = errors.New("protocol version mismatch")
)

// checkHello classifies the peer's greeting.
func checkHello(got string) error {
	switch {
	case got == Hello:
		return nil
	case strings.HasPrefix(got, helloPrefix) && strings.HasSuffix(got, "\n"):
		return fmt.Errorf("%w: peer %q, local %q", ErrVersionMismatch, strings.TrimSpace(got), strings.TrimSpace(Hello))
	default:
		return ErrBadHello
	}
}

// Handshake sends Hello and reads the peer's greeting concurrently, so both
// ends may call it at the same time. The whole exchange is bounded by timeout
// and ctx.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) error {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	defer c.SetDeadline(time.Time{})

	results := make(chan error, 2)
	go func() {
		_, err := io.WriteString(c, Hello)
		if err != nil {
			err = fmt.Errorf("send hello: %w", err)
		}
		results <- err
	}()
	go func() {
		buf := make([]byte, len(Hello))
		if _, err := io.ReadFull(c, buf); err != nil {
			results <- fmt.Errorf("read hello: %w", err)
			return
		}
		results <- checkHello(string(buf))
	}()

	for range 2 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-results:
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		}
	}
	return nil
}
