package server

import (
	"context"
	"net"

	"github.com/kstaniek/go-tactile-server/internal/framewire"
)

// Handshake runs the required TCP hello exchange.
func (s *Server) Handshake(ctx context.Context, c net.Conn) error {
	return framewire.Handshake(ctx, c, s.handshakeTimeout)
}
