package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/acquisition"
	"github.com/kstaniek/go-tactile-server/internal/framewire"
	"github.com/kstaniek/go-tactile-server/internal/metrics"
)

// maxMessagesPerRead bounds how many messages one DecodeN call handles before
// the reader rechecks cancellation.
const maxMessagesPerRead = 16

// startReader forwards client command messages to the sensor. Frame
// messages from clients are ignored. A read deadline expiry only rechecks
// cancellation; any other read error ends the session.
func (s *Server) startReader(ctxDone <-chan struct{}, sess *session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(sess)
		for {
			_ = sess.conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			count, err := s.Codec.DecodeN(sess.conn, maxMessagesPerRead, func(m framewire.Message) {
				if m.Type != framewire.TypeCommand {
					sess.log.Debug("client_message_ignored", "type", m.Type)
					return
				}
				s.forward(sess, m.Command)
			})
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				s.fail(wrap)
				sess.log.Warn("client_read_error", "error", wrap)
				return
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			case <-sess.client.Closed:
				return
			default:
			}
		}
	}()
}

func (s *Server) forward(sess *session, cmd []byte) {
	if s.readOnly || s.Send == nil {
		s.stats.cmdRejected.Add(1)
		sess.log.Debug("command_rejected", "len", len(cmd), "read_only", s.readOnly)
		return
	}
	metrics.IncTCPRx()
	err := s.Send(cmd)
	switch {
	case err == nil:
		s.stats.cmdForwarded.Add(1)
	case errors.Is(err, acquisition.ErrTxOverflow):
		s.stats.cmdOverflow.Add(1)
		sess.log.Debug("command_overflow_drop", "len", len(cmd))
	case errors.Is(err, acquisition.ErrNotConnected):
		s.stats.cmdRejected.Add(1)
		sess.log.Debug("command_rejected", "len", len(cmd), "error", err)
	default:
		wrap := fmt.Errorf("%w: %v", ErrCommandTx, err)
		s.fail(wrap)
		s.stats.cmdErrors.Add(1)
		sess.log.Error("command_tx_error", "error", wrap, "len", len(cmd))
	}
}
