package server

import (
	"fmt"
	"time"

	"github.com/kstaniek/go-tactile-server/internal/metrics"
	"github.com/kstaniek/go-tactile-server/internal/tactile"
)

// startWriter streams hub frames to one client. Frames are coalesced into a
// single write when batchSize is reached or on the flush tick.
func (s *Server) startWriter(ctxDone <-chan struct{}, sess *session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(sess)
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]tactile.Frame, 0, s.batchSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			n := len(batch)
			_, err := s.Codec.EncodeTo(sess.conn, batch)
			clear(batch)
			batch = batch[:0]
			if err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				s.fail(wrap)
				sess.log.Debug("client_write_error", "error", wrap)
				return false
			}
			metrics.AddTCPTx(n)
			return true
		}
		for {
			select {
			case fr := <-sess.client.Out:
				batch = append(batch, fr)
				if len(batch) >= s.batchSize && !flush() {
					return
				}
			case <-t.C:
				if !flush() {
					return
				}
			case <-sess.client.Closed:
				flush()
				return
			case <-ctxDone:
				flush()
				return
			}
		}
	}()
}
