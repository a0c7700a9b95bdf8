package server

import (
	"errors"

	"github.com/kstaniek/go-tactile-server/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrCommandTx = errors.New("command_tx")
	ErrContext   = errors.New("context_cancelled")
)

var errMetricLabels = []struct {
	err   error
	label string
}{
	{ErrConnRead, metrics.ErrTCPRead},
	{ErrConnWrite, metrics.ErrTCPWrite},
	{ErrHandshake, metrics.ErrHandshake},
	{ErrCommandTx, metrics.ErrTransportWrite},
	{ErrAccept, metrics.ErrTCPRead},
	{ErrListen, metrics.ErrTCPRead},
	{ErrContext, "context"},
}

// mapErrToMetric returns the metrics error label for a wrapped sentinel.
func mapErrToMetric(err error) string {
	for _, m := range errMetricLabels {
		if errors.Is(err, m.err) {
			return m.label
		}
	}
	return "other"
}
