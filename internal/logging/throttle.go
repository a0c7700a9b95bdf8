package logging

import (
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttled emits at most one warning per interval and reports how many
// were suppressed in between. Hot paths (per-byte resync, per-package
// sequence errors) log through it so a noisy link cannot flood the output.
type Throttled struct {
	l          *slog.Logger
	sometimes  rate.Sometimes
	suppressed atomic.Uint64
}

// NewThrottled wraps l. A nil l resolves to the global logger at call time.
func NewThrottled(l *slog.Logger, every time.Duration) *Throttled {
	return &Throttled{l: l, sometimes: rate.Sometimes{First: 1, Interval: every}}
}

// Warn logs msg unless another warning was logged within the interval.
func (t *Throttled) Warn(msg string, args ...any) {
	logged := false
	t.sometimes.Do(func() {
		logged = true
		l := t.l
		if l == nil {
			l = L()
		}
		if n := t.suppressed.Swap(0); n > 0 {
			args = append(args, "suppressed", n)
		}
		l.Warn(msg, args...)
	})
	if !logged {
		t.suppressed.Add(1)
	}
}
