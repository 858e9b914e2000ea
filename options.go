package xge

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger dispatch diagnostics go to. The default is
// derived from display.Logger and honors display.PrintLog.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = &l }
}

// WithDiagnostics limits how often an unknown extension is reported: the
// first 'first' reports always go out, after that at most one per
// interval. The default is 10 and one second. A first of 0 or less
// reports every one.
func WithDiagnostics(first int, interval time.Duration) Option {
	return func(r *Registry) {
		if first <= 0 {
			r.diag = nil
			return
		}
		r.diag = &rate.Sometimes{First: first, Interval: interval}
	}
}
