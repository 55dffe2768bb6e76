package pool

import (
	"log/slog"
	"time"

	"github.com/loykin/mcpgate/internal/history"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	defaultRetryDelay     = time.Second
	defaultMaxCrashes     = 3
	defaultCrashWindow    = 60 * time.Second
	defaultGracePeriod    = 5 * time.Second
	defaultStartupProbe   = 200 * time.Millisecond
)

// Options tunes pool behavior. The zero value is usable; every field has a
// sensible default applied by New.
type Options struct {
	// RequestTimeout bounds how long a dispatched request waits for its
	// correlated response.
	RequestTimeout time.Duration
	// MaxRetries is how many times a request is re-dispatched after a
	// retryable failure (timeout, process death mid-flight).
	MaxRetries int
	// RetryDelay is the pause before each retry attempt.
	RetryDelay time.Duration
	// MaxCrashes within CrashWindow trips the crash-loop breaker: further
	// spawn attempts are refused until the window passes.
	MaxCrashes  int
	CrashWindow time.Duration
	// GracePeriod is how long Terminate waits after SIGTERM before
	// escalating to SIGKILL.
	GracePeriod time.Duration
	// StartupProbe is how long spawn watches a fresh process for an
	// immediate exit before handing it out.
	StartupProbe time.Duration

	// ClientName and ClientVersion are reported in the initialize handshake.
	ClientName    string
	ClientVersion string

	Logger *slog.Logger
	// Sinks receive lifecycle events (spawn, crash, terminate). Delivery is
	// best effort and never blocks pool operations.
	Sinks []history.Sink
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.MaxCrashes <= 0 {
		o.MaxCrashes = defaultMaxCrashes
	}
	if o.CrashWindow <= 0 {
		o.CrashWindow = defaultCrashWindow
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = defaultGracePeriod
	}
	if o.StartupProbe <= 0 {
		o.StartupProbe = defaultStartupProbe
	}
	if o.ClientName == "" {
		o.ClientName = "mcpgate"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "dev"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
