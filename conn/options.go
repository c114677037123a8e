package conn

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Option configures a Connection at construction time: a small func(*config)
// value composed by Connect, following the functional-options pattern
// (Atsika-aznet/options.go).
type Option func(*config)

type config struct {
	logger        *logrus.Logger
	authenticator Authenticator
	helloTimeout  time.Duration
}

func defaultConfig() *config {
	return &config{
		logger:       logrus.StandardLogger(),
		helloTimeout: 5 * time.Second,
	}
}

func applyOptions(opts []Option) *config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithLogger injects the *logrus.Logger a Connection reports
// dispatch-loop errors, transport failures, and connection lifecycle
// events to, in place of logrus.StandardLogger().
func WithLogger(logger *logrus.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAuthenticator selects the SASL mechanism Connect authenticates
// with, in place of the default AuthExternal.
func WithAuthenticator(mech Authenticator) Option {
	return func(c *config) {
		if mech != nil {
			c.authenticator = mech
		}
	}
}

// WithHelloTimeout bounds how long Connect waits for the bus daemon's
// Hello reply during the handshake.
func WithHelloTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.helloTimeout = d
		}
	}
}
