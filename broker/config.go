package broker

import (
	"os"
	"time"
)

// Config holds everything needed to dial the broker. Fields set explicitly
// take priority over environment variables, which take priority over the
// package defaults — the same priority chain cellorg's StandardConfigResolver
// uses for file resolution, applied here to a handful of connection settings
// instead of a config file path.
type Config struct {
	// ServiceName identifies this process to the broker (connection name).
	// It is not applied to envelopes; each envelope carries its own Source.
	ServiceName string

	// URL is the broker's NATS URL. Resolved from NATS_URL if empty,
	// defaulting to nats://localhost:4222.
	URL string

	// Username/Password are optional. Both must be set for auth to be
	// attempted; resolved from NATS_USERNAME/NATS_PASSWORD if empty.
	Username string
	Password string

	// ReconnectWait mirrors the reference client's reconnect_time_wait=2s.
	ReconnectWait time.Duration

	// MaxReconnects mirrors the reference client's max_reconnect_attempts=10.
	// A nil value is "unset" and resolves to the package default; to
	// explicitly request nats.go's "never reconnect" behaviour, set this to
	// a pointer to 0 (e.g. via NeverReconnect) rather than leaving it zero.
	MaxReconnects *int

	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration
}

const (
	defaultURL            = "nats://localhost:4222"
	defaultReconnectWait  = 2 * time.Second
	defaultMaxReconnects  = 10
	defaultConnectTimeout = 5 * time.Second
)

// NeverReconnect is the explicit MaxReconnects value for "do not attempt
// reconnection" — nats.go's own meaning for MaxReconnects(0). Distinct from
// leaving MaxReconnects nil, which means "use the package default" instead.
func NeverReconnect() *int {
	n := 0
	return &n
}

// Resolve fills unset fields from environment variables and then package
// defaults, returning a new Config. It does not mutate the receiver.
func (c Config) Resolve() Config {
	out := c
	if out.URL == "" {
		out.URL = envOr("NATS_URL", defaultURL)
	}
	if out.Username == "" {
		out.Username = os.Getenv("NATS_USERNAME")
	}
	if out.Password == "" {
		out.Password = os.Getenv("NATS_PASSWORD")
	}
	if out.ReconnectWait == 0 {
		out.ReconnectWait = defaultReconnectWait
	}
	if out.MaxReconnects == nil {
		n := defaultMaxReconnects
		out.MaxReconnects = &n
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = defaultConnectTimeout
	}
	return out
}

// hasAuth reports whether both username and password are present — auth is
// all-or-nothing, matching the reference client's "only add auth if both
// credentials provided" behavior.
func (c Config) hasAuth() bool {
	return c.Username != "" && c.Password != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
