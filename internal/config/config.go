// Package config assembles the CLI's runtime settings from three layered
// sources: built-in defaults, an optional JSON file, and command-line flags.
// Later sources take precedence over earlier ones.
package config

import "time"

// Config holds runtime settings for the partykit CLI.
//
// Units: durations are time.Duration values; the JSON layer accepts strings
// like "5s" as well as integer nanoseconds.
type Config struct {
	// BackendURL is the base URL of the REST backend.
	BackendURL string
	// PresenceURL and QueueURL are the websocket endpoints of the two push
	// channels.
	PresenceURL string
	QueueURL    string

	// ClientID and ClientSecret authenticate the client itself on token
	// grants.
	ClientID     string
	ClientSecret string

	// CredentialsPath is the sqlite file holding sealed device credentials.
	CredentialsPath string

	// ReconnectAttempts bounds websocket reconnects after a drop;
	// ReconnectDelay is the pause between attempts.
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// WaitTimeout bounds event waiters; an elapsed wait reads as not-found.
	WaitTimeout time.Duration

	// AutoConfirm admits join requests without asking.
	AutoConfirm bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.BackendURL = "http://127.0.0.1:8080"
	c.PresenceURL = "ws://127.0.0.1:8081/presence"
	c.QueueURL = "ws://127.0.0.1:8081/queue"
	c.ClientID = "partykit-cli"
	c.CredentialsPath = "partykit.db"
	c.ReconnectAttempts = 6
	c.ReconnectDelay = 5 * time.Second
	c.WaitTimeout = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
