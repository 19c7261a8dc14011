package config

import (
	"flag"
	"os"
	"time"

	"github.com/ddezhin/partykit/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the REST backend
//	-p string   websocket URL of the presence channel
//	-q string   websocket URL of the matchmaking queue channel
//	-d string   path to the sealed credentials database
//	-r int      websocket reconnect attempts after a drop
//	-i int      reconnect delay in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-p", "-q", "-d", "-r", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.BackendURL, "a", cfg.BackendURL, "base URL of the backend")
	fs.StringVar(&cfg.PresenceURL, "p", cfg.PresenceURL, "websocket URL of the presence channel")
	fs.StringVar(&cfg.QueueURL, "q", cfg.QueueURL, "websocket URL of the queue channel")
	fs.StringVar(&cfg.CredentialsPath, "d", cfg.CredentialsPath, "path to the credentials database")
	fs.IntVar(&cfg.ReconnectAttempts, "r", cfg.ReconnectAttempts, "websocket reconnect attempts")
	reconnectDelay := fs.Int("i", int(cfg.ReconnectDelay.Seconds()), "reconnect delay (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.ReconnectDelay = time.Duration(*reconnectDelay) * time.Second
}
