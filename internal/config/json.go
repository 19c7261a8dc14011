package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ddezhin/partykit/internal/flagx"
	"github.com/ddezhin/partykit/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so intervals can be given either as strings like "5s" or as
// integer nanoseconds. Absent keys keep the values of earlier layers.
type JsonConfig struct {
	BackendURL        string         `json:"backend_url"`
	PresenceURL       string         `json:"presence_url"`
	QueueURL          string         `json:"queue_url"`
	ClientID          string         `json:"client_id"`
	ClientSecret      string         `json:"client_secret"`
	CredentialsPath   string         `json:"credentials_path"`
	ReconnectAttempts int            `json:"reconnect_attempts"`
	ReconnectDelay    timex.Duration `json:"reconnect_delay"`
	WaitTimeout       timex.Duration `json:"wait_timeout"`
	AutoConfirm       *bool          `json:"auto_confirm"`
}

// parseJson overlays cfg with values loaded from a JSON file. The file path
// comes from the -c or -config flags; no flag means no JSON layer. Read or
// unmarshal errors panic, matching parseFlags.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.BackendURL != "" {
		cfg.BackendURL = jc.BackendURL
	}
	if jc.PresenceURL != "" {
		cfg.PresenceURL = jc.PresenceURL
	}
	if jc.QueueURL != "" {
		cfg.QueueURL = jc.QueueURL
	}
	if jc.ClientID != "" {
		cfg.ClientID = jc.ClientID
	}
	if jc.ClientSecret != "" {
		cfg.ClientSecret = jc.ClientSecret
	}
	if jc.CredentialsPath != "" {
		cfg.CredentialsPath = jc.CredentialsPath
	}
	if jc.ReconnectAttempts != 0 {
		cfg.ReconnectAttempts = jc.ReconnectAttempts
	}
	if jc.ReconnectDelay.Duration != 0 {
		cfg.ReconnectDelay = time.Duration(jc.ReconnectDelay.Duration)
	}
	if jc.WaitTimeout.Duration != 0 {
		cfg.WaitTimeout = time.Duration(jc.WaitTimeout.Duration)
	}
	if jc.AutoConfirm != nil {
		cfg.AutoConfirm = *jc.AutoConfirm
	}
}
