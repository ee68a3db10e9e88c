// Package config holds the client's settings.
package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/omochice/cats-chat/pkg/protocol"
)

// Defaults applied by Default and FillMissingDefaults.
const (
	DefaultNode                = "http://localhost:3000"
	DefaultReconnectDelayMS    = 3000
	DefaultHeartbeatIntervalMS = 10000
	DefaultLogLevel            = "info"

	// ChatPath is the live channel endpoint on the node.
	ChatPath = "/chat/ws"
)

// Config is the client configuration, loadable from a JSON file.
type Config struct {
	// Node is the base URL of the node, e.g. http://radio.local:3000.
	Node                string `json:"node"`
	ReconnectDelayMS    int    `json:"reconnect_delay_ms"`
	HeartbeatIntervalMS int    `json:"heartbeat_interval_ms"`
	LogLevel            string `json:"log_level"`
	// Destination is the default CALL-SSID for chat lines; empty means none.
	Destination string `json:"destination"`
	Notify      bool   `json:"notify"`
}

// Default returns the configuration used when no file or flag says otherwise.
func Default() Config {
	return Config{
		Node:                DefaultNode,
		ReconnectDelayMS:    DefaultReconnectDelayMS,
		HeartbeatIntervalMS: DefaultHeartbeatIntervalMS,
		LogLevel:            DefaultLogLevel,
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	// #nosec G304 -- path comes from the user's own command line.
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, errors.Wrap(err, "read config")
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config json")
	}

	cfg.FillMissingDefaults()
	return cfg, nil
}

// FillMissingDefaults replaces zero or blank fields with their defaults.
func (c *Config) FillMissingDefaults() {
	if strings.TrimSpace(c.Node) == "" {
		c.Node = DefaultNode
	}
	if c.ReconnectDelayMS <= 0 {
		c.ReconnectDelayMS = DefaultReconnectDelayMS
	}
	if c.HeartbeatIntervalMS <= 0 {
		c.HeartbeatIntervalMS = DefaultHeartbeatIntervalMS
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks the node URL, the timings and the default destination.
func (c Config) Validate() error {
	if _, err := c.ChatURL(); err != nil {
		return err
	}
	if c.ReconnectDelayMS <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	if c.HeartbeatIntervalMS <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.Destination != "" {
		if _, err := protocol.ParseDestination(c.Destination); err != nil {
			return errors.Wrap(err, "destination")
		}
	}
	return nil
}

// ReconnectDelay is the wait before reconnecting after a channel error.
func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

// HeartbeatInterval is the period of the keep-alive frame.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// APIBase returns the node's HTTP base URL.
func (c Config) APIBase() (string, error) {
	u, err := c.nodeURL()
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	return u.String(), nil
}

// ChatURL returns <scheme>://<host>/chat/ws for the node, using wss when the
// node is served over https.
func (c Config) ChatURL() (string, error) {
	u, err := c.nodeURL()
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = ChatPath
	return u.String(), nil
}

func (c Config) nodeURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.Node)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse node url")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, errors.Errorf("unsupported node scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("node host is required")
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
