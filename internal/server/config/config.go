package config

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/OCharnyshevich/mcproto-server/internal/server/auth"
)

// Duration is a time.Duration that reads and writes as "250ms", "30s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("duration must be a string or nanoseconds: %s", data)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds the server configuration.
type Config struct {
	Port         int    `json:"port"`
	OnlineMode   bool   `json:"online_mode"`
	MOTD         string `json:"motd"`
	MaxPlayers   int    `json:"max_players"`
	ViewDistance int    `json:"view_distance"`

	// CompressionThreshold is the smallest payload that gets compressed.
	// Negative disables compression.
	CompressionThreshold int  `json:"compression_threshold"`
	AcceptTransfers      bool `json:"accept_transfers"`

	// Admission limits per remote address. Zero disables either one.
	RateLimit        Duration `json:"rate_limit"`
	MaxAccountsPerIP int      `json:"max_accounts_per_ip"`
	ReadTimeout      Duration `json:"read_timeout"`

	SessionServerURL string `json:"session_server_url"`
	AuthRetries      int    `json:"auth_retries"`

	FaviconSource string `json:"favicon_source"`
	DataDir       string `json:"data_dir"`
	MetricsAddr   string `json:"metrics_addr"`

	MailboxWorkers int `json:"mailbox_workers"`
	MailboxDepth   int `json:"mailbox_depth"`

	// RSA keypair for the encryption handshake, generated at startup.
	PrivateKey   *rsa.PrivateKey `json:"-"`
	PublicKeyDER []byte          `json:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:                 25565,
		OnlineMode:           true,
		MOTD:                 "A Minecraft Server",
		MaxPlayers:           20,
		ViewDistance:         10,
		CompressionThreshold: 256,
		RateLimit:            Duration(4 * time.Second),
		MaxAccountsPerIP:     3,
		ReadTimeout:          Duration(30 * time.Second),
		SessionServerURL:     auth.DefaultSessionURL,
		AuthRetries:          3,
		DataDir:              "data",
		MailboxWorkers:       4,
		MailboxDepth:         256,
	}
}

// Merge applies file-loaded config values into cfg, but only for fields
// that were NOT explicitly set via CLI flags. explicitFlags contains the
// flag names that were explicitly provided on the command line.
func Merge(cfg *Config, fromFile *Config, explicitFlags map[string]bool) {
	if !explicitFlags["port"] {
		cfg.Port = fromFile.Port
	}
	if !explicitFlags["online-mode"] {
		cfg.OnlineMode = fromFile.OnlineMode
	}
	if !explicitFlags["motd"] {
		cfg.MOTD = fromFile.MOTD
	}
	if !explicitFlags["max-players"] {
		cfg.MaxPlayers = fromFile.MaxPlayers
	}
	if !explicitFlags["view-distance"] {
		cfg.ViewDistance = fromFile.ViewDistance
	}
	if !explicitFlags["compression-threshold"] {
		cfg.CompressionThreshold = fromFile.CompressionThreshold
	}
	if !explicitFlags["accept-transfers"] {
		cfg.AcceptTransfers = fromFile.AcceptTransfers
	}
	if !explicitFlags["rate-limit"] {
		cfg.RateLimit = fromFile.RateLimit
	}
	if !explicitFlags["max-accounts"] {
		cfg.MaxAccountsPerIP = fromFile.MaxAccountsPerIP
	}
	if !explicitFlags["read-timeout"] {
		cfg.ReadTimeout = fromFile.ReadTimeout
	}
	if !explicitFlags["session-server"] {
		cfg.SessionServerURL = fromFile.SessionServerURL
	}
	if !explicitFlags["auth-retries"] {
		cfg.AuthRetries = fromFile.AuthRetries
	}
	if !explicitFlags["favicon"] {
		cfg.FaviconSource = fromFile.FaviconSource
	}
	if !explicitFlags["data-dir"] {
		cfg.DataDir = fromFile.DataDir
	}
	if !explicitFlags["metrics-addr"] {
		cfg.MetricsAddr = fromFile.MetricsAddr
	}
	if !explicitFlags["mailbox-workers"] {
		cfg.MailboxWorkers = fromFile.MailboxWorkers
	}
	if !explicitFlags["mailbox-depth"] {
		cfg.MailboxDepth = fromFile.MailboxDepth
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxPlayers < 0 {
		errs = append(errs, fmt.Errorf("max_players %d is negative", c.MaxPlayers))
	}
	if c.ViewDistance < 2 || c.ViewDistance > 32 {
		errs = append(errs, fmt.Errorf("view_distance %d outside [2, 32]", c.ViewDistance))
	}
	if c.AuthRetries < 0 {
		errs = append(errs, fmt.Errorf("auth_retries %d is negative", c.AuthRetries))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("read_timeout %s is negative", time.Duration(c.ReadTimeout)))
	}
	if c.OnlineMode && c.SessionServerURL == "" {
		errs = append(errs, errors.New("online_mode requires session_server_url"))
	}
	return errors.Join(errs...)
}

// Load reads a JSON config file over the defaults. A missing file yields
// the defaults and ok == false.
func Load(path string) (cfg *Config, ok bool, err error) {
	cfg = DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, false, nil
		}
		return nil, false, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, false, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, true, nil
}

// Save writes cfg to path atomically using a temp file + rename.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
