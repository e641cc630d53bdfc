package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"pfp/internal/crypto"
	"pfp/internal/protocol/chunked"
)

// ConfigEnv names the environment variable consulted when no --config
// flag is given.
const ConfigEnv = "PFP_CONFIG"

// Config is the complete pfp configuration.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Crypto     CryptoConfig     `yaml:"crypto"`
	Pairing    PairingConfig    `yaml:"pairing"`
	Submission SubmissionConfig `yaml:"submission"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
}

// RelayConfig configures the relay client.
type RelayConfig struct {
	// URL is the relay base URL. Default: http://127.0.0.1:8091
	URL string `yaml:"url"`

	// SendTimeout bounds each /send request. Default: 10s
	SendTimeout string `yaml:"send_timeout"`

	// PollTimeout bounds each /receive long-poll and must exceed the
	// relay's long-poll window. Default: 35s
	PollTimeout string `yaml:"poll_timeout"`

	// RetryInterval is the wait after a failed poll. Default: 2s
	RetryInterval string `yaml:"retry_interval"`
}

// CryptoConfig selects the session key size and cipher parameters.
type CryptoConfig struct {
	// ModulusBits is the RSA key size; at least 4096.
	ModulusBits int `yaml:"modulus_bits"`

	// Hash is the OAEP hash. Both devices must agree. Default: sha256
	Hash string `yaml:"hash"`

	// Framing is "legacy" (default) or "sealed". Sealed ciphertexts
	// detect truncation and reordering but are not readable by legacy
	// peers.
	Framing string `yaml:"framing"`
}

// PairingConfig configures the pairing channel.
type PairingConfig struct {
	// LinkBase is the URL the pairing link is built on.
	LinkBase string `yaml:"link_base"`

	// Host is the optional host hint carried in the offer.
	Host string `yaml:"host"`

	// Origin is stamped on notifications posted by `receive --notify`.
	// Default: the scheme and host of LinkBase
	Origin string `yaml:"origin"`

	// AllowedOrigins lists the origins whose pairing notifications
	// `send --listen` honours. Empty rejects every notification.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Confirm makes `receive --notify` post pfp_receiver_received once
	// pairing completes.
	Confirm bool `yaml:"confirm"`
}

// SubmissionConfig configures the submission loop.
type SubmissionConfig struct {
	// Interval is the tick period and therefore the retry interval.
	// Default: 500ms
	Interval string `yaml:"interval"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text or json.
	Format string `yaml:"format"`
}

// ServerConfig configures the relay server binary.
type ServerConfig struct {
	// Listen is the listen address. Default: :8091
	Listen string `yaml:"listen"`

	// MaxMessageBytes caps a single message. Default: 262144
	MaxMessageBytes int `yaml:"max_message_bytes"`

	// LongPoll is how long /receive waits for a message. Default: 30s
	LongPoll string `yaml:"long_poll"`

	// IdlePurge drops all mailboxes after this long without traffic.
	// Default: 10m
	IdlePurge string `yaml:"idle_purge"`
}

// Default returns the configuration used when no file is given, and the
// base every file is merged onto.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			URL:           "http://127.0.0.1:8091",
			SendTimeout:   "10s",
			PollTimeout:   "35s",
			RetryInterval: "2s",
		},
		Crypto: CryptoConfig{
			ModulusBits: crypto.DefaultModulusBits,
			Hash:        crypto.DefaultHash,
			Framing:     string(chunked.FramingLegacy),
		},
		Pairing: PairingConfig{
			LinkBase: "https://supersafemessage.github.io/PasswordFromPhone/",
		},
		Submission: SubmissionConfig{
			Interval: "500ms",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Server: ServerConfig{
			Listen:          ":8091",
			MaxMessageBytes: 256 << 10,
			LongPoll:        "30s",
			IdlePurge:       "10m",
		},
	}
}

// Load resolves the config path from flagPath or PFP_CONFIG and loads
// it. With neither set it returns Default.
func Load(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads, expands and validates the config file at path. Files
// ending in .json or .jsonc are read as JSON with comments.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse merges YAML onto Default, expands ${VAR} references and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVariables expands ${VAR} and ${VAR:-default} in URL fields.
func (c *Config) expandVariables() {
	c.Relay.URL = expandVars(c.Relay.URL)
	c.Pairing.LinkBase = expandVars(c.Pairing.LinkBase)
	c.Pairing.Origin = expandVars(c.Pairing.Origin)
	c.Server.Listen = expandVars(c.Server.Listen)
}

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Relay.URL == "" {
		errs = append(errs, fmt.Errorf("relay.url is required"))
	}
	for field, value := range map[string]string{
		"relay.send_timeout":   c.Relay.SendTimeout,
		"relay.poll_timeout":   c.Relay.PollTimeout,
		"relay.retry_interval": c.Relay.RetryInterval,
		"submission.interval":  c.Submission.Interval,
		"server.long_poll":     c.Server.LongPoll,
		"server.idle_purge":    c.Server.IdlePurge,
	} {
		if _, err := parseDuration(field, value); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Crypto.ModulusBits < crypto.MinModulusBits {
		errs = append(errs, fmt.Errorf("crypto.modulus_bits must be at least %d", crypto.MinModulusBits))
	}
	if _, err := crypto.ParseHash(c.Crypto.Hash); err != nil {
		errs = append(errs, fmt.Errorf("crypto.hash must be one of: %v", crypto.HashNames()))
	}
	if _, err := chunked.ParseFraming(c.Crypto.Framing); err != nil {
		errs = append(errs, fmt.Errorf("crypto.framing: %w", err))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}
	if !slices.Contains([]string{"auto", "text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: auto, text, json"))
	}

	if c.Server.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_message_bytes must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

// mustDuration is for fields Validate has already checked.
func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(err)
	}
	return d
}
