package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat"
	"github.com/opd-ai/peerchat/crypto"
	"github.com/opd-ai/peerchat/limits"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PEERCHAT_"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the node configuration file.
type Config struct {
	Node      NodeConfig      `json:"node"`
	Directory DirectoryConfig `json:"directory"`
	Timeouts  TimeoutConfig   `json:"timeouts"`
	Retry     RetryConfig     `json:"retry"`
	LogLevel  string          `json:"log_level"`
	LogFormat string          `json:"log_format,omitempty"` // "text" or "json"
}

// NodeConfig describes the local node.
type NodeConfig struct {
	Username       string   `json:"username"`
	ListenAddr     string   `json:"listen_addr"`
	AdvertiseAddr  string   `json:"advertise_addr,omitempty"`
	APIAddr        string   `json:"api_addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	IdentityPath   string   `json:"identity_path"`
	ContactsPath   string   `json:"contacts_path"`
	HistoryPath    string   `json:"history_path"`

	// IdentityPassphrase selects the encrypted identity format. It is only
	// read from the environment.
	IdentityPassphrase string `json:"-"`
}

// DirectoryConfig locates the directory service.
type DirectoryConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key,omitempty"`
}

// TimeoutConfig holds network timeouts and presence timing.
type TimeoutConfig struct {
	Connect           Duration `json:"connect"`
	Directory         Duration `json:"directory"`
	HeartbeatInterval Duration `json:"heartbeat_interval"`
	PresenceTTL       Duration `json:"presence_ttl"`
}

// RetryConfig is the directory retry schedule.
type RetryConfig struct {
	BaseDelay   Duration `json:"base_delay"`
	Multiplier  float64  `json:"multiplier"`
	MaxDelay    Duration `json:"max_delay"`
	MaxAttempts int      `json:"max_attempts"`
}

// Duration is a time.Duration that reads "3s" style strings or a number of
// seconds from JSON and writes strings.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := parseDuration(s)
		if err != nil {
			return err
		}
		*d = v
		return nil
	}

	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// parseDuration reads a Go duration string ("1m30s") or a bare number of seconds.
func parseDuration(s string) (Duration, error) {
	if v, err := time.ParseDuration(s); err == nil {
		return Duration(v), nil
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: want a duration string or a number of seconds", s)
	}
	return Duration(secs * float64(time.Second)), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := peerchat.NewOptions()
	return &Config{
		Node: NodeConfig{
			ListenAddr:   "0.0.0.0:7400",
			APIAddr:      "127.0.0.1:7401",
			IdentityPath: filepath.Join("data", "identity.json"),
			ContactsPath: filepath.Join("data", "contacts.json"),
			HistoryPath:  filepath.Join("data", "history.db"),
		},
		Directory: DirectoryConfig{
			URL: "http://127.0.0.1:8080",
		},
		Timeouts: TimeoutConfig{
			Connect:           Duration(opts.ConnectTimeout),
			Directory:         Duration(opts.DirectoryTimeout),
			HeartbeatInterval: Duration(opts.HeartbeatInterval),
			PresenceTTL:       Duration(opts.PresenceTTL),
		},
		Retry: RetryConfig{
			BaseDelay:   Duration(opts.Retry.BaseDelay),
			Multiplier:  opts.Retry.Multiplier,
			MaxDelay:    Duration(opts.Retry.MaxDelay),
			MaxAttempts: opts.Retry.MaxAttempts,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the configuration. Values come from Default, then the JSON file
// at path (skipped when path is empty), then a .env file in the working
// directory if present, then PEERCHAT_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Load",
		"path":      path,
		"username":  cfg.Node.Username,
		"directory": cfg.Directory.URL,
	}).Debug("Configuration loaded")

	return cfg, nil
}

// Save writes c as indented JSON with 0600 permissions.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return crypto.WriteFileAtomic(path, append(data, '\n'))
}

// applyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"USERNAME":            &c.Node.Username,
		"LISTEN_ADDR":         &c.Node.ListenAddr,
		"ADVERTISE_ADDR":      &c.Node.AdvertiseAddr,
		"API_ADDR":            &c.Node.APIAddr,
		"IDENTITY_PATH":       &c.Node.IdentityPath,
		"IDENTITY_PASSPHRASE": &c.Node.IdentityPassphrase,
		"CONTACTS_PATH":       &c.Node.ContactsPath,
		"HISTORY_PATH":        &c.Node.HistoryPath,
		"DIRECTORY_URL":       &c.Directory.URL,
		"DIRECTORY_API_KEY":   &c.Directory.APIKey,
		"LOG_LEVEL":           &c.LogLevel,
		"LOG_FORMAT":          &c.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"CONNECT_TIMEOUT":    &c.Timeouts.Connect,
		"DIRECTORY_TIMEOUT":  &c.Timeouts.Directory,
		"HEARTBEAT_INTERVAL": &c.Timeouts.HeartbeatInterval,
		"PRESENCE_TTL":       &c.Timeouts.PresenceTTL,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			continue
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err)
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "RETRY_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sRETRY_MAX_ATTEMPTS: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Retry.MaxAttempts = n
	}

	// Comma-separated origins
	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		c.Node.AllowedOrigins = nil
		for _, entry := range strings.Split(v, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				c.Node.AllowedOrigins = append(c.Node.AllowedOrigins, entry)
			}
		}
	}
	return nil
}

// Validate checks that c can start a node.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
	}

	if err := limits.ValidateUsername(c.Node.Username); err != nil {
		fail("node.username: %v", err)
	}
	for name, addr := range map[string]string{
		"node.listen_addr": c.Node.ListenAddr,
		"node.api_addr":    c.Node.APIAddr,
	} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			fail("%s: %v", name, err)
		}
	}
	if c.Node.AdvertiseAddr != "" {
		if _, _, err := net.SplitHostPort(c.Node.AdvertiseAddr); err != nil {
			fail("node.advertise_addr: %v", err)
		}
	}
	if c.Node.IdentityPath == "" {
		fail("node.identity_path is required")
	}

	u, err := url.Parse(c.Directory.URL)
	switch {
	case c.Directory.URL == "":
		fail("directory.url is required")
	case err != nil:
		fail("directory.url: %v", err)
	case u.Scheme != "http" && u.Scheme != "https":
		fail("directory.url: scheme must be http or https")
	case u.Host == "":
		fail("directory.url: missing host")
	}

	for name, d := range map[string]Duration{
		"timeouts.connect":            c.Timeouts.Connect,
		"timeouts.directory":          c.Timeouts.Directory,
		"timeouts.heartbeat_interval": c.Timeouts.HeartbeatInterval,
		"timeouts.presence_ttl":       c.Timeouts.PresenceTTL,
	} {
		if d < 0 {
			fail("%s must not be negative", name)
		}
	}
	if c.Timeouts.PresenceTTL > 0 && c.Timeouts.HeartbeatInterval > 0 &&
		c.Timeouts.PresenceTTL < c.Timeouts.HeartbeatInterval {
		fail("timeouts.presence_ttl must be at least timeouts.heartbeat_interval")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		fail("retry.multiplier must be at least 1")
	}
	if c.Retry.MaxAttempts < 0 {
		fail("retry.max_attempts must not be negative")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		fail("log_level: %v", err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		fail("log_format: %q is not text or json", c.LogFormat)
	}

	return errors.Join(errs...)
}

// NodeOptions converts the timing settings into node options.
func (c *Config) NodeOptions() *peerchat.Options {
	opts := peerchat.NewOptions()
	opts.AdvertiseAddr = c.Node.AdvertiseAddr
	opts.ContactsPath = c.Node.ContactsPath
	opts.ConnectTimeout = c.Timeouts.Connect.D()
	opts.DirectoryTimeout = c.Timeouts.Directory.D()
	opts.HeartbeatInterval = c.Timeouts.HeartbeatInterval.D()
	opts.PresenceTTL = c.Timeouts.PresenceTTL.D()
	opts.Retry = peerchat.Backoff{
		BaseDelay:   c.Retry.BaseDelay.D(),
		Multiplier:  c.Retry.Multiplier,
		MaxDelay:    c.Retry.MaxDelay.D(),
		MaxAttempts: c.Retry.MaxAttempts,
	}
	return opts
}

// ConfigureLogging applies the log level and format to the standard logrus
// logger.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
