// Package config loads the runtime configuration of a Parley host.
//
// Values come from three layers, later ones winning: built-in defaults, an optional
// YAML file and PARLEY_* environment variables.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PARLEY_"

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Recognizer kinds.
const (
	RecognizerKeyword = "keyword"
	RecognizerLUIS    = "luis"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete host configuration.
type Config struct {
	LogLevel       string        `mapstructure:"log_level" env:"LOG_LEVEL"`
	Addr           string        `mapstructure:"addr" env:"ADDR"`
	BotID          string        `mapstructure:"bot_id" env:"BOT_ID"`
	Locale         string        `mapstructure:"locale" env:"LOCALE"`
	FailureMessage string        `mapstructure:"failure_message" env:"FAILURE_MESSAGE"`
	PromptTimeout  time.Duration `mapstructure:"prompt_timeout" env:"PROMPT_TIMEOUT"`
	MaxAttempts    int           `mapstructure:"max_attempts" env:"MAX_ATTEMPTS"`
	LockTTL        time.Duration `mapstructure:"lock_ttl" env:"LOCK_TTL"`
	Metrics        bool          `mapstructure:"metrics" env:"METRICS"`

	// TemplatesPath is a YAML file or a directory of markdown templates. Empty uses the built-in set.
	TemplatesPath string `mapstructure:"templates" env:"TEMPLATES"`
	// DialogPath is a YAML dialog definition. Empty uses the built-in OAuth bot.
	DialogPath string `mapstructure:"dialog" env:"DIALOG"`
	// CommandsPath lists allow-listed external programs exposed as commands.
	CommandsPath string `mapstructure:"commands" env:"COMMANDS"`

	Store      StoreConfig      `mapstructure:"store" envPrefix:"STORE_"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" envPrefix:"RECOGNIZER_"`
	OAuth      OAuthConfig      `mapstructure:"oauth" envPrefix:"OAUTH_"`
	Security   SecurityConfig   `mapstructure:"security" envPrefix:"SECURITY_"`
}

// StoreConfig selects and tunes the state store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" env:"DRIVER"`
	// DSN is a directory (file), a database path (sqlite) or an address (redis).
	DSN      string        `mapstructure:"dsn" env:"DSN"`
	Password string        `mapstructure:"password" env:"PASSWORD"`
	DB       int           `mapstructure:"db" env:"DB"`
	Prefix   string        `mapstructure:"prefix" env:"PREFIX"`
	TTL      time.Duration `mapstructure:"ttl" env:"TTL"`
	// Lock serializes turns per conversation across processes (redis only).
	Lock bool `mapstructure:"lock" env:"LOCK"`
}

// RecognizerConfig selects the intent recognizer.
type RecognizerConfig struct {
	Kind      string        `mapstructure:"kind" env:"KIND"`
	Endpoint  string        `mapstructure:"endpoint" env:"ENDPOINT"`
	AppID     string        `mapstructure:"app_id" env:"APP_ID"`
	Key       string        `mapstructure:"key" env:"KEY"`
	Slot      string        `mapstructure:"slot" env:"SLOT"`
	Threshold float64       `mapstructure:"threshold" env:"THRESHOLD"`
	Timeout   time.Duration `mapstructure:"timeout" env:"TIMEOUT"`
	// Apps maps a locale to the LUIS application serving it.
	Apps map[string]string `mapstructure:"apps"`
	// Intents maps an intent to keywords or /regex/ phrases (keyword recognizer).
	Intents map[string][]string `mapstructure:"intents"`
}

// OAuthConfig describes the single auth connection used by sign-in prompts.
type OAuthConfig struct {
	Connection   string        `mapstructure:"connection" env:"CONNECTION"`
	ClientID     string        `mapstructure:"client_id" env:"CLIENT_ID"`
	ClientSecret string        `mapstructure:"client_secret" env:"CLIENT_SECRET"`
	AuthURL      string        `mapstructure:"auth_url" env:"AUTH_URL"`
	TokenURL     string        `mapstructure:"token_url" env:"TOKEN_URL"`
	RedirectURL  string        `mapstructure:"redirect_url" env:"REDIRECT_URL"`
	Scopes       []string      `mapstructure:"scopes" env:"SCOPES" envSeparator:","`
	CallbackPath string        `mapstructure:"callback_path" env:"CALLBACK_PATH"`
	PendingTTL   time.Duration `mapstructure:"pending_ttl" env:"PENDING_TTL"`
}

// Enabled reports whether a real OAuth provider is configured.
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != "" && o.AuthURL != "" && o.TokenURL != ""
}

// SecurityConfig enables the persistence middlewares.
type SecurityConfig struct {
	// EncryptionKey is a 32-byte AES key, hex or base64 encoded. Empty disables encryption.
	EncryptionKey string   `mapstructure:"encryption_key" env:"ENCRYPTION_KEY"`
	FallbackKeys  []string `mapstructure:"fallback_keys" env:"FALLBACK_KEYS" envSeparator:","`
	PIIPatterns   []string `mapstructure:"pii_patterns" env:"PII_PATTERNS" envSeparator:","`
}

// Keys decodes the active and fallback encryption keys. active is nil when encryption is off.
func (s SecurityConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	if active, err = decodeKey(s.EncryptionKey); err != nil {
		return nil, nil, fmt.Errorf("encryption key: %w", err)
	}
	for i, k := range s.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback key #%d: %w", i+1, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	var key []byte
	if b, err := hex.DecodeString(s); err == nil {
		key = b
	} else if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		key = b
	} else {
		return nil, errors.New("must be hex or base64")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LogLevel:       "info",
		Addr:           ":3978",
		BotID:          "parley",
		Locale:         "en-US",
		FailureMessage: "The bot encountered an error or bug.",
		PromptTimeout:  5 * time.Minute,
		MaxAttempts:    3,
		LockTTL:        30 * time.Second,
		Store: StoreConfig{
			Driver: StoreMemory,
			Prefix: "parley:",
		},
		Recognizer: RecognizerConfig{
			Kind:      RecognizerKeyword,
			Threshold: 0.5,
			Timeout:   5 * time.Second,
		},
		OAuth: OAuthConfig{
			Connection:   "GitHub",
			CallbackPath: "/oauth/callback",
			PendingTTL:   10 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (optional, skipped
// when empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// Validate checks the combination of settings.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreFile, StoreSQLite, StoreRedis:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store %s needs a dsn", ErrInvalid, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalid, c.Store.Driver)
	}
	if c.Store.Lock && c.Store.Driver != StoreRedis {
		return fmt.Errorf("%w: store lock requires the redis driver", ErrInvalid)
	}

	switch c.Recognizer.Kind {
	case RecognizerKeyword:
	case RecognizerLUIS:
		if c.Recognizer.Endpoint == "" || c.Recognizer.Key == "" || (c.Recognizer.AppID == "" && len(c.Recognizer.Apps) == 0) {
			return fmt.Errorf("%w: luis recognizer needs endpoint, key and app id", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown recognizer %q", ErrInvalid, c.Recognizer.Kind)
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must not be negative", ErrInvalid)
	}
	if c.OAuth.Connection == "" {
		return fmt.Errorf("%w: oauth connection name is required", ErrInvalid)
	}
	if _, _, err := c.Security.Keys(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
