package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/cityfleet/core/metrics"
	"github.com/kilianp07/cityfleet/infra/journal"
	"github.com/kilianp07/cityfleet/infra/mqtt"
)

// Config is the full application configuration.
type Config struct {
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Bus         BusConfig         `json:"bus" yaml:"bus"`
	Pool        PoolConfig        `json:"pool" yaml:"pool"`
	Traffic     TrafficConfig     `json:"traffic" yaml:"traffic"`
	Negotiation NegotiationConfig `json:"negotiation" yaml:"negotiation"`
	World       WorldConfig       `json:"world" yaml:"world"`
	Fleet       FleetConfig       `json:"fleet" yaml:"fleet"`
	Metrics     metrics.Config    `json:"metrics" yaml:"metrics"`
	Journal     journal.Config    `json:"journal" yaml:"journal"`
	MQTT        MQTTConfig        `json:"mqtt" yaml:"mqtt"`
	Sentry      SentryConfig      `json:"sentry" yaml:"sentry"`
}

// MQTTConfig configures the broker used for external triggers. An empty
// broker disables it.
type MQTTConfig struct {
	mqtt.Config `json:",squash" yaml:",inline"`
	// Triggers subscribes to <prefix>/triggers/# when true.
	Triggers bool `json:"triggers" yaml:"triggers"`
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// Validate checks the authentication settings of an enabled broker.
func (c MQTTConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	switch c.AuthMethod {
	case "", "username_password", "both":
	case "oauth2":
		if c.OAuth2.TokenURL == "" || c.OAuth2.ClientID == "" {
			return errors.New("mqtt: oauth2 needs client_id and token_url")
		}
	default:
		return fmt.Errorf("mqtt: unknown auth_method %q", c.AuthMethod)
	}
	if c.UseTLS && c.TLSConfig == nil && (c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "") {
		return errors.New("mqtt: use_tls needs client_cert, client_key and ca_bundle")
	}
	return nil
}

// Load reads a yaml or json file and applies K_ environment overrides, e.g.
// K_POOL__MAX_WAIT=30s sets pool.max_wait.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	return fromKoanf(k)
}

// loadDotEnv exports the K_ overrides of a .env file found next to the
// configuration. Variables already set in the environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Parse reads a yaml document. Environment overrides apply as in Load.
func Parse(data []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawBytes(data), yaml.Parser()); err != nil {
		return nil, err
	}
	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no actors.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Bus.SetDefaults()
	c.Pool.SetDefaults()
	c.Negotiation.SetDefaults()
	c.World.SetDefaults()
	c.Metrics.SetDefaults()
	c.Journal.SetDefaults()
	if c.MQTT.Enabled() {
		c.MQTT.SetDefaults()
	}
	c.Sentry.SetDefaults()
}

// Validate runs tag validation and the semantic checks of every section.
func (c *Config) Validate() error {
	if err := NewValidator().Validate(c); err != nil {
		return err
	}
	return errors.Join(
		c.Logging.Validate(),
		c.Pool.Validate(),
		c.Traffic.Validate(),
		c.Negotiation.Validate(),
		c.World.Validate(),
		c.Fleet.Validate(),
		c.Metrics.Validate(),
		c.Journal.Validate(),
		c.MQTT.Validate(),
		c.Sentry.Validate(),
	)
}

type rawBytes []byte

// ReadBytes implements koanf.Provider.
func (r rawBytes) ReadBytes() ([]byte, error) { return r, nil }

// Read implements koanf.Provider.
func (r rawBytes) Read() (map[string]any, error) {
	return nil, errors.New("raw bytes provider does not support Read")
}
