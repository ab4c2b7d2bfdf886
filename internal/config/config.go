package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"degasline/internal/degassing"
	"degasline/internal/domain"
)

// Config models degasline.yml.
type Config struct {
	Shipment struct {
		Route               string `yaml:"route" json:"route"`
		FlightFrequencyDays int    `yaml:"flight_frequency_days" json:"flight_frequency_days"`
	} `yaml:"shipment" json:"shipment"`
	Simulation struct {
		RoastDevelopment string `yaml:"roast_development" json:"roast_development"`
		Packaging        string `yaml:"packaging" json:"packaging"`
		Climate          string `yaml:"climate" json:"climate"`
	} `yaml:"simulation" json:"simulation"`
	Engine struct {
		Parallelism int `yaml:"parallelism" json:"parallelism"`
		RecentLimit int `yaml:"recent_limit" json:"recent_limit"`
	} `yaml:"engine" json:"engine"`
	Logging struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"logging" json:"logging"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// ShipmentDefaults returns the configured default shipment context.
func (c *Config) ShipmentDefaults() domain.ShipmentContext {
	return domain.ShipmentContext{
		Route:               c.Shipment.Route,
		FlightFrequencyDays: c.Shipment.FlightFrequencyDays,
	}
}

// SimulationDefaults returns the configured default simulator inputs. Process
// is left empty; it always comes from the batch.
func (c *Config) SimulationDefaults() domain.DegassingConfig {
	return domain.DegassingConfig{
		RoastDevelopment: domain.RoastDevelopment(c.Simulation.RoastDevelopment),
		Packaging:        domain.Packaging(c.Simulation.Packaging),
		Climate:          domain.Climate(c.Simulation.Climate),
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Shipment.Route) == "" {
		return fmt.Errorf("config.shipment.route is required")
	}
	// Probe the simulator with a known process so unknown categorical
	// defaults fail here rather than on the first advisory.
	probe := c.SimulationDefaults()
	probe.Process = string(degassing.Washed)
	if _, err := (degassing.Physical{}).Simulate(domain.Batch{}, probe); err != nil {
		return fmt.Errorf("config.simulation: %w", err)
	}
	if c.Engine.Parallelism < 0 {
		return fmt.Errorf("config.engine.parallelism must be >= 0")
	}
	if c.Engine.RecentLimit < 0 {
		return fmt.Errorf("config.engine.recent_limit must be >= 0")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level %q is invalid", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config.logging.format %q is invalid", c.Logging.Format)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "degasline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with degas config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or the defaults when the file
// does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `shipment:
  # Lanes containing "DXB" are treated as long-haul.
  route: BOG-DXB
  flight_frequency_days: 7

simulation:
  roast_development: medium   # light | medium | dark
  packaging: valve            # valve | no-valve | sealed-tin
  climate: temperate          # arctic | temperate | tropical

engine:
  parallelism: 4
  recent_limit: 10

logging:
  level: info                 # debug | info | warn | error
  format: console             # console | json

webhooks: []
#  - url: https://example.com/hooks/degasline
#    events: [dispatch.blocked]
#    secret: change-me
#    timeout_seconds: 5
`
