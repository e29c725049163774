package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	ListenAddr    string         `yaml:"listen_addr,omitempty"`
	LogLevel      string         `yaml:"log_level,omitempty"`
	Database      DatabaseConfig `yaml:"database"`
	Auth          AuthConfig     `yaml:"auth"`
	DeviceAPI     DeviceAPI      `yaml:"device_api"`
	MQTT          MQTTConfig     `yaml:"mqtt,omitempty"`
	HomeAssistant HAConfig       `yaml:"home_assistant,omitempty"`
	Redis         RedisConfig    `yaml:"redis,omitempty"`
	RatePerKWh    float64        `yaml:"rate_per_kwh,omitempty"` // Cost per kWh used to compute session charges
}

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" (default) or "postgres"
	DSN    string `yaml:"dsn,omitempty"`    // File path for sqlite, connection string for postgres
}

// AuthConfig holds JWT verification settings
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret,omitempty"`          // HS256 shared secret
	JWTPublicKeyPath string `yaml:"jwt_public_key_path,omitempty"` // RS256 public key, takes precedence
}

// DeviceAPI holds the real device-control endpoint settings
type DeviceAPI struct {
	UseRealAPI bool     `yaml:"use_real_api"`
	SpecialIPs []string `yaml:"special_ips,omitempty"` // Always read from the real endpoint
	URL        string   `yaml:"url,omitempty"`
	Username   string   `yaml:"username,omitempty"`
	Password   string   `yaml:"password,omitempty"`
}

// MQTTConfig holds MQTT broker settings for device state events
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`                 // e.g., "localhost:1883"
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"` // Default: "plugshare"
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`       // e.g., "http://yourdomain.local:5050"
	Token    string `yaml:"token"`     // Long-lived access token
	EntityID string `yaml:"entity_id"` // e.g., "sensor.plugshare_energy"
}

// RedisConfig enables rate limiting of device actions when Addr is set
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	RPS      int    `yaml:"rps,omitempty"`
	Burst    int    `yaml:"burst,omitempty"`
}

// Load reads the config file and applies environment overrides
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
		// Run on defaults and environment when there is no file
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("PLUGSHARE_USE_REAL_API"); v != "" {
		c.DeviceAPI.UseRealAPI = parseBool(v)
	}
	if v := getenv("PLUGSHARE_SPECIAL_DEVICE_IPS"); v != "" {
		c.DeviceAPI.SpecialIPs = SplitList(v)
	}
	if v := getenv("PLUGSHARE_DEVICE_API_URL"); v != "" {
		c.DeviceAPI.URL = v
	}
	if v := getenv("PLUGSHARE_DEVICE_API_USER"); v != "" {
		c.DeviceAPI.Username = v
	}
	if v := getenv("PLUGSHARE_DEVICE_API_PASSWORD"); v != "" {
		c.DeviceAPI.Password = v
	}
	if v := getenv("PLUGSHARE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("PLUGSHARE_JWT_PUBLIC_KEY_PATH"); v != "" {
		c.Auth.JWTPublicKeyPath = v
	}
	if v := getenv("PLUGSHARE_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := getenv("PLUGSHARE_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := getenv("PLUGSHARE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("PLUGSHARE_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// SplitList splits a comma-separated value, dropping blanks
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// GetListenAddr returns the HTTP listen address with a default of ":8080"
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == "" {
		return ":8080"
	}
	return c.ListenAddr
}

// GetDatabaseDriver returns the database driver, defaulting to sqlite
func (c *Config) GetDatabaseDriver() string {
	if c.Database.Driver == "" {
		return "sqlite"
	}
	return strings.ToLower(c.Database.Driver)
}

// GetTopicPrefix returns the MQTT topic prefix, defaulting to "plugshare"
func (c *Config) GetTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return "plugshare"
	}
	return strings.TrimRight(c.MQTT.TopicPrefix, "/")
}

// GetRateLimit returns requests per second and burst for device actions
func (c *Config) GetRateLimit() (rps, burst int) {
	rps, burst = c.Redis.RPS, c.Redis.Burst
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return rps, burst
}
