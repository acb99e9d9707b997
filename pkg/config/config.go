package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ddsauth-cli / handshake-demo
// configuration: where to find this participant's identity material,
// where to publish audit events, and how to log.
type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// IdentityConfig holds the dds.sec.auth.* QoS property values
// validate-local-identity needs (spec.md §6). Each of Certificate, CA,
// PrivateKey and CRL is a `file:`, `data:,` or `pkcs11:` URI, exactly as
// they would appear in the QoS property bag.
type IdentityConfig struct {
	DomainID     uint32 `yaml:"domain_id"`
	Certificate  string `yaml:"certificate"`
	CA           string `yaml:"ca"`
	PrivateKey   string `yaml:"private_key"`
	Password     string `yaml:"password,omitempty"`
	TrustedCADir string `yaml:"trusted_ca_dir,omitempty"`
	CRL          string `yaml:"crl,omitempty"`
}

// DatabaseConfig holds the audit trail's PostgreSQL settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds the audit trail's recent-event cache settings.
type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// SecurityConfig holds operational limits, not anything the core
// protocol itself defines. It is only loaded and defaulted here: the
// plugin facade takes no configuration, and nothing outside this
// package reads or enforces MaxPendingHandshakesPerPeer.
type SecurityConfig struct {
	MaxPendingHandshakesPerPeer int `yaml:"max_pending_handshakes_per_peer"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for optional config fields.
func (c *Config) setDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 5 * time.Minute
	}

	if c.Security.MaxPendingHandshakesPerPeer == 0 {
		c.Security.MaxPendingHandshakesPerPeer = 4
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
}

// validate checks if configuration is valid.
func (c *Config) validate() error {
	if c.Identity.Certificate == "" {
		return fmt.Errorf("identity.certificate is required")
	}
	if c.Identity.CA == "" {
		return fmt.Errorf("identity.ca is required")
	}
	if c.Identity.PrivateKey == "" {
		return fmt.Errorf("identity.private_key is required")
	}
	if c.Identity.TrustedCADir != "" && c.Identity.CRL != "" {
		return fmt.Errorf("identity.trusted_ca_dir and identity.crl cannot both be set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// GenerateDefaultConfig creates a default config for domain.
func GenerateDefaultConfig(domainID uint32) *Config {
	return &Config{
		Identity: IdentityConfig{
			DomainID:    domainID,
			Certificate: "file:///etc/ddsauth/identity_cert.pem",
			CA:          "file:///etc/ddsauth/identity_ca.pem",
			PrivateKey:  "file:///etc/ddsauth/identity_key.pem",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "ddsauth",
			Password: "changeme",
			DBName:   "ddsauth",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
			TTL:  5 * time.Minute,
		},
		Security: SecurityConfig{
			MaxPendingHandshakesPerPeer: 4,
		},
		Logging: LoggingConfig{
			Level:      "info",
			OutputFile: "/var/log/ddsauth/ddsauth.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// WriteConfigFile writes a config struct to a YAML file.
func WriteConfigFile(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// QoSProperties builds the dds.sec.auth.* QoS property bag
// validate-local-identity expects from an IdentityConfig.
func (c IdentityConfig) QoSProperties() map[string]string {
	props := map[string]string{
		"dds.sec.auth.identity_certificate": c.Certificate,
		"dds.sec.auth.identity_ca":          c.CA,
		"dds.sec.auth.private_key":          c.PrivateKey,
	}
	if c.Password != "" {
		props["dds.sec.auth.password"] = c.Password
	}
	if c.TrustedCADir != "" {
		props["dds.sec.access.trusted_ca_dir"] = c.TrustedCADir
	}
	if c.CRL != "" {
		props["org.eclipse.cyclonedds.sec.auth.crl"] = c.CRL
	}
	return props
}
