// Package config defines the TOML configuration for the soteria monitor.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/soteria-mail/soteria/alias"
	"github.com/soteria-mail/soteria/consts"
)

// IMAPConfig holds the connection settings for the monitored mailbox.
type IMAPConfig struct {
	Host      string `toml:"host"`       // IMAP server host
	Port      int    `toml:"port"`       // IMAP server port (default: 993)
	TLS       bool   `toml:"tls"`        // Use implicit TLS (default: true)
	TLSVerify bool   `toml:"tls_verify"` // Verify the server certificate (default: true)
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Mailbox   string `toml:"mailbox"` // Folder to monitor (default: "INBOX")
}

// Address returns the host:port dial address.
func (c *IMAPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UserConfig holds the owner's domains and routing folders.
type UserConfig struct {
	// OwnDomains lists the catchall domains owned by the user. A string
	// with comma-separated values is accepted for compatibility with
	// environment-style configuration.
	OwnDomains     []string `toml:"own_domains"`
	VerifiedFolder string   `toml:"target_folder_verified"`
	FailedFolder   string   `toml:"target_folder_failed_validation"`
}

// EncryptionConfig holds the shared secret of the alias scheme.
type EncryptionConfig struct {
	Key string `toml:"key"` // Shared secret, exactly 32 characters
}

// MonitorConfig tunes the IMAP monitoring loop.
type MonitorConfig struct {
	IdleTimeout    string `toml:"idle_timeout"`    // Re-sweep interval while idling (default: "2m")
	DNSTimeout     string `toml:"dns_timeout"`     // Timeout per sender domain lookup (default: "10s")
	ReconnectDelay string `toml:"reconnect_delay"` // Delay before reconnecting after a session error (default: "15s")
}

// GetIdleTimeout parses the idle timeout duration.
func (m *MonitorConfig) GetIdleTimeout() (time.Duration, error) {
	if m.IdleTimeout == "" {
		return 2 * time.Minute, nil
	}
	return time.ParseDuration(m.IdleTimeout)
}

// GetDNSTimeout parses the DNS lookup timeout duration.
func (m *MonitorConfig) GetDNSTimeout() (time.Duration, error) {
	if m.DNSTimeout == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(m.DNSTimeout)
}

// GetReconnectDelay parses the reconnect delay duration.
func (m *MonitorConfig) GetReconnectDelay() (time.Duration, error) {
	if m.ReconnectDelay == "" {
		return 15 * time.Second, nil
	}
	return time.ParseDuration(m.ReconnectDelay)
}

// AuditConfig controls the verdict audit trail.
type AuditConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // SQLite database path (default: "soteria_audit.db")
}

// MetricsConfig controls the metrics/health HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`    // Listen address (default: "127.0.0.1:9090")
	APIKey  string `toml:"api_key"` // Bearer token for /api/v1; empty leaves the API open
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr", "syslog" or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn" or "error"
}

// Config is the root configuration. Loaded once at startup; read-only for
// the lifetime of the process.
type Config struct {
	IMAP       IMAPConfig       `toml:"imap"`
	User       UserConfig       `toml:"user"`
	Encryption EncryptionConfig `toml:"encryption"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Audit      AuditConfig      `toml:"audit"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Logging    LoggingConfig    `toml:"logging"`
}

// NewDefaultConfig returns the application defaults. Values from the TOML
// file and command-line flags are layered on top.
func NewDefaultConfig() Config {
	return Config{
		IMAP: IMAPConfig{
			Host:      "127.0.0.1",
			Port:      993,
			TLS:       true,
			TLSVerify: true,
			Mailbox:   consts.DefaultMailbox,
		},
		User: UserConfig{
			VerifiedFolder: consts.DefaultVerifiedFolder,
			FailedFolder:   consts.DefaultFailedFolder,
		},
		Monitor: MonitorConfig{
			IdleTimeout:    "2m",
			DNSTimeout:     "10s",
			ReconnectDelay: "15s",
		},
		Audit: AuditConfig{
			Path: "soteria_audit.db",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
		},
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
	}
}

// Load reads the TOML file at path over the defaults in cfg.
func Load(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.normalize()
	return nil
}

// normalize splits comma-separated own_domains entries and lowercases all
// domains.
func (c *Config) normalize() {
	var domains []string
	for _, entry := range c.User.OwnDomains {
		for _, domain := range strings.Split(entry, ",") {
			domain = strings.ToLower(strings.TrimSpace(domain))
			if domain != "" {
				domains = append(domains, domain)
			}
		}
	}
	c.User.OwnDomains = domains
}

// Validate checks the configuration for errors that must stop the process
// before any message is classified.
func (c *Config) Validate() error {
	var problems []string

	if c.IMAP.Host == "" {
		problems = append(problems, "imap.host is required")
	}
	if c.IMAP.Username == "" {
		problems = append(problems, "imap.username is required")
	}
	if c.IMAP.Password == "" {
		problems = append(problems, "imap.password is required")
	}
	if c.IMAP.Mailbox == "" {
		problems = append(problems, "imap.mailbox is required")
	}
	if len(c.User.OwnDomains) == 0 {
		problems = append(problems, "user.own_domains must list at least one domain")
	}
	if c.User.VerifiedFolder == "" {
		problems = append(problems, "user.target_folder_verified is required")
	}
	if c.User.FailedFolder == "" {
		problems = append(problems, "user.target_folder_failed_validation is required")
	}
	if c.User.VerifiedFolder != "" && c.User.VerifiedFolder == c.User.FailedFolder {
		problems = append(problems, "verified and failed folders must differ")
	}
	if len(c.Encryption.Key) != alias.KeyLength {
		problems = append(problems, fmt.Sprintf("encryption.key must be exactly %d characters", alias.KeyLength))
	}
	if _, err := c.Monitor.GetIdleTimeout(); err != nil {
		problems = append(problems, fmt.Sprintf("monitor.idle_timeout: %v", err))
	}
	if _, err := c.Monitor.GetDNSTimeout(); err != nil {
		problems = append(problems, fmt.Sprintf("monitor.dns_timeout: %v", err))
	}
	if _, err := c.Monitor.GetReconnectDelay(); err != nil {
		problems = append(problems, fmt.Sprintf("monitor.reconnect_delay: %v", err))
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		problems = append(problems, "audit.path is required when audit is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		problems = append(problems, "metrics.addr is required when metrics are enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", consts.ErrConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}
