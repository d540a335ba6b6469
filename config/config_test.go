package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := NewDefaultConfig()
	cfg.IMAP.Username = "catchall@own.example"
	cfg.IMAP.Password = "secret"
	cfg.User.OwnDomains = []string{"own.example"}
	cfg.Encryption.Key = "0123456789abcdef0123456789abcdef"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.IMAP.Port != 993 {
		t.Errorf("Expected default port 993, got %d", cfg.IMAP.Port)
	}
	if !cfg.IMAP.TLS {
		t.Error("Expected TLS enabled by default")
	}
	if cfg.IMAP.Mailbox != "INBOX" {
		t.Errorf("Expected default mailbox INBOX, got %q", cfg.IMAP.Mailbox)
	}
	if cfg.User.VerifiedFolder != "Verified" {
		t.Errorf("Expected default verified folder, got %q", cfg.User.VerifiedFolder)
	}
	if cfg.User.FailedFolder != "Failed Validation" {
		t.Errorf("Expected default failed folder, got %q", cfg.User.FailedFolder)
	}

	idle, err := cfg.Monitor.GetIdleTimeout()
	if err != nil {
		t.Fatalf("Failed to get default idle timeout: %v", err)
	}
	if idle != 2*time.Minute {
		t.Errorf("Expected default idle timeout 2m, got %v", idle)
	}
}

func TestMonitorConfig_DurationAccessors(t *testing.T) {
	m := MonitorConfig{IdleTimeout: "30s", DNSTimeout: "2s", ReconnectDelay: "1m"}

	idle, err := m.GetIdleTimeout()
	if err != nil || idle != 30*time.Second {
		t.Errorf("Expected 30s idle timeout, got %v (err %v)", idle, err)
	}
	dns, err := m.GetDNSTimeout()
	if err != nil || dns != 2*time.Second {
		t.Errorf("Expected 2s dns timeout, got %v (err %v)", dns, err)
	}
	rec, err := m.GetReconnectDelay()
	if err != nil || rec != time.Minute {
		t.Errorf("Expected 1m reconnect delay, got %v (err %v)", rec, err)
	}

	m = MonitorConfig{}
	dns, err = m.GetDNSTimeout()
	if err != nil || dns != 10*time.Second {
		t.Errorf("Expected default 10s dns timeout, got %v (err %v)", dns, err)
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing host", func(c *Config) { c.IMAP.Host = "" }, "imap.host"},
		{"missing username", func(c *Config) { c.IMAP.Username = "" }, "imap.username"},
		{"missing password", func(c *Config) { c.IMAP.Password = "" }, "imap.password"},
		{"missing mailbox", func(c *Config) { c.IMAP.Mailbox = "" }, "imap.mailbox"},
		{"no own domains", func(c *Config) { c.User.OwnDomains = nil }, "own_domains"},
		{"missing verified folder", func(c *Config) { c.User.VerifiedFolder = "" }, "target_folder_verified"},
		{"missing failed folder", func(c *Config) { c.User.FailedFolder = "" }, "target_folder_failed_validation"},
		{"same folders", func(c *Config) { c.User.FailedFolder = c.User.VerifiedFolder }, "must differ"},
		{"short key", func(c *Config) { c.Encryption.Key = "short" }, "encryption.key"},
		{"bad idle timeout", func(c *Config) { c.Monitor.IdleTimeout = "soon" }, "idle_timeout"},
		{"audit without path", func(c *Config) { c.Audit.Enabled = true; c.Audit.Path = "" }, "audit.path"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	content := `
[imap]
host = "imap.example.net"
port = 143
tls = false
username = "catchall@own.example"
password = "hunter2"
mailbox = "INBOX"

[user]
own_domains = ["own.example", "second.example"]
target_folder_verified = "Verified"
target_folder_failed_validation = "Failed Validation"

[encryption]
key = "0123456789abcdef0123456789abcdef"

[monitor]
idle_timeout = "45s"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.IMAP.Host != "imap.example.net" {
		t.Errorf("Expected host from file, got %q", cfg.IMAP.Host)
	}
	if cfg.IMAP.Port != 143 {
		t.Errorf("Expected port 143, got %d", cfg.IMAP.Port)
	}
	if cfg.IMAP.Address() != "imap.example.net:143" {
		t.Errorf("Unexpected address %q", cfg.IMAP.Address())
	}
	if len(cfg.User.OwnDomains) != 2 {
		t.Errorf("Expected 2 own domains, got %v", cfg.User.OwnDomains)
	}
	idle, err := cfg.Monitor.GetIdleTimeout()
	if err != nil || idle != 45*time.Second {
		t.Errorf("Expected 45s idle timeout, got %v (err %v)", idle, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Loaded config should validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := Load(filepath.Join(t.TempDir(), "nope.toml"), &cfg); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestNormalize_SplitsCommaSeparatedDomains(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.User.OwnDomains = []string{"Own.Example, second.example", " third.example "}
	cfg.normalize()

	want := []string{"own.example", "second.example", "third.example"}
	if len(cfg.User.OwnDomains) != len(want) {
		t.Fatalf("Expected %d domains, got %v", len(want), cfg.User.OwnDomains)
	}
	for i, domain := range want {
		if cfg.User.OwnDomains[i] != domain {
			t.Errorf("Expected domain %q at %d, got %q", domain, i, cfg.User.OwnDomains[i])
		}
	}
}
