package config

import "testing"

func TestNewDefaultValidates(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestBindEnv(t *testing.T) {
	cfg := NewDefault()

	t.Setenv("LIBVIRT_AWS_BIND_TO", "127.0.0.1")
	t.Setenv("LIBVIRT_AWS_PORT", "9100")
	t.Setenv("LIBVIRT_AWS_DATABASE", "/tmp/test.db")
	t.Setenv("LIBVIRT_AWS_LIBVIRT_URI", "test:///default")
	t.Setenv("LIBVIRT_AWS_LIBVIRT_IMAGE_POOL", "pool-1")
	t.Setenv("LIBVIRT_AWS_LIBVIRT_NETWORK", "net-1")
	t.Setenv("LIBVIRT_AWS_REGION", "us-west-2")
	t.Setenv("LIBVIRT_AWS_LOG_LEVEL", "debug")

	if err := cfg.BindEnv(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	if cfg.BindTo != "127.0.0.1" {
		t.Fatalf("unexpected cfg.BindTo %q", cfg.BindTo)
	}
	if cfg.Port != 9100 {
		t.Fatalf("unexpected cfg.Port %d", cfg.Port)
	}
	if cfg.Database != "/tmp/test.db" {
		t.Fatalf("unexpected cfg.Database %q", cfg.Database)
	}
	if cfg.LibvirtURI != "test:///default" {
		t.Fatalf("unexpected cfg.LibvirtURI %q", cfg.LibvirtURI)
	}
	if cfg.LibvirtImagePool != "pool-1" {
		t.Fatalf("unexpected cfg.LibvirtImagePool %q", cfg.LibvirtImagePool)
	}
	if cfg.LibvirtNetwork != "net-1" {
		t.Fatalf("unexpected cfg.LibvirtNetwork %q", cfg.LibvirtNetwork)
	}
	if cfg.Region != "us-west-2" {
		t.Fatalf("unexpected cfg.Region %q", cfg.Region)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg.LogLevel %q", cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestBindEnvBadPort(t *testing.T) {
	cfg := NewDefault()
	t.Setenv("LIBVIRT_AWS_PORT", "not-a-number")
	if err := cfg.BindEnv(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateRejectsEmptyFields(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"database", func(c *Config) { c.Database = "" }},
		{"libvirt-uri", func(c *Config) { c.LibvirtURI = "" }},
		{"libvirt-image-pool", func(c *Config) { c.LibvirtImagePool = "" }},
		{"libvirt-network", func(c *Config) { c.LibvirtNetwork = "" }},
		{"region", func(c *Config) { c.Region = "" }},
		{"guest-agent-timeout-seconds", func(c *Config) { c.GuestAgentTimeoutSeconds = 0 }},
		{"stop-wait-deadline-seconds", func(c *Config) { c.StopWaitDeadlineSeconds = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefault()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}
