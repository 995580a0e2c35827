// Package config defines the service configuration, populated from CLI
// flags (via pflag) with LIBVIRT_AWS_-prefixed environment variable
// overrides, in the style of the teacher's ec2config package.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// Prefix is the environment variable prefix recognized by BindEnv.
const Prefix = "LIBVIRT_AWS_"

// Config holds everything cmd/libvirt-aws needs to start the service.
type Config struct {
	// BindTo is the address to listen on ("" means any interface).
	BindTo string `json:"bind-to"`
	// Port is the TCP port to listen on.
	Port int `json:"port"`
	// Database is the path to the sqlite file backing the shadow state.
	Database string `json:"database"`
	// LibvirtURI is the libvirt connection URI.
	LibvirtURI string `json:"libvirt-uri"`
	// LibvirtImagePool names the libvirt storage pool used for EBS
	// volume and machine-image emulation.
	LibvirtImagePool string `json:"libvirt-image-pool"`
	// LibvirtNetwork names the libvirt network used for EIP/DNS
	// emulation.
	LibvirtNetwork string `json:"libvirt-network"`
	// Region is the AWS region string returned to clients.
	Region string `json:"region"`
	// LogLevel configures zap: debug, info, warn, error, dpanic, panic, fatal.
	LogLevel string `json:"log-level"`
	// GuestAgentTimeoutSeconds bounds a single guest-agent exec call.
	GuestAgentTimeoutSeconds int `json:"guest-agent-timeout-seconds"`
	// StopWaitDeadlineSeconds bounds the StopInstances shutdown-poll loop.
	StopWaitDeadlineSeconds int `json:"stop-wait-deadline-seconds"`
}

// NewDefault returns a Config with spec-mandated defaults.
func NewDefault() *Config {
	return &Config{
		Port:                     5100,
		Database:                 "libvirt-aws.db",
		LibvirtURI:               "qemu:///system",
		LibvirtImagePool:         "default",
		LibvirtNetwork:           "default",
		Region:                   "us-east-2",
		LogLevel:                 "info",
		GuestAgentTimeoutSeconds: 5,
		StopWaitDeadlineSeconds:  300,
	}
}

// BindFlags registers pflag flags for every field except
// GuestAgentTimeoutSeconds and StopWaitDeadlineSeconds, defaulting to the
// values already present on c (call NewDefault first).
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.BindTo, "bind-to", c.BindTo, "address to listen on")
	fs.IntVar(&c.Port, "port", c.Port, "TCP port to listen on")
	fs.StringVar(&c.Database, "database", c.Database, "path to sqlite database file")
	fs.StringVar(&c.LibvirtURI, "libvirt-uri", c.LibvirtURI, "libvirt connection URI")
	fs.StringVar(&c.LibvirtImagePool, "libvirt-image-pool", c.LibvirtImagePool, "name of libvirt storage pool to use for EBS emulation")
	fs.StringVar(&c.LibvirtNetwork, "libvirt-network", c.LibvirtNetwork, "name of libvirt network to use for EIP/DNS emulation")
	fs.StringVar(&c.Region, "region", c.Region, "AWS region to pretend to be in")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
}

// BindEnv overrides fields from LIBVIRT_AWS_-prefixed environment
// variables. It overwrites whatever c already holds, so when it runs after
// flag parsing (as the serve command does) an environment value takes
// precedence over an explicit flag.
func (c *Config) BindEnv() error {
	if v, ok := lookupEnv("BIND_TO"); ok {
		c.BindTo = v
	}
	if v, ok := lookupEnv("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", Prefix, err)
		}
		c.Port = n
	}
	if v, ok := lookupEnv("DATABASE"); ok {
		c.Database = v
	}
	if v, ok := lookupEnv("LIBVIRT_URI"); ok {
		c.LibvirtURI = v
	}
	if v, ok := lookupEnv("LIBVIRT_IMAGE_POOL"); ok {
		c.LibvirtImagePool = v
	}
	if v, ok := lookupEnv("LIBVIRT_NETWORK"); ok {
		c.LibvirtNetwork = v
	}
	if v, ok := lookupEnv("REGION"); ok {
		c.Region = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	return os.LookupEnv(Prefix + key)
}

// Validate checks field invariants the way ec2config.Config.ValidateAndSetDefaults does.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Database == "" {
		return fmt.Errorf("database path must not be empty")
	}
	if c.LibvirtURI == "" {
		return fmt.Errorf("libvirt-uri must not be empty")
	}
	if c.LibvirtImagePool == "" {
		return fmt.Errorf("libvirt-image-pool must not be empty")
	}
	if c.LibvirtNetwork == "" {
		return fmt.Errorf("libvirt-network must not be empty")
	}
	if c.Region == "" {
		return fmt.Errorf("region must not be empty")
	}
	if c.GuestAgentTimeoutSeconds <= 0 {
		return fmt.Errorf("guest-agent-timeout-seconds must be positive")
	}
	if c.StopWaitDeadlineSeconds <= 0 {
		return fmt.Errorf("stop-wait-deadline-seconds must be positive")
	}
	return nil
}
