package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/matt0x6f/ircsync/internal/validation"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration file
type Config struct {
	Database string          `yaml:"database"`
	LogLevel string          `yaml:"log_level"`
	Global   GlobalConfig    `yaml:"global"`
	Networks []NetworkConfig `yaml:"networks"`
}

// GlobalConfig holds the settings shared by every network
type GlobalConfig struct {
	ShowRaw            bool          `yaml:"show_raw"`
	NoticeActiveBuffer bool          `yaml:"notice_active_buffer"`
	Notify             bool          `yaml:"notify"`
	Buffers            BuffersConfig `yaml:"buffers"`
	Bnc                BouncerConfig `yaml:"bnc"`
}

// BuffersConfig holds buffer creation policy
type BuffersConfig struct {
	BlockPMs bool `yaml:"block_pms"`
}

// BouncerConfig routes every network through a bouncer when active
type BouncerConfig struct {
	Active   bool   `yaml:"active"`
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NickServConfig holds services credentials
type NickServConfig struct {
	Account  string `yaml:"account"`
	Password string `yaml:"password"`
}

// SASLConfig holds SASL PLAIN credentials
type SASLConfig struct {
	Account  string `yaml:"account"`
	Password string `yaml:"password"`
}

// ChannelConfig is a channel joined after registration
type ChannelConfig struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// NetworkConfig is one configured network
type NetworkConfig struct {
	ID           int64           `yaml:"id"`
	Name         string          `yaml:"name"`
	Nick         string          `yaml:"nick"`
	Username     string          `yaml:"username"`
	Realname     string          `yaml:"realname"`
	Server       string          `yaml:"server"`
	Port         int             `yaml:"port"`
	TLS          bool            `yaml:"tls"`
	Path         string          `yaml:"path"`
	Password     string          `yaml:"password"`
	BncName      string          `yaml:"bncname"`
	ShowRaw      bool            `yaml:"show_raw"`
	AutoCommands string          `yaml:"auto_commands"`
	NickServ     *NickServConfig `yaml:"nickserv"`
	SASL         *SASLConfig     `yaml:"sasl"`
	Channels     []ChannelConfig `yaml:"channels"`
	Captcha      string          `yaml:"captcha"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "./ircsync.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Global.Bnc.Port == 0 {
		c.Global.Bnc.Port = 6697
	}
	for i := range c.Networks {
		n := &c.Networks[i]
		if n.ID == 0 {
			n.ID = int64(i + 1)
		}
		if n.Port == 0 {
			if n.TLS {
				n.Port = 6697
			} else {
				n.Port = 6667
			}
		}
		n.AutoCommands = strings.TrimSpace(n.AutoCommands)
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	seen := make(map[int64]bool)
	for i, n := range c.Networks {
		if seen[n.ID] {
			return fmt.Errorf("network %d: duplicate id %d", i+1, n.ID)
		}
		seen[n.ID] = true

		if err := validation.ValidateNetworkName(n.Name); err != nil {
			return fmt.Errorf("network %d: %w", i+1, err)
		}
		if err := validation.ValidateNick(n.Nick); err != nil {
			return fmt.Errorf("network %q: %w", n.Name, err)
		}
		// Bouncer-routed networks may leave the server empty
		if !c.Global.Bnc.Active {
			if err := validation.ValidateServerAddress(n.Server, n.Port); err != nil {
				return fmt.Errorf("network %q: %w", n.Name, err)
			}
		}
		for _, ch := range n.Channels {
			if err := validation.ValidateChannelName(ch.Name); err != nil {
				return fmt.Errorf("network %q: %w", n.Name, err)
			}
		}
	}
	if c.Global.Bnc.Active {
		if err := validation.ValidateServerAddress(c.Global.Bnc.Server, c.Global.Bnc.Port); err != nil {
			return fmt.Errorf("bnc: %w", err)
		}
	}
	return nil
}
