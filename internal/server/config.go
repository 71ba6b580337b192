package server

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the complete server configuration.
type Config struct {
	Server ServerSettings `hcl:"server,block"`
	Tables []TableConfig  `hcl:"table,block"`
}

// ServerSettings contains server-level configuration. Durations are
// expressed in whole units in the file and converted by the accessors.
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`
	DBPath   string `hcl:"db_path,optional"`

	LockTTLSeconds         int   `hcl:"lock_ttl_seconds,optional"`
	RoundTransitionSeconds int   `hcl:"round_transition_seconds,optional"`
	BotThinkMillis         int   `hcl:"bot_think_ms,optional"`
	MinWithdrawalAmount    int64 `hcl:"min_withdrawal_amount,optional"`
}

// TableConfig seeds one Tonk table.
type TableConfig struct {
	Name       string `hcl:"name,label"`
	Stake      int64  `hcl:"stake"`
	MinPlayers int    `hcl:"min_players,optional"`
	MaxPlayers int    `hcl:"max_players,optional"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerSettings{
			Address:                "localhost",
			Port:                   8080,
			LogLevel:               "info",
			DBPath:                 "tonkd.db",
			LockTTLSeconds:         10,
			RoundTransitionSeconds: 30,
			BotThinkMillis:         1000,
			MinWithdrawalAmount:    5,
		},
		Tables: []TableConfig{
			{Name: "main", Stake: 10, MinPlayers: 2, MaxPlayers: 4},
		},
	}
}

// LoadConfig loads configuration from an HCL file, falling back to
// defaults when the file does not exist.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config Config
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	def := DefaultConfig().Server
	if c.Server.Address == "" {
		c.Server.Address = def.Address
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Port
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = def.LogLevel
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = def.DBPath
	}
	if c.Server.LockTTLSeconds == 0 {
		c.Server.LockTTLSeconds = def.LockTTLSeconds
	}
	if c.Server.RoundTransitionSeconds == 0 {
		c.Server.RoundTransitionSeconds = def.RoundTransitionSeconds
	}
	if c.Server.BotThinkMillis == 0 {
		c.Server.BotThinkMillis = def.BotThinkMillis
	}
	if c.Server.MinWithdrawalAmount == 0 {
		c.Server.MinWithdrawalAmount = def.MinWithdrawalAmount
	}
	for i := range c.Tables {
		if c.Tables[i].MinPlayers == 0 {
			c.Tables[i].MinPlayers = 2
		}
		if c.Tables[i].MaxPlayers == 0 {
			c.Tables[i].MaxPlayers = 4
		}
	}
}

// Validate validates the server configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table must be configured")
	}
	for _, table := range c.Tables {
		if table.Stake <= 0 {
			return fmt.Errorf("table %s: stake must be positive", table.Name)
		}
		if table.MinPlayers < 2 {
			return fmt.Errorf("table %s: min players must be at least 2", table.Name)
		}
		if table.MaxPlayers < table.MinPlayers || table.MaxPlayers > 4 {
			return fmt.Errorf("table %s: max players must be between min players and 4", table.Name)
		}
	}
	return nil
}

// ListenAddress returns the full address to bind.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// LockTTL is how long a per-table lock lives before a crashed holder is
// assumed dead.
func (c *ServerSettings) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// RoundTransitionDelay is the pause between round end and the next deal.
func (c *ServerSettings) RoundTransitionDelay() time.Duration {
	return time.Duration(c.RoundTransitionSeconds) * time.Second
}

// BotThinkTime is the artificial delay before a bot acts.
func (c *ServerSettings) BotThinkTime() time.Duration {
	return time.Duration(c.BotThinkMillis) * time.Millisecond
}
