package main

import (
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclwrite"

	"github.com/tonkhouse/tonkd/internal/server"
)

// ConfigCmd prints the effective configuration after defaults are
// applied, in the same HCL shape the config file uses.
type ConfigCmd struct {
	Config string `kong:"default='tonkd.hcl',help='Path to HCL configuration file'"`
}

func (c *ConfigCmd) Run() error {
	cfg, err := server.LoadConfig(c.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(cfg, f.Body())
	_, err = f.WriteTo(os.Stdout)
	return err
}
