package main

import (
	"github.com/alecthomas/kong"
)

// version is set by ldflags during build
var version = "dev"

type CLI struct {
	Version kong.VersionFlag `short:"v" help:"Show version"`
	Serve   ServeCmd         `cmd:"" help:"Run the Tonk table server"`
	Config  ConfigCmd        `cmd:"" help:"Print the effective configuration"`
	Wallet  WalletCmd        `cmd:"" help:"Administer player wallets"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("tonkd"),
		kong.Description("Authoritative Tonk card-game server with real-money tables"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
