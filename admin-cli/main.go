package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/gravitational/trace"

	"github.com/holdwallet/gateway/lib"
	"github.com/holdwallet/gateway/lib/logger"
)

var cli CLI

func main() {
	logger.Init()
	ctx := kong.Parse(
		&cli,
		kong.UsageOnError(),
		kong.Configuration(TOML),
		kong.Name("hold-admin"),
		kong.Description("Admin tooling for the HOLD Wallet backend"),
	)

	logConfig := logger.Config{Severity: "info"}
	if cli.Debug {
		logConfig.Severity = "debug"
	}
	if err := logger.Setup(logConfig); err != nil {
		ctx.FatalIfErrorf(err)
	}

	if err := ctx.Run(); err != nil {
		if cli.Debug {
			fmt.Println(trace.DebugReport(err))
		}
		lib.Bail(err)
	}
}
