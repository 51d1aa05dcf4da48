package main

import (
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/gravitational/trace"
	toml "github.com/pelletier/go-toml"
)

// CLI is the hold-admin command set.
type CLI struct {
	// Config is an optional TOML configuration file path.
	Config kong.ConfigFlag `help:"Path to TOML configuration file" optional:"true" short:"c" type:"existingfile" env:"HOLD_ADMIN_CONFIG"`

	// Debug enables verbose logging.
	Debug bool `help:"Enable verbose logging to stderr" short:"d" env:"HOLD_ADMIN_DEBUG"`

	// Addr is the backend address.
	Addr string `help:"HOLD Wallet backend address" default:"api.hold.example.com" env:"HOLD_ADMIN_ADDR"`

	// StateDir is where the session state is persisted.
	StateDir string `help:"Directory the session state is persisted in (defaults to ~/.hold-admin)" env:"HOLD_ADMIN_STATE_DIR"`

	// MinServerVersion is the oldest backend version worth talking to.
	MinServerVersion string `help:"Refuse backends older than this version" default:"1.0.0" env:"HOLD_ADMIN_MIN_SERVER_VERSION"`

	Version   VersionCmd   `cmd:"true" help:"Print the version and exit"`
	Configure ConfigureCmd `cmd:"true" help:"Print an example TOML configuration file"`
	Login     LoginCmd     `cmd:"true" help:"Sign in and persist the session"`
	Logout    LogoutCmd    `cmd:"true" help:"Sign out and wipe the persisted session"`
	Whoami    WhoamiCmd    `cmd:"true" help:"Show the signed-in user"`
	Addresses AddressesCmd `cmd:"true" help:"Resolve deposit addresses for a wallet"`
}

// TOML is the kong resolver function for the toml configuration file
func TOML(r io.Reader) (kong.Resolver, error) {
	config, err := toml.LoadReader(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var f kong.ResolverFunc = func(context *kong.Context, parent *kong.Path, flag *kong.Flag) (interface{}, error) {
		name := flag.Name

		value := config.Get(name)
		valueWithinSection := config.Get(strings.ReplaceAll(name, "-", "."))

		if valueWithinSection != nil {
			return valueWithinSection, nil
		}

		return value, nil
	}

	return f, nil
}
