package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gravitational/trace"
	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"

	"github.com/holdwallet/gateway/addresses"
	"github.com/holdwallet/gateway/gateway"
	"github.com/holdwallet/gateway/gateway/credentials"
	"github.com/holdwallet/gateway/gateway/kv"
	"github.com/holdwallet/gateway/lib"
)

const exampleConfig = `# hold-admin configuration file
addr = "api.hold.example.com"
state-dir = "/var/lib/hold-admin"
min-server-version = "1.0.0"
debug = false
`

// newGateway builds the gateway with the full credential source stack:
// memory, durable disk state, persisted envelope, session backup and the
// exhaustive scan recovery path.
func newGateway() (*gateway.Client, error) {
	stateDir := cli.StateDir
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		stateDir = filepath.Join(home, ".hold-admin")
	}

	durable := credentials.NewDurableSource(filepath.Join(stateDir, "session"), nil)
	store := kv.NewDiskStore(filepath.Join(stateDir, "storage"))

	resolver, err := credentials.NewResolver(
		credentials.NewMemorySource(),
		durable,
		credentials.NewEnvelopeSource(store, ""),
		credentials.NewBackupSource(kv.NewMemoryStore(), nil),
		credentials.NewScanSource(store),
	)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	client, err := gateway.NewClient(gateway.Config{
		Addr: cli.Addr,
		OnSessionExpired: func() {
			fmt.Println("Session expired. Run `hold-admin login` to sign in again.")
		},
	}, resolver, durable)
	return client, trace.Wrap(err)
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	lib.PrintVersion("hold-admin", Version, Gitref)
	return nil
}

type ConfigureCmd struct{}

func (c *ConfigureCmd) Run() error {
	fmt.Print(exampleConfig)
	return nil
}

type LoginCmd struct {
	Email string `help:"Account email" required:"true"`
}

func (c *LoginCmd) Run() error {
	ctx := context.Background()

	client, err := newGateway()
	if err != nil {
		return trace.Wrap(err)
	}

	if cli.MinServerVersion != "" {
		status, err := client.Health(ctx)
		if err != nil {
			return trace.Wrap(err)
		}
		if err := lib.AssertServerVersion(status.Version, cli.MinServerVersion); err != nil {
			return trace.Wrap(err)
		}
	}

	prompt := promptui.Prompt{Label: "Password", Mask: '*'}
	password, err := prompt.Run()
	if err != nil {
		return trace.Wrap(err)
	}

	cred, err := client.Login(ctx, c.Email, password)
	if err != nil {
		return trace.Wrap(err)
	}

	fmt.Printf("Signed in as %s <%s>\n", cred.User.Name, cred.User.Email)
	return nil
}

type LogoutCmd struct{}

func (c *LogoutCmd) Run() error {
	client, err := newGateway()
	if err != nil {
		return trace.Wrap(err)
	}
	if err := client.Logout(context.Background()); err != nil {
		return trace.Wrap(err)
	}
	fmt.Println("Signed out.")
	return nil
}

type WhoamiCmd struct{}

func (c *WhoamiCmd) Run() error {
	client, err := newGateway()
	if err != nil {
		return trace.Wrap(err)
	}

	user, err := client.CurrentUser(context.Background())
	if err != nil {
		if gateway.IsReauthRequired(err) {
			return trace.Wrap(err, "the backend requires additional verification for this account")
		}
		return trace.Wrap(err)
	}

	fmt.Printf("%s <%s> role:%s id:%s\n", user.Name, user.Email, user.Role, user.ID)
	return nil
}

type AddressesCmd struct {
	Wallet   string   `help:"Wallet ID" required:"true"`
	Networks []string `help:"Networks to resolve" default:"bitcoin,ethereum,tron"`
	Priority string   `help:"Network to resolve first"`
}

func (c *AddressesCmd) Run() error {
	client, err := newGateway()
	if err != nil {
		return trace.Wrap(err)
	}

	service, err := addresses.NewService(addresses.Config{Gateway: client})
	if err != nil {
		return trace.Wrap(err)
	}

	resolved, err := service.Resolve(context.Background(), c.Wallet, c.Networks, addresses.ResolveOptions{
		PriorityNetwork: c.Priority,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	networks := make([]string, len(c.Networks))
	copy(networks, c.Networks)
	sort.Strings(networks)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Network", "Address"})
	for _, network := range networks {
		address, ok := resolved[network]
		if !ok {
			address = "-"
		}
		table.Append([]string{network, address})
	}
	table.Render()
	return nil
}
