package commands

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/hostwire/hostwire/pkg/errdefs"
	"github.com/hostwire/hostwire/pkg/host"
	"github.com/hostwire/hostwire/pkg/inventory"
	"github.com/hostwire/hostwire/pkg/stores"
	"github.com/hostwire/hostwire/pkg/transports/ssh"
)

// openHost connects to the host selected by --host or --ssh, or the
// local machine when neither is set.
func (o *globalOptions) openHost(ctx context.Context) (host.Host, error) {
	switch {
	case o.SSH != "":
		return o.connectSSH(ctx, o.SSH)
	case o.Host != "":
		return host.Connect(ctx, o.Host)
	default:
		return host.NewLocal(ctx)
	}
}

// openEntry connects to an inventory host.
func (o *globalOptions) openEntry(ctx context.Context, e inventory.Entry) (host.Host, error) {
	if e.SSH() {
		return o.connectSSH(ctx, e.SSHTarget())
	}
	return host.Connect(ctx, e.Target)
}

func (o *globalOptions) connectSSH(ctx context.Context, target string) (host.Host, error) {
	cfg, err := ssh.ParseTarget(target)
	if err != nil {
		return nil, err
	}
	if o.Identity != "" {
		cfg.PrivateKeyPath = o.Identity
	}
	if o.Insecure {
		cfg.StrictHostKeyChecking = false
	}
	if o.Password {
		pw, err := o.readPassword()
		if err != nil {
			return nil, err
		}
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = pw
	}

	client, err := ssh.NewSSHClient(cfg)
	if err != nil {
		return nil, err
	}
	return host.ConnectSSH(ctx, target, client, host.AgentOptions{Path: o.AgentPath, Upload: o.Upload})
}

// readPassword prompts once per process, so group commands ask a single
// time for every SSH host.
func (o *globalOptions) readPassword() (string, error) {
	return o.password()
}

func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errdefs.Configuration("--password needs an interactive terminal", nil)
	}
	fmt.Fprint(os.Stderr, "SSH password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errdefs.Configuration("failed to read password", err)
	}
	return string(pw), nil
}

// recorder opens the history store when --store is set. The returned
// function closes it.
func (o *globalOptions) recorder(ctx context.Context) (*stores.Recorder, func(), error) {
	if o.Store == "" {
		return nil, func() {}, nil
	}
	store, err := stores.Open(ctx, o.Store)
	if err != nil {
		return nil, nil, errdefs.Configuration("failed to open history store", err)
	}
	return stores.NewRecorder(store), func() { _ = store.Close() }, nil
}

// openStore opens the history store for commands that read it.
func (o *globalOptions) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if o.Store == "" {
		return nil, errdefs.Configuration("no history store: set --store or HOSTWIRE_STORE", nil)
	}
	store, err := stores.Open(ctx, o.Store)
	if err != nil {
		return nil, errdefs.Configuration("failed to open history store", err)
	}
	return store, nil
}

// loadInventory reads --inventory.
func (o *globalOptions) loadInventory() (*inventory.Inventory, error) {
	if o.Inventory == "" {
		return nil, errdefs.Configuration("no inventory: set --inventory or HOSTWIRE_INVENTORY", nil)
	}
	return inventory.Load(o.Inventory)
}
