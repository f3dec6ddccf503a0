// Package inventory reads groups of hosts from an INI file and fans work
// out across them.
//
// Each section is a group. Each key is a host name; its value is the
// target, either an agent address ("10.0.0.5:7070") or an SSH target
// ("ssh://deploy@10.0.0.5:22"). A bare key is its own target.
//
//	[web]
//	web1 = 10.0.0.11:7070
//	web2 = ssh://deploy@10.0.0.12
//
//	[db]
//	db1.internal:7070
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"gopkg.in/ini.v1"

	"github.com/hostwire/hostwire/pkg/errdefs"
)

// AllGroup names the implicit group holding every host.
const AllGroup = "all"

const sshScheme = "ssh://"

// Entry is one host in the inventory.
type Entry struct {
	Name   string `validate:"required"`
	Target string `validate:"required"`
}

// SSH reports whether the entry is reached by bootstrapping an agent over
// SSH.
func (e Entry) SSH() bool {
	return strings.HasPrefix(e.Target, sshScheme)
}

// SSHTarget returns the "[user@]host[:port]" part of an SSH target.
func (e Entry) SSHTarget() string {
	return strings.TrimPrefix(e.Target, sshScheme)
}

// Inventory maps group names to hosts.
type Inventory struct {
	groups map[string][]Entry
}

var validate = validator.New()

// Load reads an inventory file.
func Load(path string) (*Inventory, error) {
	return parse(path)
}

// Parse reads an inventory from data.
func Parse(data []byte) (*Inventory, error) {
	return parse(data)
}

func parse(source any) (*Inventory, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true, KeyValueDelimiters: "="}, source)
	if err != nil {
		return nil, errdefs.Configuration("failed to load inventory", err)
	}

	inv := &Inventory{groups: make(map[string][]Entry)}
	for _, section := range cfg.Sections() {
		group := section.Name()
		if group == ini.DefaultSection && len(section.Keys()) == 0 {
			continue
		}
		if group == AllGroup {
			return nil, errdefs.Configuration(fmt.Sprintf("group name %q is reserved", AllGroup), nil)
		}

		for _, key := range section.Keys() {
			e := Entry{Name: key.Name(), Target: key.Value()}
			if e.Target == "" || e.Target == "true" {
				e.Target = e.Name
			}
			if err := e.validate(); err != nil {
				return nil, errdefs.Configuration(fmt.Sprintf("invalid host %q in group %q", e.Name, group), err)
			}
			inv.groups[group] = append(inv.groups[group], e)
		}
	}
	return inv, nil
}

func (e Entry) validate() error {
	if err := validate.Struct(e); err != nil {
		return err
	}
	if e.SSH() {
		return validate.Var(e.SSHTarget(), "required")
	}
	return validate.Var(e.Target, "hostname_port")
}

// Groups returns the group names in sorted order, without AllGroup.
func (inv *Inventory) Groups() []string {
	names := make([]string, 0, len(inv.groups))
	for name := range inv.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Group returns the hosts of group. AllGroup returns every host once, in
// group order.
func (inv *Inventory) Group(group string) ([]Entry, error) {
	if group == AllGroup {
		var all []Entry
		seen := make(map[string]bool)
		for _, name := range inv.Groups() {
			for _, e := range inv.groups[name] {
				if !seen[e.Name] {
					seen[e.Name] = true
					all = append(all, e)
				}
			}
		}
		return all, nil
	}

	entries, ok := inv.groups[group]
	if !ok {
		return nil, errdefs.Configuration(fmt.Sprintf("unknown inventory group %q", group), nil)
	}
	return entries, nil
}

// ForEach runs fn for every entry with at most concurrency calls in
// flight. Every entry runs even when some fail; the failures are returned
// together as a *multierror.Error.
func ForEach(ctx context.Context, entries []Entry, concurrency int, fn func(ctx context.Context, e Entry) error) error {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var (
		mu     sync.Mutex
		result *multierror.Error
		wg     sync.WaitGroup
	)
	record := func(e Entry, err error) {
		mu.Lock()
		defer mu.Unlock()
		result = multierror.Append(result, fmt.Errorf("%s: %w", e.Name, err))
	}

	for _, e := range entries {
		if err := sem.Acquire(ctx, 1); err != nil {
			record(e, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := fn(ctx, e); err != nil {
				log.Debug().Err(err).Str("host", e.Name).Msg("host failed")
				record(e, err)
			}
		}()
	}
	wg.Wait()

	return result.ErrorOrNil()
}
