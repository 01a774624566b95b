// Package reconcile implements the Config Reconciler of spec.md §4.4: it
// watches a directory of binding files and keeps the Binding Store in sync
// with their contents.
package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/osutil/executil"
	"github.com/grnet/tapdhcpd/internal/binding"
	"github.com/grnet/tapdhcpd/internal/bindingfile"
	"github.com/grnet/tapdhcpd/internal/hostnet"
)

// Reconciler applies binding-file events to a binding.Store. It has a
// single caller goroutine (see internal/queue.Multiplexer); like the
// Store, it holds no lock.
type Reconciler struct {
	store     *binding.Store
	dir       string
	sysfsRoot string
	cmdCons   executil.CommandConstructor
	logger    *slog.Logger
}

// New returns a Reconciler over store, watching dir, resolving interface
// metadata under sysfsRoot and the route table via cmdCons.
func New(
	store *binding.Store,
	dir, sysfsRoot string,
	cmdCons executil.CommandConstructor,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		store:     store,
		dir:       dir,
		sysfsRoot: sysfsRoot,
		cmdCons:   cmdCons,
		logger:    logger,
	}
}

// Bootstrap enumerates dir and issues a synthetic upsert for every existing
// binding file, per spec.md §4.4 ("Initial reconciliation at startup").
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		r.upsert(ctx, entry.Name())
	}

	return nil
}

// EventKind distinguishes the two filesystem event kinds the reconciler
// reacts to, per spec.md §4.4.
type EventKind int

const (
	// EventUpsert corresponds to "file-closed-after-write".
	EventUpsert EventKind = iota
	// EventDelete corresponds to "file-deleted".
	EventDelete
)

// Event is one filesystem change the watcher has forwarded to the
// reconciler.
type Event struct {
	Kind EventKind
	Name string // interface name, i.e. the binding file's basename
}

// Handle applies one Event to the Store.
func (r *Reconciler) Handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventUpsert:
		r.upsert(ctx, ev.Name)
	case EventDelete:
		r.delete(ev.Name)
	}
}

// upsert implements spec.md §4.4's write-close handling for the binding
// file named iface.
func (r *Reconciler) upsert(ctx context.Context, iface string) {
	path := filepath.Join(r.dir, iface)

	body, err := os.Open(path)
	if err != nil {
		// The file may have been removed between the event firing and
		// this read; treat as transient, per spec.md §7.
		r.logger.WarnContext(ctx, "reading binding file", "iface", iface, "err", err)

		return
	}
	defer body.Close()

	fields, err := bindingfile.Parse(body)
	if err != nil {
		r.logger.WarnContext(ctx, "parsing binding file", "iface", iface, "err", err)

		return
	}

	c, ok := fields.Client(iface)
	if !ok {
		r.logger.WarnContext(ctx, "incomplete binding, not installed", "iface", iface)

		return
	}

	idx, ok := hostnet.Ifindex(r.sysfsRoot, iface)
	if !ok {
		r.logger.WarnContext(ctx, "stale configuration: interface not present", "iface", iface)

		return
	}

	r.store.SetIndex(iface, idx)

	subnet4, err := hostnet.ParseRoutes(ctx, r.cmdCons, c.Link, 4)
	if err != nil {
		r.logger.WarnContext(ctx, "parsing ipv4 route table", "link", c.Link, "err", err)
	}
	r.store.SetSubnet4(c.Link, subnet4)

	subnet6, err := hostnet.ParseRoutes(ctx, r.cmdCons, c.Link, 6)
	if err != nil {
		r.logger.WarnContext(ctx, "parsing ipv6 route table", "link", c.Link, "err", err)
	}
	r.store.SetSubnet6(iface, subnet6)

	r.store.UpsertClient(c)

	r.logger.InfoContext(ctx, "binding installed", "iface", iface, "mac", c.MAC.String(), "ip", c.IP())
}

// delete implements spec.md §4.4's delete-event handling for iface.
func (r *Reconciler) delete(iface string) {
	r.store.RemoveSubnet6(iface)
	r.store.RemoveClientsByIface(iface)
	r.store.RemoveIndex(iface)
}
