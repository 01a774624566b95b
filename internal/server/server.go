// Package server wires the Binding Store, Config Reconciler, Queue
// Multiplexer, and Frame Injector of spec.md §4 into one runnable whole,
// grounded on the corpus's internal/dhcpsvc.DHCPServer's
// New/Start/Shutdown lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/osutil/executil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/grnet/tapdhcpd/internal/binding"
	"github.com/grnet/tapdhcpd/internal/frame"
	"github.com/grnet/tapdhcpd/internal/queue"
	"github.com/grnet/tapdhcpd/internal/reconcile"
	"github.com/grnet/tapdhcpd/internal/respond"
)

// Config bundles everything Server needs. A nil queue number pointer
// disables that queue, per spec.md §3's "may be independently disabled".
type Config struct {
	// BindingDir is the directory of per-interface binding files, per
	// spec.md §4.3.
	BindingDir string

	// SysfsRoot is the root of the sysfs network tree used to resolve
	// interface metadata, per spec.md §4.2.
	SysfsRoot string

	// DHCPQueue, RSQueue, NSQueue are the NFQUEUE numbers to bind, or nil
	// to disable that responder entirely.
	DHCPQueue, RSQueue, NSQueue *uint16

	// Resolvers are up to two operator-chosen recursive resolver
	// addresses handed out in DHCP replies, per spec.md §6.
	Resolvers []netip.Addr

	// CmdCons constructs the "ip route" subprocess used to derive subnet
	// metadata, per spec.md §4.1.
	CmdCons executil.CommandConstructor

	Logger *slog.Logger
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config. Per
// spec.md §9 open question 1, two enabled queues sharing one queue number
// is a startup-time configuration error, not a runtime race to detect.
func (cfg *Config) Validate() (err error) {
	if cfg == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("BindingDir", cfg.BindingDir),
		validate.NotEmpty("SysfsRoot", cfg.SysfsRoot),
		validate.NotNil("Logger", cfg.Logger),
	}

	if len(cfg.Resolvers) > 2 {
		errs = append(errs, fmt.Errorf("Resolvers: %w: got %d, want at most 2", errors.ErrOutOfRange, len(cfg.Resolvers)))
	}

	type named struct {
		name string
		num  *uint16
	}

	queues := []named{{"DHCPQueue", cfg.DHCPQueue}, {"RSQueue", cfg.RSQueue}, {"NSQueue", cfg.NSQueue}}
	for i, a := range queues {
		if a.num == nil {
			continue
		}

		for _, b := range queues[i+1:] {
			if b.num != nil && *a.num == *b.num {
				errs = append(errs, fmt.Errorf("%s and %s must not share queue number %d", a.name, b.name, *a.num))
			}
		}
	}

	return errors.Join(errs...)
}

// Server is the assembled responder: one Binding Store, one Config
// Reconciler (plus its filesystem Watcher), one Queue Multiplexer driving
// up to three NFQUEUE handles, and one Frame Injector.
type Server struct {
	store      *binding.Store
	watcher    *reconcile.Watcher
	reconciler *reconcile.Reconciler
	mux        *queue.Multiplexer
	injector   *frame.Injector
	handles    []queue.Handle

	logger *slog.Logger

	cancel context.CancelFunc
	done   chan error
}

// New builds a Server: it opens the filesystem watcher and every enabled
// NFQUEUE handle, and runs the initial reconciliation pass of spec.md
// §4.4 before returning, so that the first packet the reactor sees can
// already be answered.
func New(ctx context.Context, cfg Config) (srv *Server, err error) {
	store := binding.NewStore()

	watcher, err := reconcile.NewWatcher(cfg.BindingDir, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening binding directory watcher: %w", err)
	}

	reconciler := reconcile.New(store, cfg.BindingDir, cfg.SysfsRoot, cfg.CmdCons, cfg.Logger)
	if err = reconciler.Bootstrap(ctx); err != nil {
		_ = watcher.Close()

		return nil, fmt.Errorf("initial reconciliation: %w", err)
	}

	injector := frame.NewInjector(cfg.Logger)

	var handles []queue.Handle
	closeHandles := func() {
		for _, h := range handles {
			_ = h.Close()
		}
	}

	dhcpH, err := openQueue(ctx, cfg.DHCPQueue, queue.OpenV4, cfg.Logger)
	if err != nil {
		closeHandles()
		_ = watcher.Close()

		return nil, fmt.Errorf("opening dhcp queue: %w", err)
	}
	if dhcpH != nil {
		handles = append(handles, dhcpH)
	}

	rsH, err := openQueue(ctx, cfg.RSQueue, queue.OpenV6, cfg.Logger)
	if err != nil {
		closeHandles()
		_ = watcher.Close()

		return nil, fmt.Errorf("opening rs queue: %w", err)
	}
	if rsH != nil {
		handles = append(handles, rsH)
	}

	nsH, err := openQueue(ctx, cfg.NSQueue, queue.OpenV6, cfg.Logger)
	if err != nil {
		closeHandles()
		_ = watcher.Close()

		return nil, fmt.Errorf("opening ns queue: %w", err)
	}
	if nsH != nil {
		handles = append(handles, nsH)
	}

	mux := queue.New(queue.Config{
		DHCP: dhcpH,
		RS:   rsH,
		NS:   nsH,
		DHCPResponder: &respond.DHCPv4{
			Store:     store,
			SysfsRoot: cfg.SysfsRoot,
			Resolvers: cfg.Resolvers,
			Logger:    cfg.Logger,
		},
		RAResponder: &respond.RouterAdvertisement{
			Store:     store,
			SysfsRoot: cfg.SysfsRoot,
			Logger:    cfg.Logger,
		},
		NAResponder: &respond.NeighborAdvertisement{
			Store:     store,
			SysfsRoot: cfg.SysfsRoot,
			Logger:    cfg.Logger,
		},
		FSEvents:   watcher.Events(),
		Reconciler: reconciler,
		Injector:   injector,
		Logger:     cfg.Logger,
	})

	return &Server{
		store:      store,
		watcher:    watcher,
		reconciler: reconciler,
		mux:        mux,
		injector:   injector,
		handles:    handles,
		logger:     cfg.Logger,
	}, nil
}

// openQueue opens num via open, or returns a nil Handle if num is nil
// (the queue is disabled).
func openQueue(
	ctx context.Context,
	num *uint16,
	open func(context.Context, uint16, *slog.Logger) (queue.Handle, error),
	logger *slog.Logger,
) (queue.Handle, error) {
	if num == nil {
		return nil, nil
	}

	return open(ctx, *num, logger)
}

// Start launches the filesystem watcher and the reactor loop on their own
// goroutines and returns immediately. Spontaneous termination (a fatal
// queue or watcher failure, per spec.md §7) is reported on the channel
// Done returns.
func (srv *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	srv.cancel = cancel
	srv.done = make(chan error, 1)

	go srv.watcher.Run(runCtx)

	go func() {
		srv.done <- srv.mux.Run(runCtx)
	}()
}

// Done returns the channel on which Server reports the reactor loop's
// exit error: context.Canceled on a clean Shutdown, or a fatal error per
// spec.md §7 otherwise.
func (srv *Server) Done() <-chan error { return srv.done }

// Reenumerate re-runs the initial reconciliation pass of spec.md §4.4
// against the binding directory's current contents, as an operator-driven
// refresh alongside the filesystem watcher's incremental updates.
func (srv *Server) Reenumerate(ctx context.Context) error {
	return srv.reconciler.Bootstrap(ctx)
}

// Shutdown stops the reactor loop and releases every open resource:
// NFQUEUE handles, the filesystem watcher, and cached raw sockets.
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.cancel != nil {
		srv.cancel()
	}

	var runErr error
	if srv.done != nil {
		select {
		case runErr = <-srv.done:
		case <-ctx.Done():
			runErr = ctx.Err()
		}
	}

	for _, h := range srv.handles {
		if err := h.Close(); err != nil {
			srv.logger.ErrorContext(ctx, "closing queue handle", "err", err)
		}
	}

	if err := srv.watcher.Close(); err != nil {
		srv.logger.ErrorContext(ctx, "closing filesystem watcher", "err", err)
	}

	if err := srv.injector.Close(); err != nil {
		srv.logger.ErrorContext(ctx, "closing raw sockets", "err", err)
	}

	return runErr
}
