// Command tapdhcpd is the process entry point of SPEC_FULL.md §10: it
// parses the CLI surface of spec.md §6, boots a slogutil logger, builds
// the core Server, and drives its lifecycle from OS signals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil/executil"
	"github.com/google/renameio/v2/maybe"
	"github.com/grnet/tapdhcpd/internal/server"
)

// resolverList is a flag.Value collecting up to two repeatable -resolver
// addresses, per SPEC_FULL.md §10.
type resolverList []netip.Addr

func (r *resolverList) String() string {
	if r == nil {
		return ""
	}

	return fmt.Sprint([]netip.Addr(*r))
}

func (r *resolverList) Set(s string) error {
	if len(*r) >= 2 {
		return fmt.Errorf("at most 2 -resolver flags are accepted")
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return fmt.Errorf("parsing resolver address %q: %w", s, err)
	}

	*r = append(*r, addr)

	return nil
}

// shutdownTimeout bounds how long Shutdown waits for the reactor loop to
// exit cleanly before giving up.
const shutdownTimeout = 5 * time.Second

func main() {
	var (
		path       = flag.String("path", "/etc/tapdhcpd/bindings", "directory of per-interface binding files")
		user_      = flag.String("user", "", "drop privileges to this user after startup")
		debug      = flag.Bool("debug", false, "log at debug level")
		foreground = flag.Bool("foreground", false, "log to stdout instead of stderr")
		pidfile    = flag.String("pidfile", "/var/run/tapdhcpd.pid", "PID file path")
	)

	var dhcpQueue, rsQueue, nsQueue uint16
	var dhcpSet, rsSet, nsSet bool

	flag.Var(queueFlagSetTracker{&dhcpQueue, &dhcpSet}, "dhcp-queue", "NFQUEUE number for DHCPv4 traffic (disabled if unset)")
	flag.Var(queueFlagSetTracker{&rsQueue, &rsSet}, "rs-queue", "NFQUEUE number for IPv6 router solicitations (disabled if unset)")
	flag.Var(queueFlagSetTracker{&nsQueue, &nsSet}, "ns-queue", "NFQUEUE number for IPv6 neighbor solicitations (disabled if unset)")

	var resolvers resolverList
	flag.Var(&resolvers, "resolver", "recursive resolver address handed out in DHCP replies (repeatable, up to 2)")

	flag.Parse()

	out := os.Stderr
	if *foreground {
		out = os.Stdout
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}

	logger := slogutil.New(&slogutil.Config{
		Format:       slogutil.FormatAdGuardLegacy,
		Level:        level,
		Output:       out,
		AddTimestamp: true,
	})

	ctx := context.Background()

	if err := run(ctx, logger, runArgs{
		path:      *path,
		user:      *user_,
		pidfile:   *pidfile,
		resolvers: resolvers,
		dhcpQueue: optionalQueue(dhcpSet, dhcpQueue),
		rsQueue:   optionalQueue(rsSet, rsQueue),
		nsQueue:   optionalQueue(nsSet, nsQueue),
	}); err != nil {
		logger.ErrorContext(ctx, "fatal", slogutil.KeyError, err)
		os.Exit(1)
	}
}

// queueFlagSetTracker adapts a *uint16 destination plus a presence flag
// into a flag.Value, so an absent flag is distinguishable from an
// explicit "0".
type queueFlagSetTracker struct {
	n  *uint16
	ok *bool
}

func (q queueFlagSetTracker) String() string { return "" }

func (q queueFlagSetTracker) Set(s string) error {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("parsing queue number %q: %w", s, err)
	}

	*q.n = uint16(v)
	*q.ok = true

	return nil
}

func optionalQueue(set bool, n uint16) *uint16 {
	if !set {
		return nil
	}

	return &n
}

// runArgs bundles the parsed CLI surface.
type runArgs struct {
	path      string
	user      string
	pidfile   string
	resolvers []netip.Addr
	dhcpQueue *uint16
	rsQueue   *uint16
	nsQueue   *uint16
}

// run builds and drives the Server until a shutdown signal or a fatal
// error, per SPEC_FULL.md §10.
func run(ctx context.Context, logger *slog.Logger, args runArgs) error {
	cfg := server.Config{
		BindingDir: args.path,
		SysfsRoot:  "/sys/class/net",
		DHCPQueue:  args.dhcpQueue,
		RSQueue:    args.rsQueue,
		NSQueue:    args.nsQueue,
		Resolvers:  args.resolvers,
		CmdCons:    executil.SystemCommandConstructor{},
		Logger:     logger,
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	if err = writePIDFile(args.pidfile); err != nil {
		logger.WarnContext(ctx, "writing pid file", "path", args.pidfile, slogutil.KeyError, err)
	} else {
		defer func() { _ = os.Remove(args.pidfile) }()
	}

	if args.user != "" {
		if err = dropPrivileges(args.user); err != nil {
			return fmt.Errorf("dropping privileges to %q: %w", args.user, err)
		}

		logger.InfoContext(ctx, "dropped privileges", "user", args.user)
	}

	srv.Start(ctx)
	logger.InfoContext(ctx, "tapdhcpd started", "path", args.path)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				logger.InfoContext(ctx, "sighup received, re-enumerating binding directory")

				if err = srv.Reenumerate(ctx); err != nil {
					logger.ErrorContext(ctx, "re-enumeration failed", slogutil.KeyError, err)
				}

				continue
			}

			logger.InfoContext(ctx, "shutting down", "signal", s)

			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)

		case err = <-srv.Done():
			return fmt.Errorf("reactor loop exited: %w", err)
		}
	}
}

// writePIDFile atomically writes the current process id to path, per
// SPEC_FULL.md §6's PID-file note.
func writePIDFile(path string) error {
	return maybe.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// dropPrivileges switches the process's effective and real uid/gid to
// username's, after every privileged socket has already been opened.
func dropPrivileges(username string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("looking up user %q: %w", username, err)
	}

	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("parsing gid %q: %w", u.Gid, err)
	}

	if err = syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}

	if err = syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", uid, err)
	}

	return nil
}
