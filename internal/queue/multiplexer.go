package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/grnet/tapdhcpd/internal/reconcile"
)

// tick bounds how long the reactor can go without re-checking for
// cancellation when no queue or filesystem event is pending, per spec.md
// §4.5/§5.
const tick = time.Second

// Named queue roles, matching spec.md §3's "Queue binding" entity.
const (
	roleDHCP = "dhcp"
	roleRS   = "rs"
	roleNS   = "ns"
)

// Multiplexer is the Queue Multiplexer of spec.md §4.5: the single
// reactor goroutine that owns every packet-queue handle, the filesystem
// watcher, and (transitively, through the Reconciler) the Binding Store.
type Multiplexer struct {
	dhcp, rs, ns Handle // any may be nil, meaning "disabled"

	dhcpResponder, raResponder, naResponder Responder

	fsEvents    <-chan reconcile.Event
	reconciler  *reconcile.Reconciler
	injector    Injector
	logger      *slog.Logger
}

// Config bundles everything a Multiplexer needs.
type Config struct {
	DHCP, RS, NS                             Handle
	DHCPResponder, RAResponder, NAResponder  Responder
	FSEvents                                 <-chan reconcile.Event
	Reconciler                               *reconcile.Reconciler
	Injector                                 Injector
	Logger                                   *slog.Logger
}

// New returns a Multiplexer built from cfg.
func New(cfg Config) *Multiplexer {
	return &Multiplexer{
		dhcp:          cfg.DHCP,
		rs:            cfg.RS,
		ns:            cfg.NS,
		dhcpResponder: cfg.DHCPResponder,
		raResponder:   cfg.RAResponder,
		naResponder:   cfg.NAResponder,
		fsEvents:      cfg.FSEvents,
		reconciler:    cfg.Reconciler,
		injector:      cfg.Injector,
		logger:        cfg.Logger,
	}
}

// Run drives the reactor loop until ctx is canceled, the filesystem
// watcher fails (fatal, per spec.md §7), or a packet-queue channel closes.
// It never returns otherwise.
func (m *Multiplexer) Run(ctx context.Context) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-m.fsEvents:
			if !ok {
				// The watcher also closes its channel when ctx is canceled.
				if ctx.Err() != nil {
					return ctx.Err()
				}

				return errFSWatcherClosed
			}

			m.reconciler.Handle(ctx, ev)
			m.drainFS(ctx)

		case pkt, ok := <-handleChan(m.dhcp):
			if !ok {
				return errQueueClosed("dhcp")
			}

			m.drainFS(ctx)
			m.dispatch(ctx, m.dhcp, m.dhcpResponder, pkt)

		case pkt, ok := <-handleChan(m.rs):
			if !ok {
				return errQueueClosed("rs")
			}

			m.drainFS(ctx)
			m.dispatch(ctx, m.rs, m.raResponder, pkt)

		case pkt, ok := <-handleChan(m.ns):
			if !ok {
				return errQueueClosed("ns")
			}

			m.drainFS(ctx)
			m.dispatch(ctx, m.ns, m.naResponder, pkt)

		case <-ticker.C:
			// Just a wakeup to re-check ctx.Done(); no work of its own.
		}
	}
}

// handleChan returns h's packet channel, or a permanently-blocking nil
// channel if h is nil (a disabled queue), so select simply never picks
// that case.
func handleChan(h Handle) <-chan Packet {
	if h == nil {
		return nil
	}

	return h.Packets()
}

// drainFS processes every currently-pending filesystem event without
// blocking, so that config changes are always fully applied before the
// packet event that triggered this call is dispatched — the "filesystem
// events fully processed before packet events in the same iteration"
// ordering guarantee of spec.md §5.
func (m *Multiplexer) drainFS(ctx context.Context) {
	for {
		select {
		case ev, ok := <-m.fsEvents:
			if !ok {
				return
			}

			m.reconciler.Handle(ctx, ev)
		default:
			return
		}
	}
}

// dispatch runs responder over pkt, issues the verdict on h, and injects
// any synthesized reply. Every control path issues exactly one verdict,
// per spec.md invariant 1.
func (m *Multiplexer) dispatch(ctx context.Context, h Handle, responder Responder, pkt Packet) {
	verdict, reply := responder.Handle(ctx, pkt)

	if err := h.SetVerdict(ctx, pkt.ID, verdict); err != nil {
		m.logger.ErrorContext(ctx, "setting queue verdict", slogutil.KeyError, err)
	}

	if reply == nil {
		return
	}

	if err := m.injector.Send(reply.Iface, reply.EtherType, reply.Dst, reply.Frame); err != nil {
		m.logger.ErrorContext(ctx, "injecting synthesized frame", "iface", reply.Iface, slogutil.KeyError, err)
	}
}
