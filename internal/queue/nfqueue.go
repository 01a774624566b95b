package queue

import (
	"context"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	nfqueue "github.com/florianl/go-nfqueue"
	"golang.org/x/sys/unix"
)

// backlog is the maximum number of in-flight packets the kernel will queue
// before dropping, per spec.md §5/§6.
const backlog = 5000

// nfqueueHandle adapts a *nfqueue.Nfqueue to the Handle interface. Per
// SPEC_FULL.md §5, the NFQUEUE library's own read loop runs on its own
// goroutine; the registered callback here only forwards captured packets
// onto a channel and touches no shared state, preserving the
// single-writer invariant in the reactor goroutine that reads Packets().
type nfqueueHandle struct {
	nf  *nfqueue.Nfqueue
	out chan Packet
	l   *slog.Logger
}

// OpenV4 opens an NFQUEUE handle for IPv4 traffic on queue number num.
func OpenV4(ctx context.Context, num uint16, l *slog.Logger) (Handle, error) {
	return open(ctx, num, unix.AF_INET, l)
}

// OpenV6 opens an NFQUEUE handle for IPv6 traffic on queue number num.
func OpenV6(ctx context.Context, num uint16, l *slog.Logger) (Handle, error) {
	return open(ctx, num, unix.AF_INET6, l)
}

func open(ctx context.Context, num uint16, family uint8, l *slog.Logger) (Handle, error) {
	cfg := &nfqueue.Config{
		NfQueue:      num,
		MaxPacketLen: 0xffff,
		MaxQueueLen:  backlog,
		Copymode:     nfqueue.NfQnlCopyPacket,
		AfFamily:     family,
	}

	nf, err := nfqueue.Open(cfg)
	if err != nil {
		return nil, err
	}

	h := &nfqueueHandle{
		nf:  nf,
		out: make(chan Packet, backlog),
		l:   l,
	}

	hook := func(a nfqueue.Attribute) int {
		var id uint32
		if a.PacketID != nil {
			id = *a.PacketID
		}

		var ifindex int
		if a.InDev != nil {
			ifindex = int(*a.InDev)
		}

		var payload []byte
		if a.Payload != nil {
			payload = *a.Payload
		}

		select {
		case h.out <- Packet{ID: id, Ifindex: ifindex, Payload: payload}:
		default:
			h.l.WarnContext(ctx, "queue backlog full, dropping captured packet", "queue", num)
		}

		return 0
	}

	errHook := func(e error) int {
		h.l.ErrorContext(ctx, "nfqueue read loop error", slogutil.KeyError, e)

		return 0
	}

	if err = nf.RegisterWithErrorFunc(ctx, hook, errHook); err != nil {
		_ = nf.Close()

		return nil, err
	}

	return h, nil
}

// Packets implements Handle.
func (h *nfqueueHandle) Packets() <-chan Packet { return h.out }

// SetVerdict implements Handle.
func (h *nfqueueHandle) SetVerdict(_ context.Context, id uint32, v Verdict) error {
	nv := nfqueue.NfDrop
	if v == VerdictAccept {
		nv = nfqueue.NfAccept
	}

	return h.nf.SetVerdict(id, nv)
}

// Close implements Handle.
func (h *nfqueueHandle) Close() error { return h.nf.Close() }
