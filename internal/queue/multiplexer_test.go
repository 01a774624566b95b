package queue

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/mdlayher/ethernet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grnet/tapdhcpd/internal/binding"
	"github.com/grnet/tapdhcpd/internal/reconcile"
)

func TestHandleChan_disabledQueueNeverSelected(t *testing.T) {
	assert.Nil(t, handleChan(nil))
}

// fakeHandle is a test double for Handle.
type fakeHandle struct {
	pkts     chan Packet
	verdicts []Verdict
}

func (h *fakeHandle) Packets() <-chan Packet { return h.pkts }

func (h *fakeHandle) SetVerdict(_ context.Context, _ uint32, v Verdict) error {
	h.verdicts = append(h.verdicts, v)

	return nil
}

func (h *fakeHandle) Close() error { return nil }

func TestMultiplexer_fsEventsDrainedBeforeDispatch(t *testing.T) {
	store := binding.NewStore()
	store.SetIndex("tap0", 5)
	store.UpsertClient(&binding.Client{Iface: "tap0"})

	reconciler := reconcile.New(store, t.TempDir(), t.TempDir(), nil, slogutil.NewDiscardLogger())

	fsEvents := make(chan reconcile.Event, 1)
	fsEvents <- reconcile.Event{Kind: reconcile.EventDelete, Name: "tap0"}

	dhcp := &fakeHandle{pkts: make(chan Packet, 1)}
	dhcp.pkts <- Packet{ID: 1, Ifindex: 5}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawEviction bool
	responder := responderFunc(func(_ context.Context, pkt Packet) (Verdict, *Reply) {
		_, ok := store.IfaceByIndex(pkt.Ifindex)
		sawEviction = !ok
		cancel()

		return VerdictDrop, nil
	})

	m := &Multiplexer{
		dhcp:          dhcp,
		dhcpResponder: responder,
		fsEvents:      fsEvents,
		reconciler:    reconciler,
		injector:      noopInjector{},
		logger:        slogutil.NewDiscardLogger(),
	}

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit in time")
	}

	require.True(t, sawEviction, "fs delete event must be applied before the packet it raced against is dispatched")
	assert.Equal(t, []Verdict{VerdictDrop}, dhcp.verdicts)
}

// responderFunc adapts a function to the Responder interface.
type responderFunc func(context.Context, Packet) (Verdict, *Reply)

func (f responderFunc) Handle(ctx context.Context, pkt Packet) (Verdict, *Reply) { return f(ctx, pkt) }

// noopInjector is a test double for Injector that does nothing.
type noopInjector struct{}

func (noopInjector) Send(string, ethernet.EtherType, net.HardwareAddr, []byte) error { return nil }
