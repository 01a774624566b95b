package queue

import (
	"context"
	"net"

	"github.com/mdlayher/ethernet"
)

// Reply is a synthesized frame a Responder wants injected on the wire,
// alongside the verdict on the original packet.
type Reply struct {
	Iface     string
	EtherType ethernet.EtherType
	Dst       net.HardwareAddr
	Frame     []byte
}

// Responder decides the verdict for one captured packet and, optionally,
// a Reply to inject. Responders must never block: per spec.md §5 "all
// handlers are non-blocking and MUST return promptly".
type Responder interface {
	Handle(ctx context.Context, pkt Packet) (Verdict, *Reply)
}

// Injector sends a synthesized Reply on the wire. Implemented by
// internal/frame.Injector.
type Injector interface {
	Send(iface string, etherType ethernet.EtherType, dst net.HardwareAddr, frame []byte) error
}
