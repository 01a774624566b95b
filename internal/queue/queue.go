// Package queue wires the kernel packet-queue mechanism (NFQUEUE, via
// florianl/go-nfqueue) and the filesystem-watcher event source together
// into the single-threaded reactor described in spec.md §4.5 and §5.
package queue

import "context"

// Verdict is the mandatory decision every captured packet must receive
// exactly once, per spec.md invariant 1.
type Verdict int

const (
	// VerdictDrop withholds the original packet from the kernel; used
	// whenever the responder has fully handled (or rejected) the packet
	// itself.
	VerdictDrop Verdict = iota

	// VerdictAccept releases the original packet back to the kernel
	// unchanged; used by the NA responder's out-of-prefix miss path.
	VerdictAccept
)

// Packet is one captured packet handed to a responder.
type Packet struct {
	// ID is the kernel-assigned packet id, required to issue a verdict.
	ID uint32

	// Ifindex is the input device's kernel interface index.
	Ifindex int

	// Payload is the captured packet bytes, starting at the IP header
	// (NFQUEUE delivers no link-layer header).
	Payload []byte
}

// Handle is one open kernel packet-queue handle.
type Handle interface {
	// Packets returns the channel of captured packets. The Multiplexer
	// treats a closed channel as fatal per spec.md §7 ("Queue verdict
	// failure"); the NFQUEUE-backed Handle never closes it.
	Packets() <-chan Packet

	// SetVerdict issues the verdict for a previously received packet id.
	SetVerdict(ctx context.Context, id uint32, v Verdict) error

	// Close releases the queue handle.
	Close() error
}
