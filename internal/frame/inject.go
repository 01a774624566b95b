// Package frame injects synthesized Ethernet frames directly on a host
// interface, the raw L2 send described in spec.md §4.6/§4.7/§4.8.
//
// It is grounded on the corpus's internal/dhcpd/conn_linux.go, which opens
// one mdlayher/packet raw socket per interface in packet.Raw mode and
// writes full Ethernet frames addressed via packet.Addr.HardwareAddr.
package frame

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/packet"
)

// Injector lazily opens and caches one raw L2 socket per interface and
// EtherType.
type Injector struct {
	mu    sync.Mutex
	conns map[string]net.PacketConn

	logger *slog.Logger
}

// NewInjector returns an empty Injector.
func NewInjector(logger *slog.Logger) *Injector {
	return &Injector{
		conns:  map[string]net.PacketConn{},
		logger: logger,
	}
}

// Send writes frame (a complete Ethernet II frame, including the 14-byte
// header) on iface, addressed at the L2 layer to dst.
//
// The reactor goroutine is the only caller of Send; the mutex exists only
// to make the cache safe to also close from a shutdown path running on a
// different goroutine.
func (inj *Injector) Send(iface string, etherType ethernet.EtherType, dst net.HardwareAddr, frame []byte) error {
	conn, err := inj.connFor(iface, etherType)
	if err != nil {
		return fmt.Errorf("opening raw socket on %s: %w", iface, err)
	}

	_, err = conn.WriteTo(frame, &packet.Addr{HardwareAddr: dst})
	if err != nil {
		return fmt.Errorf("writing frame on %s: %w", iface, err)
	}

	return nil
}

func (inj *Injector) connFor(iface string, etherType ethernet.EtherType) (net.PacketConn, error) {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	key := iface + "/" + etherType.String()
	if conn, ok := inj.conns[key]; ok {
		return conn, nil
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}

	conn, err := packet.Listen(ifi, packet.Raw, int(etherType), nil)
	if err != nil {
		return nil, err
	}

	inj.conns[key] = conn

	return conn, nil
}

// Close releases every open raw socket.
func (inj *Injector) Close() error {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	var firstErr error
	for key, conn := range inj.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}

		delete(inj.conns, key)
	}

	return firstErr
}
