// Package bindingfile decodes the per-interface binding files the config
// reconciler watches, per spec.md §4.3.
package bindingfile

import (
	"bufio"
	"io"
	"net"
	"net/netip"
	"strings"

	"github.com/grnet/tapdhcpd/internal/binding"
)

// Fields is the raw, unvalidated content of one binding file.
type Fields struct {
	IPs      []string
	MAC      string
	Link     string
	Hostname string
}

// Parse decodes r into Fields. It is deliberately tolerant: lines without an
// "=", or with an unrecognized key, are skipped rather than treated as
// errors, matching the original parser's behavior. IP is repeatable across
// lines and each line's value may itself be a whitespace-separated list;
// a later IP= line replaces earlier ones rather than accumulating, mirroring
// the source parser's last-write-wins dict assignment.
func Parse(r io.Reader) (Fields, error) {
	var f Fields

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "IP":
			f.IPs = strings.Fields(value)
		case "MAC":
			f.MAC = strings.TrimSpace(value)
		case "LINK":
			f.Link = strings.TrimSpace(value)
		case "HOSTNAME":
			f.Hostname = strings.TrimSpace(value)
		}
	}

	if err := s.Err(); err != nil {
		return Fields{}, err
	}

	return f, nil
}

// Client validates f and builds a binding.Client pinned to iface. It
// returns ok == false if any required field (IP, MAC, hostname) is absent
// or malformed, per spec.md §3: "a Client is installed only if MAC ∧ IPs ∧
// hostname are all present".
func (f Fields) Client(iface string) (c *binding.Client, ok bool) {
	if f.MAC == "" || len(f.IPs) == 0 || f.Hostname == "" {
		return nil, false
	}

	mac, err := net.ParseMAC(f.MAC)
	if err != nil {
		return nil, false
	}

	ips := make([]netip.Addr, 0, len(f.IPs))
	for _, s := range f.IPs {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, false
		}

		ips = append(ips, addr)
	}

	return &binding.Client{
		MAC:      mac,
		IPs:      ips,
		Hostname: f.Hostname,
		Link:     f.Link,
		Iface:    iface,
	}, true
}
