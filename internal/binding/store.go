package binding

// macKey is the canonical lookup key for a Client, grounded on the
// corpus's dhcpsvc.macToKey convention of keying leases by hardware
// address string rather than by net.HardwareAddr (which is not
// comparable as a map key).
type macKey = string

// Store is the authoritative registry described in spec.md §3/§4.2: a
// mac→Client map, an ifindex↔iface-name map, and the two subnet maps
// (IPv4 keyed by link, IPv6 keyed by interface name).
//
// Store has a single writer, the config reconciler, and is read by the
// packet responders on the same goroutine (see internal/queue.Multiplexer).
// It holds no lock; see spec.md §5.
type Store struct {
	clients map[macKey]*Client

	ifaceByIndex map[int]string
	indexByIface map[string]int

	subnet4ByLink  map[string]*Subnet
	subnet6ByIface map[string]*Subnet
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		clients:        map[macKey]*Client{},
		ifaceByIndex:   map[int]string{},
		indexByIface:   map[string]int{},
		subnet4ByLink:  map[string]*Subnet{},
		subnet6ByIface: map[string]*Subnet{},
	}
}

// UpsertClient installs c, replacing any prior Client with the same MAC.
func (s *Store) UpsertClient(c *Client) {
	s.clients[c.MAC.String()] = c
}

// ClientByMAC returns the Client registered under mac, if any.
func (s *Store) ClientByMAC(mac string) (c *Client, ok bool) {
	c, ok = s.clients[mac]

	return c, ok
}

// RemoveClientsByIface deletes every Client pinned to iface.
func (s *Store) RemoveClientsByIface(iface string) {
	// Collect keys first: mutating a map while ranging over it is legal
	// in Go for deletion, but the original source's equivalent bug (see
	// spec.md §9, open question 3) is a useful reminder to be explicit
	// about the two-pass shape here.
	var stale []macKey
	for mac, c := range s.clients {
		if c.Iface == iface {
			stale = append(stale, mac)
		}
	}

	for _, mac := range stale {
		delete(s.clients, mac)
	}
}

// SetIndex records that iface has kernel interface index idx.
func (s *Store) SetIndex(iface string, idx int) {
	if old, ok := s.indexByIface[iface]; ok {
		delete(s.ifaceByIndex, old)
	}

	s.indexByIface[iface] = idx
	s.ifaceByIndex[idx] = iface
}

// RemoveIndex forgets the ifindex↔iface-name entry for iface.
func (s *Store) RemoveIndex(iface string) {
	if idx, ok := s.indexByIface[iface]; ok {
		delete(s.ifaceByIndex, idx)
		delete(s.indexByIface, iface)
	}
}

// IfaceByIndex resolves a captured packet's input-device index to an
// interface name.
func (s *Store) IfaceByIndex(idx int) (iface string, ok bool) {
	iface, ok = s.ifaceByIndex[idx]

	return iface, ok
}

// SetSubnet4 replaces the IPv4 Subnet for link. A nil subnet is stored as
// the zero value, matching the "absent component yields None fields"
// tolerance required by spec.md §4.1.
func (s *Store) SetSubnet4(link string, subnet *Subnet) {
	if subnet == nil {
		subnet = &Subnet{}
	}

	s.subnet4ByLink[link] = subnet
}

// Subnet4 returns the IPv4 Subnet derived for link.
func (s *Store) Subnet4(link string) (subnet *Subnet, ok bool) {
	subnet, ok = s.subnet4ByLink[link]

	return subnet, ok
}

// SetSubnet6 replaces the IPv6 Subnet for iface.
func (s *Store) SetSubnet6(iface string, subnet *Subnet) {
	if subnet == nil {
		subnet = &Subnet{}
	}

	s.subnet6ByIface[iface] = subnet
}

// Subnet6 returns the IPv6 Subnet derived for iface.
func (s *Store) Subnet6(iface string) (subnet *Subnet, ok bool) {
	subnet, ok = s.subnet6ByIface[iface]

	return subnet, ok
}

// RemoveSubnet6 deletes the IPv6 Subnet entry for iface. Per spec.md §4.4,
// deletion does not touch the IPv4 subnet map, since subnet4ByLink is keyed
// by the shared bridge link and may still be in use by other interfaces.
func (s *Store) RemoveSubnet6(iface string) {
	delete(s.subnet6ByIface, iface)
}
