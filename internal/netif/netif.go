// Package netif enumerates broadcast-eligible network interfaces.
package netif

import (
	"net"
	"net/netip"
	"strings"
)

// Family is the address family of a selected interface address.
type Family int

const (
	IPv4 Family = iota + 1
	IPv6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	default:
		return "invalid"
	}
}

// Network returns the net package network string for dialing.
func (f Family) Network() string {
	if f == IPv6 {
		return "udp6"
	}
	return "udp4"
}

// Record describes one eligible interface address for a single broadcast
// cycle. Records are produced fresh per Select call and must not be retained:
// interfaces can appear, disappear, or renumber between cycles.
type Record struct {
	Name      string
	Family    Family
	Addr      netip.Addr // unicast address on the interface
	Broadcast netip.Addr // send target
	Zone      string     // IPv6 scope zone, empty for IPv4
}

// allNodes is the link-local all-nodes group, the closest IPv6 analog to a
// subnet broadcast. Richer v6 semantics are out of scope.
var allNodes = netip.MustParseAddr("ff02::1")

// Select enumerates the host interfaces and keeps one Record per address
// that has a usable family and, when allowList is non-empty, whose interface
// name contains at least one allow-list entry as a substring. The substring
// match is deliberate ("eth" matches both eth0 and eth1); deployed setups
// rely on it.
func Select(allowList []string) ([]Record, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, iface := range ifaces {
		if !nameAllowed(iface.Name, allowList) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			// A single vanished interface must not abort the cycle.
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if ok {
				if rec, ok := recordFor(iface.Name, ipn); ok {
					out = append(out, rec)
				}
			}
		}
	}
	return out, nil
}

func nameAllowed(name string, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}
	for _, want := range allowList {
		if want == "" {
			continue
		}
		if strings.Contains(name, want) {
			return true
		}
	}
	return false
}

func recordFor(name string, ipn *net.IPNet) (Record, bool) {
	addr, ok := netip.AddrFromSlice(ipn.IP)
	if !ok {
		return Record{}, false
	}
	addr = addr.Unmap()

	if addr.Is4() {
		bcast, ok := broadcast4(ipn)
		if !ok {
			return Record{}, false
		}
		return Record{Name: name, Family: IPv4, Addr: addr, Broadcast: bcast}, true
	}

	// IPv6: no broadcast; target the all-nodes group scoped to this interface.
	return Record{
		Name:      name,
		Family:    IPv6,
		Addr:      addr,
		Broadcast: allNodes,
		Zone:      name,
	}, true
}

// broadcast4 computes the directed broadcast address: addr | ^mask.
func broadcast4(ipn *net.IPNet) (netip.Addr, bool) {
	ip4 := ipn.IP.To4()
	mask := ipn.Mask
	if ip4 == nil || len(mask) != net.IPv4len {
		return netip.Addr{}, false
	}
	var b [4]byte
	for i := 0; i < 4; i++ {
		b[i] = ip4[i] | ^mask[i]
	}
	return netip.AddrFrom4(b), true
}
