// Package address implements the tagged-union endpoint address used
// throughout the accelerator's wire formats: none, ipv4, or ipv6, each
// carrying a port.
package address

import (
	"fmt"
	"net"
	"net/netip"

	"go4.org/netipx"
)

// Type discriminates the address union.
type Type uint8

const (
	None Type = iota
	IPv4
	IPv6
)

// Address is a structural tagged union, never a pointer graph: Session
// and Route records embed it by value.
type Address struct {
	Type Type
	IP4  [4]byte
	IP6  [8]uint16
	Port uint16
}

// Parse accepts "host:port" for both IPv4 ("1.2.3.4:5") and bracketed
// IPv6 ("[::1]:5") forms.
func Parse(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("address: parse %q: %w", s, err)
	}
	addrPort, err := netip.ParseAddrPort(net.JoinHostPort(host, portStr))
	if err != nil {
		// net.JoinHostPort re-brackets IPv6; fall back to manual parse.
		ip, perr := netip.ParseAddr(host)
		if perr != nil {
			return Address{}, fmt.Errorf("address: parse %q: %w", s, err)
		}
		var port uint16
		if _, perr := fmt.Sscanf(portStr, "%d", &port); perr != nil {
			return Address{}, fmt.Errorf("address: parse port %q: %w", portStr, perr)
		}
		return FromNetipAddr(ip, port), nil
	}
	return FromNetipAddr(addrPort.Addr(), addrPort.Port()), nil
}

// FromNetipAddr builds an Address from a netip.Addr, collapsing a
// v4-mapped v6 address to plain v4 per the data model's stated rule.
func FromNetipAddr(ip netip.Addr, port uint16) Address {
	if ip.Is4In6() {
		ip = netip.AddrFrom4(ip.As4())
	}
	if ip.Is4() {
		return Address{Type: IPv4, IP4: ip.As4(), Port: port}
	}
	b := ip.As16()
	var groups [8]uint16
	for i := 0; i < 8; i++ {
		groups[i] = uint16(b[i*2])<<8 | uint16(b[i*2+1])
	}
	return Address{Type: IPv6, IP6: groups, Port: port}
}

// FromUDPAddr builds an Address from a net.UDPAddr, as produced by
// net.ListenUDP/ReadFromUDP.
func FromUDPAddr(a *net.UDPAddr) Address {
	if a == nil {
		return Address{}
	}
	addr, ok := netip.AddrFromSlice(a.IP)
	if !ok {
		return Address{}
	}
	return FromNetipAddr(addr, uint16(a.Port))
}

// UDPAddr converts back to the standard library's representation for
// use with net.UDPConn.
func (a Address) UDPAddr() *net.UDPAddr {
	switch a.Type {
	case IPv4:
		return &net.UDPAddr{IP: net.IP(a.IP4[:]), Port: int(a.Port)}
	case IPv6:
		b := make(net.IP, 16)
		for i, g := range a.IP6 {
			b[i*2] = byte(g >> 8)
			b[i*2+1] = byte(g)
		}
		return &net.UDPAddr{IP: b, Port: int(a.Port)}
	default:
		return nil
	}
}

// Equal is structural equality over the tagged union.
func (a Address) Equal(b Address) bool {
	if a.Type != b.Type || a.Port != b.Port {
		return false
	}
	switch a.Type {
	case IPv4:
		return a.IP4 == b.IP4
	case IPv6:
		return a.IP6 == b.IP6
	default:
		return true
	}
}

// String renders "ip:port" (bracketed for IPv6), or "none".
func (a Address) String() string {
	switch a.Type {
	case IPv4:
		ip := netip.AddrFrom4(a.IP4)
		return netip.AddrPortFrom(ip, a.Port).String()
	case IPv6:
		var b [16]byte
		for i, g := range a.IP6 {
			b[i*2] = byte(g >> 8)
			b[i*2+1] = byte(g)
		}
		ip := netip.AddrFrom16(b)
		return netip.AddrPortFrom(ip, a.Port).String()
	default:
		return "none"
	}
}

// Bytes returns the address payload (4 or 16 bytes, big-endian groups
// for v6) used as AEAD/filter input material; it never includes the
// port. Matches next_address_data from the reference implementation.
func (a Address) Bytes() []byte {
	switch a.Type {
	case IPv4:
		out := make([]byte, 4)
		copy(out, a.IP4[:])
		return out
	case IPv6:
		out := make([]byte, 16)
		for i, g := range a.IP6 {
			out[i*2] = byte(g >> 8)
			out[i*2+1] = byte(g)
		}
		return out
	default:
		return nil
	}
}

// IsNone reports whether this is the zero-value "no address" member.
func (a Address) IsNone() bool { return a.Type == None }

// InRange reports whether a falls within the given netipx IP range,
// used for anonymizing/allow-listing backend-provided relay addresses.
func InRange(a Address, r netipx.IPRange) bool {
	if a.Type == None {
		return false
	}
	var ip netip.Addr
	if a.Type == IPv4 {
		ip = netip.AddrFrom4(a.IP4)
	} else {
		var b [16]byte
		for i, g := range a.IP6 {
			b[i*2] = byte(g >> 8)
			b[i*2+1] = byte(g)
		}
		ip = netip.AddrFrom16(b)
	}
	return r.Contains(ip)
}
