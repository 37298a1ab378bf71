package core

import (
	"fmt"
	"net"
)

// AddressFamily distinguishes the two concrete shapes an Address can take.
// Modelled as a sum type per spec.md §3, resolved as an explicit tag rather
// than relying on zero-value discrimination, so a zero-value Address is
// never mistaken for a valid IPv4 address.
type AddressFamily uint8

const (
	AddressNone AddressFamily = iota
	AddressIPv4
	AddressIPv6
)

// Address is the resolved form of a Uri's host: either an IPv4 endpoint or
// an IPv6 endpoint with zone scope. Equality is always explicit
// field-by-field comparison (spec.md §9 open question) — never a raw byte
// or struct memcmp, since Go gives no guarantee about the contents of the
// padding between the fields below.
type Address struct {
	Family AddressFamily
	V4     [4]byte
	V6     [16]byte
	Scope  string
	Port   uint16
}

// AddressZero is the sentinel empty address, analogous to the teacher's
// AddressZero token-address constant: a single read-only package value
// other code compares against instead of constructing ad hoc zero values.
var AddressZero = Address{}

// NewAddressFromIP builds an Address from a net.IP/port pair, selecting the
// family from the IP's 4-in-6 or plain 16-byte form.
func NewAddressFromIP(ip net.IP, port uint16, scope string) (Address, error) {
	if v4 := ip.To4(); v4 != nil {
		var a Address
		a.Family = AddressIPv4
		copy(a.V4[:], v4)
		a.Port = port
		return a, nil
	}
	if v6 := ip.To16(); v6 != nil {
		var a Address
		a.Family = AddressIPv6
		copy(a.V6[:], v6)
		a.Port = port
		a.Scope = scope
		return a, nil
	}
	return Address{}, fmt.Errorf("core: invalid IP %q", ip.String())
}

// Equal performs explicit field comparison, matching the spec's "treat
// equality as explicit field comparison" resolution of the open memcmp
// question. Two AddressNone values are equal when their ports match; their
// address and scope fields are not compared.
func (a Address) Equal(b Address) bool {
	if a.Family != b.Family || a.Port != b.Port {
		return false
	}
	switch a.Family {
	case AddressIPv4:
		return a.V4 == b.V4
	case AddressIPv6:
		return a.V6 == b.V6 && a.Scope == b.Scope
	default:
		return true
	}
}

// IP reconstructs a net.IP for dialing.
func (a Address) IP() net.IP {
	switch a.Family {
	case AddressIPv4:
		return net.IP(a.V4[:])
	case AddressIPv6:
		return net.IP(a.V6[:])
	default:
		return nil
	}
}

func (a Address) String() string {
	switch a.Family {
	case AddressIPv4:
		return fmt.Sprintf("%s:%d", a.IP().String(), a.Port)
	case AddressIPv6:
		if a.Scope != "" {
			return fmt.Sprintf("[%s%%%s]:%d", a.IP().String(), a.Scope, a.Port)
		}
		return fmt.Sprintf("[%s]:%d", a.IP().String(), a.Port)
	default:
		return "<none>"
	}
}
