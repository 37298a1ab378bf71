package core

import (
	"net"
	"testing"
)

func TestNewAddressFromIPv4(t *testing.T) {
	a, err := NewAddressFromIP(net.ParseIP("192.168.1.10"), 443, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Family != AddressIPv4 {
		t.Fatalf("expected AddressIPv4, got %v", a.Family)
	}
	if a.String() != "192.168.1.10:443" {
		t.Fatalf("unexpected String(): %q", a.String())
	}
}

func TestNewAddressFromIPv6(t *testing.T) {
	a, err := NewAddressFromIP(net.ParseIP("fe80::1"), 5683, "eth0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Family != AddressIPv6 {
		t.Fatalf("expected AddressIPv6, got %v", a.Family)
	}
	if a.Scope != "eth0" {
		t.Fatalf("expected scope preserved, got %q", a.Scope)
	}
	want := "[fe80::1%eth0]:5683"
	if a.String() != want {
		t.Fatalf("unexpected String(): got %q want %q", a.String(), want)
	}
}

func TestAddressEqualExplicitFieldComparison(t *testing.T) {
	a, _ := NewAddressFromIP(net.ParseIP("10.0.0.1"), 80, "")
	b, _ := NewAddressFromIP(net.ParseIP("10.0.0.1"), 80, "")
	c, _ := NewAddressFromIP(net.ParseIP("10.0.0.1"), 81, "")

	if !a.Equal(b) {
		t.Fatal("expected identical addresses to compare equal")
	}
	if a.Equal(c) {
		t.Fatal("expected differing port to break equality")
	}
	if a.Equal(AddressZero) {
		t.Fatal("a populated address must never equal the zero sentinel")
	}
}

func TestAddressZeroEqualsItself(t *testing.T) {
	if !AddressZero.Equal(AddressZero) {
		t.Fatal("AddressZero must equal itself")
	}
	if AddressZero.String() != "<none>" {
		t.Fatalf("unexpected AddressZero.String(): %q", AddressZero.String())
	}
}

func TestAddressIPv6ScopeAffectsEquality(t *testing.T) {
	a, _ := NewAddressFromIP(net.ParseIP("fe80::2"), 1, "eth0")
	b, _ := NewAddressFromIP(net.ParseIP("fe80::2"), 1, "eth1")
	if a.Equal(b) {
		t.Fatal("differing zone scope must break equality for link-local addresses")
	}
}

func TestAddressIPRoundTrip(t *testing.T) {
	ip := net.ParseIP("203.0.113.5")
	a, err := NewAddressFromIP(ip, 1, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.IP().Equal(ip) {
		t.Fatalf("IP() round-trip mismatch: got %v want %v", a.IP(), ip)
	}
}
