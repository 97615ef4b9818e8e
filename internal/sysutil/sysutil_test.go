package sysutil

import (
	"net"
	"testing"
	"time"
)

func TestWhitelistWildcard(t *testing.T) {
	w, errs := NewWhitelist([]string{"*"})
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if !w.Contains("203.0.113.5") {
		t.Fatal("expected wildcard whitelist to accept any address")
	}
}

func TestWhitelistCIDR(t *testing.T) {
	w, errs := NewWhitelist([]string{"10.0.0.0/8"})
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}
	if !w.Contains("10.1.2.3") {
		t.Fatal("expected 10.1.2.3 to match 10.0.0.0/8")
	}
	if w.Contains("203.0.113.5") {
		t.Fatal("expected 203.0.113.5 to not match 10.0.0.0/8")
	}
}

func TestWhitelistInvalidSpecIsReportedNotFatal(t *testing.T) {
	w, errs := NewWhitelist([]string{"not-a-range", "10.0.0.0/8"})
	if len(errs) != 1 {
		t.Fatalf("expected exactly one parse error, got %d", len(errs))
	}
	if !w.Contains("10.1.1.1") {
		t.Fatal("expected the valid range to still apply despite the invalid one")
	}
}

func TestClassifyAddress(t *testing.T) {
	cases := map[string]AddressClass{
		"127.0.0.1":   ClassLoopback,
		"192.168.1.1": ClassPrivate,
		"169.254.1.1": ClassLinkLocal,
		"239.1.2.3":   ClassMulticast,
		"8.8.8.8":     ClassPublic,
	}
	for ip, want := range cases {
		if got := ClassifyAddress(ip); got != want {
			t.Errorf("ClassifyAddress(%q) = %v, want %v", ip, got, want)
		}
	}
}

func TestJitterProducesValuesInRange(t *testing.T) {
	j := NewJitter(42)
	for i := 0; i < 10; i++ {
		v := j.Float64()
		if v < 0 || v >= 1 {
			t.Fatalf("jitter value out of range: %v", v)
		}
	}
}

func TestJitteredBackoffStaysWithinSpread(t *testing.T) {
	j := NewJitter(7)
	base := 10 * time.Second
	for i := 0; i < 20; i++ {
		d := j.JitteredBackoff(base, 0.5)
		if d < base || d > base+base/2 {
			t.Fatalf("backoff %v out of [%v, %v]", d, base, base+base/2)
		}
	}
}

func TestOrderAddressesIsIPv4ThenIPv6ThenLoopback(t *testing.T) {
	ips := []net.IP{
		net.ParseIP("::1"),
		net.ParseIP("2001:db8::1"),
		net.ParseIP("127.0.0.1"),
		net.ParseIP("192.168.1.5"),
		net.ParseIP("fe80::1"),
		net.ParseIP("10.0.0.1"),
	}

	got := orderAddresses(ips)
	if len(got) != len(ips) {
		t.Fatalf("got %d addresses, want %d", len(got), len(ips))
	}

	classOf := func(ip net.IP) int {
		switch {
		case ip.IsLoopback():
			return 2
		case ip.To4() != nil:
			return 0
		default:
			return 1
		}
	}

	lastClass := -1
	for _, ip := range got {
		c := classOf(ip)
		if c < lastClass {
			t.Fatalf("addresses out of order: %v (class %d) came after class %d", got, c, lastClass)
		}
		lastClass = c
	}
	if classOf(got[len(got)-1]) != 2 {
		t.Fatalf("expected a loopback address last, got %v", got)
	}
	if classOf(got[0]) != 0 {
		t.Fatalf("expected an IPv4 address first, got %v", got)
	}
}
