// Package sysutil gathers the small host-facing utilities every
// listener and rate limiter needs: IP whitelist checks against
// CIDR/range expressions, network interface enumeration, a cached
// hostname, and a deterministic PRNG for jittered backoffs.
package sysutil

import (
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/netdata/go.d.plugin/pkg/iprange"
)

// Whitelist checks an IP address against a set of range expressions
// ("*", single IPs, or CIDR notation), generalized from the
// reference server's isIPExempted — which re-parsed its whitelist
// string on every single connection. Here the ranges are parsed once
// and reused.
type Whitelist struct {
	mu       sync.RWMutex
	wildcard bool
	ranges   []iprange.Range
}

// NewWhitelist parses specs once, skipping (and logging via the
// returned errs slice) any expression that fails to parse rather than
// failing the whole whitelist.
func NewWhitelist(specs []string) (*Whitelist, []error) {
	w := &Whitelist{}
	var errs []error

	for _, s := range specs {
		if s == "*" {
			w.wildcard = true
			continue
		}
		r, err := iprange.ParseRange(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		w.ranges = append(w.ranges, r)
	}

	return w, errs
}

// Contains reports whether ip is covered by the whitelist.
func (w *Whitelist) Contains(ipStr string) bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.wildcard {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, r := range w.ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// ClassifyAddress buckets an address the way the reference server's
// per-IP limiter implicitly assumes every connection is routable
// WAN traffic: private, loopback, link-local and multicast peers are
// called out explicitly so a caller can choose to exempt them from
// concurrency limiting instead of just trusting the whitelist.
type AddressClass int

const (
	ClassPublic AddressClass = iota
	ClassPrivate
	ClassLoopback
	ClassLinkLocal
	ClassMulticast
	ClassUnspecified
)

// ClassifyAddress inspects the parsed IP's standard library
// classification helpers; no iprange dependency needed for these,
// since net.IP already understands RFC 1918 / RFC 4193 privacy.
func ClassifyAddress(ipStr string) AddressClass {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return ClassUnspecified
	}
	switch {
	case ip.IsLoopback():
		return ClassLoopback
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return ClassLinkLocal
	case ip.IsMulticast():
		return ClassMulticast
	case ip.IsPrivate():
		return ClassPrivate
	case ip.IsUnspecified():
		return ClassUnspecified
	default:
		return ClassPublic
	}
}

// LocalInterfaceAddresses lists every unicast address bound to this
// host, IPv4 addresses first, then IPv6, with loopback addresses last
// regardless of family — the order cmd/rtmpcore walks when it needs to
// guess an EXTERNAL_IP to advertise to the coordinator because the
// operator hasn't set one explicitly, so a routable address is always
// tried before falling back to loopback.
func LocalInterfaceAddresses() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ips = append(ips, ipNet.IP)
	}
	return orderAddresses(ips), nil
}

// orderAddresses sorts ips IPv4-first, IPv6-second, loopback-last
// (regardless of family), stably within each group. Split out of
// LocalInterfaceAddresses so the ordering rule can be tested without
// depending on the host's actual network interfaces.
func orderAddresses(ips []net.IP) []net.IP {
	var v4, v6, loopback []net.IP
	for _, ip := range ips {
		switch {
		case ip.IsLoopback():
			loopback = append(loopback, ip)
		case ip.To4() != nil:
			v4 = append(v4, ip)
		default:
			v6 = append(v6, ip)
		}
	}

	out := make([]net.IP, 0, len(v4)+len(v6)+len(loopback))
	out = append(out, v4...)
	out = append(out, v6...)
	out = append(out, loopback...)
	return out
}

var (
	hostnameOnce  sync.Once
	cachedHostame string
)

// Hostname returns the machine hostname, resolved once and cached for
// the lifetime of the process (it never changes at runtime and
// os.Hostname does a syscall every call).
func Hostname() string {
	hostnameOnce.Do(func() {
		h, err := os.Hostname()
		if err == nil {
			cachedHostame = h
		}
	})
	return cachedHostame
}

// Jitter is a dedicated PRNG backing JitteredBackoff, so reconnect
// loops across many sessions don't all wake up on the same tick (a
// deterministic per-process source, not crypto/rand — this is
// scheduling jitter, not a security boundary).
type Jitter struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitter seeds a jitter source from seed; callers that want
// process-wide variety should seed from something like
// time.Now().UnixNano() once at startup.
func NewJitter(seed int64) *Jitter {
	return &Jitter{rnd: rand.New(rand.NewSource(seed))}
}

// Float64 returns the next deterministic-given-seed pseudo-random
// value in [0, 1).
func (j *Jitter) Float64() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rnd.Float64()
}

// JitteredBackoff returns base plus up to an additional spread
// fraction of base, e.g. JitteredBackoff(10*time.Second, 0.5) spreads reconnect
// attempts across 10-15 seconds instead of all firing on the same
// 10-second tick.
func (j *Jitter) JitteredBackoff(base time.Duration, spread float64) time.Duration {
	return base + time.Duration(float64(base)*spread*j.Float64())
}
