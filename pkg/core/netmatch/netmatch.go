//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package netmatch matches client addresses against operator-supplied address patterns.
//
// Three pattern forms are accepted, and all of them compile to a [netip.Prefix]:
//
//	10.1.2.3          exact address (IPv4 or IPv6)
//	10.0.0.0/8        CIDR (IPv4 or IPv6)
//	192.168.*         IPv4 with a single trailing wildcard segment; "*" alone matches any IPv4 address
//
// IPv4-mapped IPv6 addresses are unmapped before matching, so ::ffff:10.0.0.1 matches 10.0.0.0/8.
package netmatch

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Matcher is an immutable compiled pattern list.  The zero value matches nothing.
type Matcher struct {
	patterns []string
	prefixes []netip.Prefix
}

// Compile parses every pattern, failing on the first invalid one.
func Compile(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		prefix, err := ParsePattern(p)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, strings.TrimSpace(p))
		m.prefixes = append(m.prefixes, prefix)
	}
	return m, nil
}

// MustCompile is Compile that panics, for tests and static tables.
func MustCompile(patterns ...string) *Matcher {
	m, err := Compile(patterns)
	if err != nil {
		panic(err)
	}
	return m
}

// ParsePattern compiles a single pattern.
func ParsePattern(pattern string) (netip.Prefix, error) {
	p := strings.TrimSpace(pattern)
	switch {
	case p == "":
		return netip.Prefix{}, errors.New("empty address pattern")
	case strings.Contains(p, "*"):
		return parseWildcard(p)
	case strings.Contains(p, "/"):
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return netip.Prefix{}, errors.Wrapf(err, "invalid CIDR %q", pattern)
		}
		addr := prefix.Addr()
		bits := prefix.Bits()
		if addr.Is4In6() && bits >= 96 {
			addr, bits = addr.Unmap(), bits-96
		}
		return netip.PrefixFrom(addr, bits).Masked(), nil
	default:
		addr, err := Parse(p)
		if err != nil {
			return netip.Prefix{}, errors.Wrapf(err, "invalid address %q", pattern)
		}
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
}

func parseWildcard(p string) (netip.Prefix, error) {
	segments := strings.Split(p, ".")
	last := len(segments) - 1
	if segments[last] != "*" || strings.Count(p, "*") != 1 || len(segments) > 4 {
		return netip.Prefix{}, errors.Errorf("invalid wildcard pattern %q: only a single trailing '*' segment is supported", p)
	}

	var octets [4]byte
	for i, s := range segments[:last] {
		n, err := strconv.ParseUint(s, 10, 8)
		if err != nil || s == "" || (len(s) > 1 && s[0] == '0') {
			return netip.Prefix{}, errors.Errorf("invalid wildcard pattern %q: bad octet %q", p, s)
		}
		octets[i] = byte(n)
	}

	return netip.PrefixFrom(netip.AddrFrom4(octets), 8*last), nil
}

// Parse parses a client address, unmapping IPv4-in-IPv6 and dropping any zone.
func Parse(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap().WithZone(""), nil
}

// Matches reports whether addr falls in any pattern.  Invalid addresses never match.
func (m *Matcher) Matches(addr netip.Addr) bool {
	if m == nil || !addr.IsValid() {
		return false
	}
	a := addr.Unmap().WithZone("")
	for _, p := range m.prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// MatchString parses ip and calls Matches.
func (m *Matcher) MatchString(ip string) bool {
	addr, err := Parse(ip)
	if err != nil {
		return false
	}
	return m.Matches(addr)
}

// Empty reports whether the matcher holds no patterns.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.prefixes) == 0
}

// Patterns returns the source patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return m.patterns
}

// IsPrivate reports whether addr is a non-routable internal address: RFC 1918, IPv6 unique-local, or
// loopback in either family.
func IsPrivate(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	a := addr.Unmap()
	return a.IsPrivate() || a.IsLoopback()
}
