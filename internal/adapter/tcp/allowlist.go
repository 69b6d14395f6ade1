package tcp

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Allowlist is the set of source addresses permitted to request signatures.
// Entries are single IPs or CIDR prefixes. An empty allowlist admits nobody.
type Allowlist struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// ParseAllowlist builds an Allowlist from IP and CIDR strings.
func ParseAllowlist(entries []string) (*Allowlist, error) {
	a := &Allowlist{addrs: make(map[netip.Addr]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid allowlist prefix %q: %w", e, err)
			}
			a.prefixes = append(a.prefixes, p.Masked())
			continue
		}
		ip, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist address %q: %w", e, err)
		}
		a.addrs[ip.Unmap()] = struct{}{}
	}
	return a, nil
}

// Allows reports whether ip is admitted.
func (a *Allowlist) Allows(ip netip.Addr) bool {
	if a == nil || !ip.IsValid() {
		return false
	}
	ip = ip.Unmap()
	if _, ok := a.addrs[ip]; ok {
		return true
	}
	for _, p := range a.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// AllowsRemote reports whether the peer address of a connection is admitted.
func (a *Allowlist) AllowsRemote(remote net.Addr) bool {
	return a.Allows(remoteIP(remote))
}

// Len returns the number of entries.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.addrs) + len(a.prefixes)
}

func remoteIP(remote net.Addr) netip.Addr {
	if tcpAddr, ok := remote.(*net.TCPAddr); ok {
		return tcpAddr.AddrPort().Addr().Unmap()
	}
	if remote == nil {
		return netip.Addr{}
	}
	ap, err := netip.ParseAddrPort(remote.String())
	if err != nil {
		return netip.Addr{}
	}
	return ap.Addr().Unmap()
}
