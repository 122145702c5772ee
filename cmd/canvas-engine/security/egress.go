// Package security enforces the egress policy for worker dispatch URLs:
// scheme allow-list plus loopback/private/link-local target rejection, so a
// canvas author cannot point an async worker at the engine's own network.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// EgressPolicy validates worker dispatch destinations.
type EgressPolicy struct {
	// AllowPrivate permits loopback and private-network targets. Meant for
	// local development against workers on the same host.
	AllowPrivate bool

	lookupIP func(host string) ([]net.IP, error)
}

// NewEgressPolicy creates the default, strict policy.
func NewEgressPolicy() *EgressPolicy {
	return &EgressPolicy{lookupIP: net.LookupIP}
}

var blockedHostnames = []string{
	"localhost",
	"0.0.0.0",
	"::",
	"::1",
	"[::1]",
}

// ValidateURL checks a dispatch URL against the policy. Hostnames are
// resolved and every address checked; a DNS failure passes (the dispatch
// itself will fail with a clearer error).
func (p *EgressPolicy) ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid worker url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q not allowed, worker urls must be http or https", u.Scheme)
	}

	host := strings.ToLower(strings.TrimSpace(u.Hostname()))
	if host == "" {
		return fmt.Errorf("worker url has no host")
	}

	if p.AllowPrivate {
		return nil
	}

	for _, blocked := range blockedHostnames {
		if host == blocked {
			return fmt.Errorf("host %q is blocked", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return p.checkIP(ip)
	}

	lookup := p.lookupIP
	if lookup == nil {
		lookup = net.LookupIP
	}
	ips, err := lookup(host)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if err := p.checkIP(ip); err != nil {
			return fmt.Errorf("host %q resolves to blocked address: %w", host, err)
		}
	}

	return nil
}

func (p *EgressPolicy) checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("address %s is loopback", ip)
	case ip.IsPrivate():
		return fmt.Errorf("address %s is in a private range", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("address %s is link-local", ip)
	case ip.IsMulticast():
		return fmt.Errorf("address %s is multicast", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("address %s is unspecified", ip)
	}
	return nil
}
