package fetch

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// deniedPorts are internal service ports the fetch proxy never connects to.
var deniedPorts = map[string]struct{}{
	"22":    {}, // ssh
	"23":    {}, // telnet
	"25":    {}, // smtp
	"135":   {},
	"445":   {},
	"2375":  {}, // docker
	"3306":  {}, // mysql
	"5432":  {}, // postgres
	"6379":  {}, // redis
	"9200":  {}, // elasticsearch
	"11211": {}, // memcached
}

// metadataHosts are cloud metadata endpoints that must never be reachable
// through the proxy.
var metadataHosts = map[string]struct{}{
	"169.254.169.254":          {},
	"metadata.google.internal": {},
	"metadata":                 {},
}

// Guard validates outbound request targets before any network call is
// issued. Rejections are request-shape problems, never feed-health events.
type Guard struct {
	lookupIP func(ctx context.Context, host string) ([]net.IP, error)
}

func NewGuard() *Guard {
	return &Guard{
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, addr := range addrs {
				ips = append(ips, addr.IP)
			}
			return ips, nil
		},
	}
}

// NewGuardWithResolver injects a resolver for tests.
func NewGuardWithResolver(lookupIP func(ctx context.Context, host string) ([]net.IP, error)) *Guard {
	return &Guard{lookupIP: lookupIP}
}

// Validate returns a *Error with KindBadInput or KindBlocked when the URL
// must not be fetched, nil otherwise.
func (g *Guard) Validate(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &Error{Kind: KindBadInput, URL: rawURL, Err: fmt.Errorf("invalid url: %w", err)}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return &Error{Kind: KindBadInput, URL: rawURL, Err: fmt.Errorf("unsupported protocol scheme %q", parsed.Scheme)}
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return &Error{Kind: KindBadInput, URL: rawURL, Err: fmt.Errorf("invalid url: missing host")}
	}

	if _, denied := metadataHosts[host]; denied {
		return &Error{Kind: KindBlocked, URL: rawURL, Err: fmt.Errorf("blocked metadata host %q", host)}
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return &Error{Kind: KindBlocked, URL: rawURL, Err: fmt.Errorf("blocked internal host %q", host)}
	}

	if port := parsed.Port(); port != "" {
		if _, denied := deniedPorts[port]; denied {
			return &Error{Kind: KindBlocked, URL: rawURL, Err: fmt.Errorf("blocked internal service port %s", port)}
		}
	}

	// Literal IPs are checked directly; hostnames are resolved so a DNS
	// record pointing into private space is caught before any connection.
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolved, err := g.lookupIP(ctx, host)
		if err != nil {
			return &Error{Kind: KindNotFound, URL: rawURL, Err: fmt.Errorf("dns resolution failure: %w", err)}
		}
		ips = resolved
	}

	for _, ip := range ips {
		if isForbiddenIP(ip) {
			return &Error{Kind: KindBlocked, URL: rawURL, Err: fmt.Errorf("host %q resolves to forbidden address %s", host, ip)}
		}
	}

	return nil
}

func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
