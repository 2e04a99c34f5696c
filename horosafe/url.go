package horosafe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// ErrUnsafeURL is wrapped by every URL policy rejection.
var ErrUnsafeURL = errors.New("horosafe: unsafe URL")

var (
	// ErrInvalidURL is returned when the URL cannot be parsed or has no host.
	ErrInvalidURL = fmt.Errorf("%w: invalid URL", ErrUnsafeURL)

	// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
	ErrUnsafeScheme = fmt.Errorf("%w: only http and https schemes are allowed", ErrUnsafeURL)

	// ErrBlockedHost is returned when the hostname is on the block list.
	ErrBlockedHost = fmt.Errorf("%w: hostname is blocked", ErrUnsafeURL)

	// ErrUnresolvable is returned when DNS resolution fails.
	ErrUnresolvable = fmt.Errorf("%w: hostname does not resolve", ErrUnsafeURL)

	// ErrSSRF is returned when a URL targets a private, loopback or blocked address.
	ErrSSRF = fmt.Errorf("%w: URL targets a private or loopback address", ErrUnsafeURL)
)

// DefaultBlockedHosts are rejected by exact, case-insensitive match.
var DefaultBlockedHosts = []string{
	"localhost",
	"host.docker.internal",
	"ip6-localhost",
	"ip6-loopback",
}

// DefaultBlockedCIDRs are rejected in addition to loopback/private/link-local.
var DefaultBlockedCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fe80::/10",
}

var metadataAddr = netip.MustParseAddr("169.254.169.254")

// Resolver resolves hostnames. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Validator checks outbound URLs before any network call. Every failure,
// including DNS errors and panics, rejects the URL.
type Validator struct {
	BlockedHosts []string
	BlockedCIDRs []netip.Prefix

	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver

	// LookupTimeout bounds DNS resolution. Default: 5s.
	LookupTimeout time.Duration
}

// NewValidator builds a Validator from host names and CIDR strings.
// Empty lists fall back to DefaultBlockedHosts / DefaultBlockedCIDRs.
func NewValidator(hosts, cidrs []string) (*Validator, error) {
	if len(hosts) == 0 {
		hosts = DefaultBlockedHosts
	}
	if len(cidrs) == 0 {
		cidrs = DefaultBlockedCIDRs
	}
	v := &Validator{}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			v.BlockedHosts = append(v.BlockedHosts, h)
		}
	}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("horosafe: blocked range %q: %w", c, err)
		}
		v.BlockedCIDRs = append(v.BlockedCIDRs, p.Masked())
	}
	return v, nil
}

// DefaultValidator returns a Validator with the default block lists.
func DefaultValidator() *Validator {
	v, err := NewValidator(nil, nil)
	if err != nil {
		panic(err) // defaults are constants
	}
	return v
}

// IsSafe reports whether rawURL passes Validate.
func (v *Validator) IsSafe(ctx context.Context, rawURL string) bool {
	return v.Validate(ctx, rawURL) == nil
}

// Validate checks the scheme, the hostname block list, and every address the
// hostname resolves to.
func (v *Validator) Validate(ctx context.Context, rawURL string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: validation panic: %v", ErrUnsafeURL, r)
		}
	}()

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: no host", ErrInvalidURL)
	}
	for _, b := range v.BlockedHosts {
		if host == b {
			return fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}
	}

	addrs, err := v.resolve(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnresolvable, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %s: no addresses", ErrUnresolvable, host)
	}
	for _, a := range addrs {
		if err := v.CheckAddr(a); err != nil {
			return err
		}
	}
	return nil
}

// CheckAddr rejects loopback, private, link-local, unspecified, metadata,
// Docker gateway and blocked-range addresses.
func (v *Validator) CheckAddr(a netip.Addr) error {
	a = a.Unmap()
	switch {
	case !a.IsValid(),
		a.IsLoopback(),
		a.IsPrivate(),
		a.IsLinkLocalUnicast(),
		a.IsLinkLocalMulticast(),
		a.IsUnspecified(),
		a == metadataAddr,
		isDockerGateway(a):
		return fmt.Errorf("%w: %s", ErrSSRF, a)
	}
	for _, p := range v.BlockedCIDRs {
		if p.Contains(a) {
			return fmt.Errorf("%w: %s in %s", ErrSSRF, a, p)
		}
	}
	return nil
}

func (v *Validator) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{a}, nil
	}
	r := v.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	timeout := v.LookupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ips, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	out := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		a, ok := netip.AddrFromSlice(ip.IP)
		if !ok {
			return nil, fmt.Errorf("unparseable address %v", ip.IP)
		}
		out = append(out, a)
	}
	return out, nil
}

// isDockerGateway matches the default bridge gateways 172.16.0.1 … 172.31.0.1.
func isDockerGateway(a netip.Addr) bool {
	if !a.Is4() {
		return false
	}
	b := a.As4()
	return b[0] == 172 && b[1] >= 16 && b[1] <= 31 && b[2] == 0 && b[3] == 1
}
