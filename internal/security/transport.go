// Package security guards outbound webhook deliveries against SSRF.
//
// Webhook targets are user-supplied URLs, so every connection the delivery
// path opens is screened at dial time: hosts are resolved with a strict
// timeout and every resolved address is checked against a blocklist of
// loopback, private, link-local and otherwise non-routable ranges. Redirects
// are re-screened under the same rules.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"finpulse/internal/types"
)

// dnsTimeout bounds DNS resolution during screening. A resolver that stalls
// past this is treated as a failure (fail closed).
const dnsTimeout = 500 * time.Millisecond

// ErrBlockedAddress is returned when a destination falls in a blocked range.
var ErrBlockedAddress = errors.New("ssrf: destination in blocked address range")

// ErrDNSTimeout is returned when screening DNS resolution exceeds dnsTimeout.
var ErrDNSTimeout = errors.New("ssrf: dns resolution timed out")

// ErrDNSFailure is returned when screening DNS resolution fails outright.
var ErrDNSFailure = errors.New("ssrf: dns resolution failed")

// ErrRedirectLimit is returned when a delivery follows too many redirects.
var ErrRedirectLimit = errors.New("ssrf: redirect limit exceeded")

// blockedNets holds the parsed forms of types.SSRFBlockedCIDRs. The source
// list is a compile-time constant, so a malformed entry is a programming
// error and panics at init rather than surfacing per-request.
var blockedNets = mustParseCIDRs(types.SSRFBlockedCIDRs)

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("security: bad blocked CIDR %q: %v", cidr, err))
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// isBlockedIP reports whether ip falls within any blocked CIDR range.
func isBlockedIP(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution so tests can substitute fixed answers.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// netResolver adapts net.Resolver to the Resolver interface.
type netResolver struct {
	r *net.Resolver
}

func (nr *netResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return nr.r.LookupIPAddr(ctx, host)
}

// screenHost validates that host (an IP literal or DNS name) points only at
// routable public addresses, and returns the screened addresses. For DNS
// names every resolved address is checked, so a mixed answer cannot smuggle
// a private target past the check.
func screenHost(ctx context.Context, r Resolver, host string) ([]net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
		}
		return []net.IPAddr{{IP: ip}}, nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := r.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrDNSFailure, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrDNSFailure, host)
	}

	for _, addr := range addrs {
		if isBlockedIP(addr.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrBlockedAddress, addr.IP, host)
		}
	}
	return addrs, nil
}

// SafeTransport wraps http.Transport with dial-time address screening. All
// webhook delivery traffic goes through one of these so that no request,
// however the URL was obtained, can reach internal infrastructure.
type SafeTransport struct {
	// Base is the underlying transport used for actual connections. Its
	// DialContext is overridden by NewSafeTransport.
	Base *http.Transport

	// Resolver is used for DNS lookups during screening. Nil means
	// net.DefaultResolver. Exposed for testing.
	Resolver Resolver
}

// NewSafeTransport wraps base with address screening. A nil base gets a
// fresh http.Transport.
func NewSafeTransport(base *http.Transport) *SafeTransport {
	if base == nil {
		base = &http.Transport{}
	}
	st := &SafeTransport{Base: base}
	base.DialContext = st.safeDialContext
	return st
}

// RoundTrip implements http.RoundTripper by delegating to the base transport,
// whose dialer has been replaced with the screening dialer.
func (st *SafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return st.Base.RoundTrip(req)
}

// safeDialContext screens the host and dials the screened address rather
// than re-resolving, so a second DNS answer cannot differ from the one that
// was checked.
func (st *SafeTransport) safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}

	addrs, err := screenHost(ctx, st.resolver(), host)
	if err != nil {
		return nil, err
	}

	target := net.JoinHostPort(addrs[0].IP.String(), port)
	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, network, target)
}

func (st *SafeTransport) resolver() Resolver {
	if st.Resolver != nil {
		return st.Resolver
	}
	return &netResolver{r: net.DefaultResolver}
}

// CheckRedirect returns an http.Client redirect policy that enforces
// maxRedirects and screens each redirect target before it is followed.
// A nil resolver means net.DefaultResolver.
func CheckRedirect(maxRedirects int, resolver Resolver) func(req *http.Request, via []*http.Request) error {
	if resolver == nil {
		resolver = &netResolver{r: net.DefaultResolver}
	}

	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrRedirectLimit, maxRedirects)
		}

		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrBlockedAddress)
		}

		if _, err := screenHost(req.Context(), resolver, host); err != nil {
			return fmt.Errorf("redirect rejected: %w", err)
		}
		return nil
	}
}

// NewSSRFValidator returns a types.SSRFValidator that screens a webhook URL,
// resolving its host and checking every address. Used when a webhook channel
// is configured, so a user gets immediate feedback instead of a delivery
// failure later.
func NewSSRFValidator() types.SSRFValidator {
	resolver := &netResolver{r: net.DefaultResolver}

	return func(urlStr string) error {
		host := extractHost(urlStr)
		if host == "" {
			return fmt.Errorf("%w: no host in URL", ErrBlockedAddress)
		}
		_, err := screenHost(context.Background(), resolver, host)
		return err
	}
}

// NewSafeHTTPClient builds the http.Client used for webhook deliveries:
// screening transport, screened redirects, overall request timeout.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	transport := NewSafeTransport(nil)
	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, transport.Resolver),
	}
}

// extractHost parses the hostname out of a URL string. Returns "" if the
// URL does not parse.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
