package webtool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// checkURL admits a raw URL through the outbound gate, in order: scheme,
// domain policy, then address class. Domain denials fire before any name
// resolution, so a policy-blocked host never causes network traffic.
func (t *WebSearchTool) checkURL(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ports.Errf(ports.KindMalformed, "invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ports.Errf(ports.KindDenied, "scheme %q is not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, ports.Errf(ports.KindMalformed, "url has no host")
	}
	if err := t.checkDomain(host); err != nil {
		return nil, err
	}
	if err := t.checkAddr(ctx, host); err != nil {
		return nil, err
	}
	return u, nil
}

// checkDomain applies the allow/deny lists. A non-empty allow list is
// exhaustive; otherwise the deny list blocks. Parent domains match their
// subdomains.
func (t *WebSearchTool) checkDomain(host string) error {
	host = strings.ToLower(host)
	if len(t.policy.AllowedDomains) > 0 {
		for _, domain := range t.policy.AllowedDomains {
			if hostMatches(host, domain) {
				return nil
			}
		}
		return ports.Errf(ports.KindDenied, "host %s is not on the allowed domain list", host)
	}
	for _, domain := range t.policy.DeniedDomains {
		if hostMatches(host, domain) {
			return ports.Errf(ports.KindDenied, "host %s is on the denied domain list", host)
		}
	}
	return nil
}

// checkAddr resolves the host and rejects loopback, private, link-local,
// unspecified, and multicast addresses. A host is blocked when ANY of its
// addresses is forbidden.
func (t *WebSearchTool) checkAddr(ctx context.Context, host string) error {
	if t.policy.allowPrivateHosts {
		return nil
	}

	var ips []net.IP
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		ips = []net.IP{ip}
	} else {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return ports.Errf(ports.KindUnreachableHost, "host lookup failed: %s", host)
		}
		for _, addr := range addrs {
			ips = append(ips, addr.IP)
		}
	}

	for _, ip := range ips {
		if isForbiddenIP(ip) {
			return ports.Errf(ports.KindDenied, "host %s resolves to a blocked address (%s)", host, ip)
		}
	}
	return nil
}

func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}

// hostMatches reports whether host equals domain or sits under it.
func hostMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// newGatedClient builds the HTTP client for user-directed fetches. Every
// redirect hop re-enters the gate, so an allowed URL cannot bounce the tool
// onto a blocked host.
func (t *WebSearchTool) newGatedClient() *http.Client {
	return &http.Client{
		Timeout: t.policy.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= t.policy.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", t.policy.MaxRedirects)
			}
			if _, err := t.checkURL(req.Context(), req.URL.String()); err != nil {
				return err
			}
			return nil
		},
	}
}

// classifyFetchErr maps a transport error onto the taxonomy. Gate denials
// raised inside a redirect come back out intact.
func classifyFetchErr(err error, display string) error {
	var te *ports.ToolError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ports.Errf(ports.KindTimeout, "request to %s timed out", display)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return ports.Errf(ports.KindTimeout, "request to %s timed out", display)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ports.Errf(ports.KindUnreachableHost, "host lookup failed: %s", dnsErr.Name)
	}
	return ports.Errf(ports.KindUnreachableHost, "request to %s failed: %v", display, err)
}

// statusErr maps a non-2xx response onto the taxonomy.
func statusErr(status int, display string) error {
	if status == http.StatusNotFound || status == http.StatusGone {
		return ports.Errf(ports.KindNotFound, "%s returned status %d", display, status)
	}
	return ports.Errf(ports.KindUnreachableHost, "%s returned status %d", display, status)
}
