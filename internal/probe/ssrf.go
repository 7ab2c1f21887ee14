package probe

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// blockedHostnames are rejected outright, before any resolution.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata":                 true,
}

// blockedSuffixes reject whole internal namespaces.
var blockedSuffixes = []string{".local", ".internal", ".localhost"}

// ValidateTarget rejects monitor URLs that would probe internal
// infrastructure. It is called before any request is issued; a monitor that
// fails validation is a configuration error, never a transient probe failure.
func ValidateTarget(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (must be http or https)", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}
	if blockedHostnames[host] {
		return fmt.Errorf("host %q is not allowed", host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if blockedIP(ip) {
			return fmt.Errorf("ip %s is not allowed", ip)
		}
		return nil
	}

	// Resolve where feasible. A lookup failure is left for the probe itself
	// to report as a transient DNS failure.
	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil
	}
	for _, ip := range addrs {
		if blockedIP(ip) {
			return fmt.Errorf("host %q resolves to disallowed ip %s", host, ip)
		}
	}
	return nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}
