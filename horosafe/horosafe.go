// Package horosafe checks operator-supplied inputs before they reach the
// browser or a webhook: page URLs, webhook URLs and page identifiers.
package horosafe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrSSRF is returned when a URL targets a private or loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrBadIdentifier is returned by ValidateIdentifier.
var ErrBadIdentifier = errors.New("horosafe: invalid identifier")

// CheckURL checks that rawURL is an absolute http or https URL with a host.
func CheckURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("horosafe: URL has no host")
	}
	return u, nil
}

// CheckPublicURL is CheckURL plus SSRF prevention: the host must not be, or
// resolve to, a private, loopback or link-local address. A DNS failure lets
// the URL through; the browser fails on it anyway.
func CheckPublicURL(rawURL string) error {
	u, err := CheckURL(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()
	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivate(addr) {
			return ErrSSRF
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return ErrSSRF
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && isPrivate(addr) {
			return ErrSSRF
		}
	}
	return nil
}

// ValidateIdentifier accepts 1 to 128 characters from [A-Za-z0-9_.-].
func ValidateIdentifier(s string) error {
	if s == "" || len(s) > 128 {
		return fmt.Errorf("%w: length %d", ErrBadIdentifier, len(s))
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("%w: character %q", ErrBadIdentifier, r)
		}
	}
	return nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

func isPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()
}
