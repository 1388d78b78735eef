package discovery

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeVendorDomain reduces a publisher domain or URL to its
// registrable eTLD+1 form so vendor matching and AI-platform detection
// see "openai.com" whether the platform reported a URL, a wildcard, or a
// bare host. Returns empty for IPs and unparseable input.
func NormalizeVendorDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err == nil && u.Host != "" {
		candidate = u.Host
	}
	candidate = strings.TrimSpace(candidate)
	candidate = strings.TrimPrefix(candidate, "*.")
	candidate = strings.Trim(candidate, ".")
	candidate = strings.TrimSuffix(candidate, ":443")
	candidate = strings.TrimSuffix(candidate, ":80")
	candidate = strings.ToLower(candidate)
	if ip := net.ParseIP(candidate); ip != nil {
		return ""
	}
	if after, ok := strings.CutPrefix(candidate, "www."); ok {
		candidate = after
	}
	eTLD, err := publicsuffix.EffectiveTLDPlusOne(candidate)
	if err != nil {
		return candidate
	}
	return strings.ToLower(strings.TrimSpace(eTLD))
}

// VendorName derives a display vendor name from a normalized domain,
// falling back to the app's display name.
func VendorName(domain, display string) string {
	if domain != "" {
		part := domain
		if idx := strings.Index(part, "."); idx > 0 {
			part = part[:idx]
		}
		part = strings.ReplaceAll(part, "-", " ")
		part = strings.TrimSpace(part)
		if part != "" {
			return strings.ToUpper(part[:1]) + part[1:]
		}
	}
	display = strings.TrimSpace(display)
	if display == "" {
		return ""
	}
	if len(display) > 80 {
		display = display[:80]
	}
	return display
}

// NormalizeGUID lowercases and validates a GUID-like token, returning
// empty for anything that is not one.
func NormalizeGUID(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	raw = strings.TrimPrefix(raw, "{")
	raw = strings.TrimSuffix(raw, "}")
	if raw == "" {
		return ""
	}
	if len(raw) != 36 {
		return ""
	}
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r == '-' && (i == 8 || i == 13 || i == 18 || i == 23):
		default:
			return ""
		}
	}
	return raw
}
