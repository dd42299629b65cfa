package weburl

import (
	"net/url"
	"strings"
)

// Valid reports whether raw is an absolute http or https URL with a host.
func Valid(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}

	return u.Hostname() != ""
}

// Usable returns the trimmed value of p when it is a valid URL.
func Usable(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	v := strings.TrimSpace(*p)
	return v, Valid(v)
}
