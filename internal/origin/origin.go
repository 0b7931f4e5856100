// Package origin validates browser Origin headers against the relay's
// configured allow-list.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates and canonicalizes a browser Origin header to
// scheme://host[:port], lowercased, with default ports stripped.
//
// The special Origin value "null" (sandboxed documents, file://) is allowed
// and returned as-is.
func Normalize(originHeader string) (string, bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}

	var port int
	if rawPort := u.Port(); rawPort != "" {
		n, err := strconv.Atoi(rawPort)
		if err != nil || n <= 0 || n > 65535 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		// IPv6 literal.
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.Itoa(port)
	}
	return scheme + "://" + host, true
}

// Allowed reports whether a normalized origin may access the relay.
//
// An empty allow-list admits every origin (the relay sits behind clients on
// arbitrary origins by default); a non-empty list admits only exact matches
// or the wildcard "*".
func Allowed(normalizedOrigin string, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}
	for _, allowed := range allowList {
		if allowed == "*" || allowed == normalizedOrigin {
			return true
		}
	}
	return false
}
