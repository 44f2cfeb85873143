package gateway

import (
	"net/http"
	"net/url"
	"strings"
)

// originChecker decides which browser origins may open a connection.
type originChecker struct {
	allowed []string
}

// check allows requests without an Origin header (native clients, same
// origin), localhost origins, and origins matching the allow list. An empty
// allow list admits any origin.
func (oc originChecker) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(oc.allowed) == 0 {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if isLocalhost(parsed.Hostname()) {
		return true
	}

	for _, allowed := range oc.allowed {
		if matchOrigin(parsed, origin, allowed) {
			return true
		}
	}
	return false
}

func isLocalhost(host string) bool {
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasSuffix(host, ".localhost")
}

// matchOrigin supports exact matches, "*", and wildcard subdomains
// ("*.example.com").
func matchOrigin(parsed *url.URL, origin, allowed string) bool {
	if allowed == "*" || origin == allowed {
		return true
	}
	if suffix, ok := strings.CutPrefix(allowed, "*."); ok {
		host := parsed.Hostname()
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return false
}
