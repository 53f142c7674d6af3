package proxy

import (
	"net/http"
	"strings"

	"github.com/iTrooz/memory-cache-proxy/internal/config"
)

// Rule interface for matching requests against caching rules
type Rule interface {
	// resp is nil when matching before the upstream answered
	Match(requ *http.Request, resp *http.Response) bool
	// reports whether the outcome can change once the response is known
	ResponseDependent() bool
}

// ConfigRule implements Rule interface for config-based rules.
// Empty Methods matches every method; empty StatusCodes matches every status.
type ConfigRule struct {
	config.CacheRule
}

// Match checks if a request matches this rule
func (r *ConfigRule) Match(requ *http.Request, resp *http.Response) bool {
	if !strings.HasPrefix(getTargetURL(requ), r.BaseURI) {
		return false
	}

	if len(r.Methods) > 0 {
		methodMatches := false
		for _, m := range r.Methods {
			if strings.EqualFold(m, requ.Method) {
				methodMatches = true
				break
			}
		}
		if !methodMatches {
			return false
		}
	}

	if resp != nil && len(r.StatusCodes) > 0 {
		statusMatches := false
		for _, statusPattern := range r.StatusCodes {
			if config.MatchesStatusCode(resp.StatusCode, statusPattern) {
				statusMatches = true
				break
			}
		}
		if !statusMatches {
			return false
		}
	}

	return true
}

// ResponseDependent is true when the rule filters on status codes
func (r *ConfigRule) ResponseDependent() bool {
	return len(r.StatusCodes) > 0
}

func getTargetURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return scheme + "://" + r.Host + r.URL.String()
}
