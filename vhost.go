package connector

import (
	"os"
	"strings"
)

const defaultTestingPrefix = "test"

// testingEnvVars returns the env vars checked, in precedence order, to
// decide whether the process is running in testing mode: the
// service-specific var first, then the generic MQ_TESTING fallback.
func testingEnvVars(serviceName string) []string {
	return []string{strings.ToUpper(serviceName) + "_TESTING", "MQ_TESTING"}
}

func testingPrefixEnvVars(serviceName string) []string {
	return []string{strings.ToUpper(serviceName) + "_TESTING_PREFIX", "MQ_TESTING_PREFIX"}
}

// isTestingMode reports whether any of the service's testing env vars is
// set to "1".
func isTestingMode(serviceName string) bool {
	for _, name := range testingEnvVars(serviceName) {
		if os.Getenv(name) == "1" {
			return true
		}
	}
	return false
}

// testingPrefix resolves the prefix to apply to the vhost in testing mode:
// the first non-empty service-specific or generic override, else "test".
func testingPrefix(serviceName string) string {
	for _, name := range testingPrefixEnvVars(serviceName) {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return defaultTestingPrefix
}

// rewriteTestingVhost prepends the testing prefix to vhost exactly once.
// vhost must begin with "/". Resolves spec §9's Open Question: rather than
// translating the Python original's `prefix not in vhost.split('_')[0]`
// check verbatim (which misfires on vhosts whose first underscore-segment
// merely contains the prefix as a substring), this checks whether the
// vhost's first underscore-separated segment (after the leading "/") is
// already exactly the prefix, which is both
// the intended behavior and trivially idempotent.
func rewriteTestingVhost(vhost, prefix string) string {
	if vhost == "" {
		vhost = "/"
	}
	body := strings.TrimPrefix(vhost, "/")
	firstSegment := body
	if idx := strings.Index(body, "_"); idx >= 0 {
		firstSegment = body[:idx]
	}
	if firstSegment == prefix {
		return vhost
	}
	if body == "" {
		return "/" + prefix
	}
	return "/" + prefix + "_" + body
}

// resolveVhost applies the testing-mode rewrite rule for serviceName to
// vhost, normalizing vhost to start with "/" first.
func resolveVhost(serviceName, vhost string) string {
	if vhost == "" {
		vhost = "/"
	}
	if !strings.HasPrefix(vhost, "/") {
		vhost = "/" + vhost
	}
	if !isTestingMode(serviceName) {
		return vhost
	}
	return rewriteTestingVhost(vhost, testingPrefix(serviceName))
}
