package connector

import (
	"os"
	"testing"

	. "github.com/onsi/gomega"
)

func TestRewriteTestingVhostPrependsPrefixOnce(t *testing.T) {
	g := NewWithT(t)

	g.Expect(rewriteTestingVhost("/", "test")).To(Equal("/test"))
	g.Expect(rewriteTestingVhost("/neon", "test")).To(Equal("/test_neon"))
}

func TestRewriteTestingVhostIsIdempotent(t *testing.T) {
	g := NewWithT(t)

	once := rewriteTestingVhost("/neon", "test")
	twice := rewriteTestingVhost(once, "test")
	g.Expect(twice).To(Equal(once))
}

func TestRewriteTestingVhostDoesNotFalsePositiveOnSubstring(t *testing.T) {
	g := NewWithT(t)
	// "testing" contains "test" as a substring but is not exactly "test": a
	// literal translation of the Python `prefix not in segment` check would
	// treat this vhost as already-prefixed and leave it untouched.
	rewritten := rewriteTestingVhost("/testing_service", "test")
	g.Expect(rewritten).To(Equal("/test_testing_service"))
}

func TestResolveVhostNormalizesLeadingSlash(t *testing.T) {
	g := NewWithT(t)
	g.Expect(resolveVhost("svc", "")).To(Equal("/"))
	g.Expect(resolveVhost("svc", "neon")).To(Equal("/neon"))
}

func TestResolveVhostAppliesTestingPrefixFromEnv(t *testing.T) {
	g := NewWithT(t)
	t.Setenv("DEMO_TESTING", "1")

	g.Expect(isTestingMode("demo")).To(BeTrue())
	g.Expect(resolveVhost("demo", "/neon")).To(Equal("/test_neon"))
}

func TestResolveVhostHonorsCustomPrefixEnv(t *testing.T) {
	g := NewWithT(t)
	t.Setenv("DEMO_TESTING", "1")
	t.Setenv("DEMO_TESTING_PREFIX", "ci")

	g.Expect(resolveVhost("demo", "/neon")).To(Equal("/ci_neon"))
}

func TestIsTestingModeFalseWhenUnset(t *testing.T) {
	g := NewWithT(t)
	_ = os.Unsetenv("MQ_TESTING")
	_ = os.Unsetenv("OTHERSVC_TESTING")
	g.Expect(isTestingMode("othersvc")).To(BeFalse())
}
