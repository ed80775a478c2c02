package connector

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func TestNewOrchestratorAppliesTestingVhostRewrite(t *testing.T) {
	g := NewWithT(t)
	t.Setenv("DEMO_TESTING", "1")

	orch := NewOrchestrator(OrchestratorConfig{
		ServiceName: "demo",
		Base:        ConnectionParams{Host: "127.0.0.1", Port: 1, Vhost: "/neon"},
	})

	g.Expect(orch.cfg.Base.Vhost).To(Equal("/test_neon"))
}

func TestRegisterConsumerAppliesTestingVhostRewrite(t *testing.T) {
	g := NewWithT(t)
	t.Setenv("DEMO_TESTING", "1")

	orch := NewOrchestrator(OrchestratorConfig{
		ServiceName: "demo",
		Base:        ConnectionParams{Host: "127.0.0.1", Port: 1},
	})

	g.Expect(orch.RegisterConsumer(context.Background(), ConsumerSpec{
		Name: "c1", Vhost: "/neon", Callback: noopCallback,
	})).To(Succeed())

	state, ok := orch.Registry().Get("c1")
	g.Expect(ok).To(BeTrue())
	g.Expect(state.Spec.Vhost).To(Equal("/test_neon"))
}

func TestOrchestratorRunFailsWhenBrokerUnreachable(t *testing.T) {
	g := NewWithT(t)
	orch := NewOrchestrator(OrchestratorConfig{
		ServiceName:       "demo2",
		Base:              ConnectionParams{Host: "127.0.0.1", Port: 1},
		BrokerWaitTimeout: 200 * time.Millisecond,
	})

	err := orch.Run(context.Background(), false, false, false)
	g.Expect(err).To(HaveOccurred())
	g.Expect(IsKind(err, KindBrokerUnavailable)).To(BeTrue())
}
