package connector

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	. "github.com/onsi/gomega"
)

func noopCallback(context.Context, amqp.Delivery) error { return nil }

// unreachableParams points at a port nothing listens on so Dial fails fast
// instead of needing a real broker.
var unreachableParams = ConnectionParams{Host: "127.0.0.1", Port: 1, Timeout: 200 * time.Millisecond}

func fastFactory() *ConnectionFactory {
	return &ConnectionFactory{Retries: 1, Backoff: time.Millisecond}
}

func TestRegistryRegisterStoresSpecWithoutDialing(t *testing.T) {
	g := NewWithT(t)
	r := NewRegistry(unreachableParams, fastFactory())

	err := r.Register(context.Background(), ConsumerSpec{Name: "c1", Queue: "q1", Callback: noopCallback})
	g.Expect(err).NotTo(HaveOccurred())

	state, ok := r.Get("c1")
	g.Expect(ok).To(BeTrue())
	g.Expect(state.Spec.Queue).To(Equal("q1"))
	g.Expect(state.Started).To(BeFalse())
}

func TestRegistrySkipIfExistsLeavesExistingUntouched(t *testing.T) {
	g := NewWithT(t)
	r := NewRegistry(unreachableParams, fastFactory())

	g.Expect(r.Register(context.Background(), ConsumerSpec{Name: "c1", Queue: "q1", Callback: noopCallback})).To(Succeed())
	first, _ := r.Get("c1")

	err := r.Register(context.Background(), ConsumerSpec{Name: "c1", Queue: "q2", SkipIfExists: true, Callback: noopCallback})
	g.Expect(err).NotTo(HaveOccurred())

	second, _ := r.Get("c1")
	g.Expect(second.Spec.Queue).To(Equal(first.Spec.Queue))
	g.Expect(second.Spec.Queue).To(Equal("q1"))
}

func TestRegistryRunSurfacesBrokerUnavailable(t *testing.T) {
	g := NewWithT(t)
	r := NewRegistry(unreachableParams, fastFactory())
	g.Expect(r.Register(context.Background(), ConsumerSpec{Name: "c1", Queue: "q1", Callback: noopCallback})).To(Succeed())

	err := r.Run(context.Background(), "c1")
	g.Expect(err).To(HaveOccurred())
	g.Expect(IsKind(err, KindBrokerUnavailable)).To(BeTrue())
}

func TestRegistryRestartRespectsBudget(t *testing.T) {
	g := NewWithT(t)
	r := NewRegistry(unreachableParams, fastFactory())
	spec := ConsumerSpec{Name: "c1", Queue: "q1", Callback: noopCallback, RestartBudget: 2}
	g.Expect(r.Register(context.Background(), spec)).To(Succeed())

	// A restart that fails to start (no broker) does not count against the
	// budget; once the counter reaches the budget, Restart must be rejected
	// outright.
	_ = r.Restart(context.Background(), "c1")
	state, _ := r.Get("c1")
	g.Expect(state.RestartCount).To(Equal(0)) // Start failed, so RestartCount never incremented

	// Drive the counter directly to simulate budget exhaustion, since every
	// real Restart in this broker-less test fails before incrementing it.
	r.mu.Lock()
	r.consumers["c1"].RestartCount = 2
	r.mu.Unlock()

	err := r.Restart(context.Background(), "c1")
	g.Expect(err).To(HaveOccurred())
	g.Expect(IsKind(err, KindRestartBudgetExceeded)).To(BeTrue())
}

func TestRegistryNamesOrAllReturnsEveryRegisteredName(t *testing.T) {
	g := NewWithT(t)
	r := NewRegistry(unreachableParams, fastFactory())
	g.Expect(r.Register(context.Background(), ConsumerSpec{Name: "c1", Callback: noopCallback})).To(Succeed())
	g.Expect(r.Register(context.Background(), ConsumerSpec{Name: "c2", Callback: noopCallback})).To(Succeed())

	names := r.namesOrAll(nil)
	g.Expect(names).To(ConsistOf("c1", "c2"))
}
