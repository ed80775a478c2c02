//go:build integration

package connector

import (
	"context"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	. "github.com/onsi/gomega"
)

// These tests exercise the connector against a real broker. They only run
// when explicitly requested:
//
//	NEON_MQ_INTEGRATION=1 go test -tags integration ./...
//
// with a broker reachable at NEON_MQ_TEST_HOST:NEON_MQ_TEST_PORT (defaults
// to localhost:5672, guest/guest).
func integrationParams(t *testing.T) ConnectionParams {
	if os.Getenv("NEON_MQ_INTEGRATION") != "1" {
		t.Skip("set NEON_MQ_INTEGRATION=1 to run against a live broker")
	}
	host := os.Getenv("NEON_MQ_TEST_HOST")
	if host == "" {
		host = "localhost"
	}
	return ConnectionParams{Host: host, Port: 5672, Vhost: "/"}
}

// Scenario 1: a registered consumer receives and acks a published message.
func TestIntegrationConsumerReceivesPublishedMessage(t *testing.T) {
	g := NewWithT(t)
	params := integrationParams(t)
	factory := NewConnectionFactory()

	received := make(chan amqp.Delivery, 1)
	r := NewRegistry(params, factory)
	g.Expect(r.Register(context.Background(), ConsumerSpec{
		Name:  "scenario1",
		Queue: "neon_test_scenario1",
		Callback: func(ctx context.Context, d amqp.Delivery) error {
			received <- d
			return d.Ack(false)
		},
	})).To(Succeed())
	g.Expect(r.Run(context.Background())).To(Succeed())
	defer r.Stop(context.Background())

	state, _ := r.Get("scenario1")
	g.Expect(state.Worker.Started(context.Background())).To(Succeed())

	pub := NewPublisher(params, factory, nil)
	conn, err := factory.Dial(params)
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Close()

	_, err = pub.Emit(conn, Record{"hello": "world"}, "", "neon_test_scenario1", ExchangeDirect, 0)
	g.Expect(err).NotTo(HaveOccurred())

	select {
	case d := <-received:
		rec, err := Decode(d.Body)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(rec["hello"]).To(Equal("world"))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// Scenario 2: fanout exchange delivers to all bound queues.
func TestIntegrationFanoutDeliversToAllBoundQueues(t *testing.T) {
	g := NewWithT(t)
	params := integrationParams(t)
	factory := NewConnectionFactory()

	r := NewRegistry(params, factory)
	var receivedChans []chan struct{}
	for _, name := range []string{"fanout_a", "fanout_b"} {
		name := name
		received := make(chan struct{}, 1)
		g.Expect(r.Register(context.Background(), ConsumerSpec{
			Name:         name,
			Exchange:     "neon_test_fanout",
			ExchangeType: ExchangeFanout,
			Callback: func(ctx context.Context, d amqp.Delivery) error {
				received <- struct{}{}
				return d.Ack(false)
			},
		})).To(Succeed())
		receivedChans = append(receivedChans, received)
	}
	g.Expect(r.Run(context.Background())).To(Succeed())
	defer r.Stop(context.Background())

	pub := NewPublisher(params, factory, nil)
	conn, err := factory.Dial(params)
	g.Expect(err).NotTo(HaveOccurred())
	defer conn.Close()

	_, err = pub.PublishFanout(conn, Record{"x": float64(1)}, "neon_test_fanout", 0)
	g.Expect(err).NotTo(HaveOccurred())

	for _, received := range receivedChans {
		select {
		case <-received:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for fanout delivery")
		}
	}
}

// Scenario 5: the supervisor restarts a started consumer whose worker is
// marked dead (simulated here by setting its state directly) and the
// restarted worker reaches the consuming state.
func TestIntegrationSupervisorRestartsKilledConsumer(t *testing.T) {
	g := NewWithT(t)
	params := integrationParams(t)
	factory := NewConnectionFactory()

	r := NewRegistry(params, factory)
	g.Expect(r.Register(context.Background(), ConsumerSpec{
		Name:          "scenario5",
		Queue:         "neon_test_scenario5",
		RestartBudget: 3,
		Callback:      noopCallback,
	})).To(Succeed())
	g.Expect(r.Run(context.Background())).To(Succeed())
	defer r.Stop(context.Background())

	sup := NewSupervisor(r, time.Hour, nil)

	state, _ := r.Get("scenario5")
	state.Worker.setState(StateDead)

	sup.Tick(context.Background())

	g.Eventually(func() WorkerState {
		s, _ := r.Get("scenario5")
		if s.Worker == nil {
			return StateDead
		}
		return s.Worker.State()
	}, 5*time.Second, 100*time.Millisecond).Should(Equal(StateConsuming))
}

// Scenario 6: request_reply round-trips a request through a responder
// consumer and returns the matching reply.
func TestIntegrationRequestReplyRoundTrips(t *testing.T) {
	g := NewWithT(t)
	params := integrationParams(t)
	factory := NewConnectionFactory()

	r := NewRegistry(params, factory)
	pub := NewPublisher(params, factory, nil)

	g.Expect(r.Register(context.Background(), ConsumerSpec{
		Name:  "responder",
		Queue: "neon_test_request",
		Callback: func(ctx context.Context, d amqp.Delivery) error {
			req, err := Decode(d.Body)
			if err != nil {
				return err
			}
			reply := Record{"message_id": req["message_id"], "answer": "pong"}
			body, err := Encode(reply)
			if err != nil {
				return err
			}
			if err := d.Ack(false); err != nil {
				return err
			}
			conn, err := factory.Dial(params)
			if err != nil {
				return err
			}
			defer conn.Close()
			ch, err := conn.Channel()
			if err != nil {
				return err
			}
			defer ch.Close()
			return ch.Publish("", d.ReplyTo, false, false, amqp.Publishing{
				Body: body, CorrelationId: d.CorrelationId,
			})
		},
	})).To(Succeed())
	g.Expect(r.Run(context.Background())).To(Succeed())
	defer r.Stop(context.Background())

	reply, err := pub.RequestReply(context.Background(), "", Record{"ping": "?"}, "neon_test_request", "", 5*time.Second)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(reply["answer"]).To(Equal("pong"))
}

// Scenario 6 (vhost rejection): a nonexistent vhost must fail with
// InvalidVhost within 5s, not after the full connect-retry budget (~75s).
func TestIntegrationRequestReplyFailsFastOnBadVhost(t *testing.T) {
	g := NewWithT(t)
	params := integrationParams(t)
	params.Vhost = "/neon_test_nonexistent_vhost"
	factory := NewConnectionFactory()
	pub := NewPublisher(params, factory, nil)

	start := time.Now()
	_, err := pub.RequestReply(context.Background(), "", Record{"ping": "?"}, "q", "", time.Second)
	elapsed := time.Since(start)

	g.Expect(err).To(HaveOccurred())
	g.Expect(IsKind(err, KindInvalidVhost)).To(BeTrue())
	g.Expect(elapsed).To(BeNumerically("<", 5*time.Second))
}
