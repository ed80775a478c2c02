// Command neon-mq-demo registers one consumer against a local broker and
// runs it until interrupted, demonstrating the connector's Orchestrator.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/prometheus/client_golang/prometheus"

	connector "github.com/NeonGeckoCom/neon-mq-connector"
	"github.com/NeonGeckoCom/neon-mq-connector/config"
	"github.com/NeonGeckoCom/neon-mq-connector/metrics"
)

func main() {
	slog.SetDefault(
		slog.New(
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			}),
		),
	)

	orch, err := setup()
	if err != nil {
		slog.Error("unable to setup orchestrator", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := orch.RegisterConsumer(ctx, connector.ConsumerSpec{
		Name:     "demo",
		Queue:    "neon_demo_queue",
		AutoAck:  false,
		Prefetch: 10,
		Callback: func(ctx context.Context, d amqp.Delivery) error {
			slog.Debug("received message", "headers", d.Headers, "body", d.Body)
			return d.Ack(false)
		},
		OnError: func(w *connector.Worker, err error) {
			slog.Error("consumer error", "consumer", w.Name(), "error", err)
		},
	}); err != nil {
		slog.Error("unable to register consumer", "error", err)
		os.Exit(1)
	}

	if err := orch.Run(ctx, true, true, true); err != nil {
		slog.Error("unable to run orchestrator", "error", err)
		os.Exit(1)
	}

	slog.Debug("demo consumer running, waiting for interrupt...")
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := orch.Stop(stopCtx); err != nil {
		slog.Error("error stopping orchestrator", "error", err)
	}
}

func setup() (*connector.Orchestrator, error) {
	const serviceName = "neon_demo"

	cfg, err := config.Load(os.Getenv("NEON_MQ_CONFIG"))
	if err != nil {
		slog.Warn("no MQ config file found, using guest/guest defaults", "error", err)
		cfg = config.MQConfig{Server: "localhost", Port: 5672}
	}
	user, password := cfg.CredentialsFor(serviceName)

	m := metrics.New(prometheus.DefaultRegisterer)

	return connector.NewOrchestrator(connector.OrchestratorConfig{
		ServiceName: serviceName,
		Base: connector.ConnectionParams{
			Host:        cfg.Server,
			Port:        cfg.Port,
			Credentials: connector.Credentials{User: user, Password: password},
		},
		Metrics: m,
	}), nil
}
