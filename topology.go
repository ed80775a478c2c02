package connector

import (
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupTopology declares/binds the queue and (optional) exchange described
// by spec on ch, and returns the concrete queue name to consume from. It is
// the single pure function spec §9's design notes call for, shared by both
// the blocking and async dispatch flavors so topology setup isn't
// duplicated between them.
//
// Edge cases handled per spec §4.D: an empty spec.Queue requests a
// server-assigned name, which is returned so callers (and the spec's
// consumer, for subsequent publishes) can see it; a fanout exchange binds
// with an empty routing key regardless of the queue name.
func setupTopology(ch *amqp.Channel, spec ConsumerSpec) (string, error) {
	if err := ch.Qos(spec.Prefetch, 0, false); err != nil {
		return "", errors.Wrap(err, "set qos")
	}

	if spec.QueueReset && spec.Queue != "" {
		if _, err := ch.QueueDelete(spec.Queue, false, false, false); err != nil {
			return "", errors.Wrap(err, "delete queue")
		}
	}

	q, err := ch.QueueDeclare(spec.Queue, false /* durable */, false, /* auto_delete=false per spec */
		spec.QueueExclusive, false, nil)
	if err != nil {
		return "", errors.Wrap(err, "declare queue")
	}
	queueName := q.Name

	if spec.Exchange != "" {
		if spec.ExchangeReset {
			if err := ch.ExchangeDelete(spec.Exchange, false, false); err != nil {
				return "", errors.Wrap(err, "delete exchange")
			}
		}
		if err := ch.ExchangeDeclare(spec.Exchange, string(spec.ExchangeType), false, /* auto_delete=false */
			false, false, false, nil); err != nil {
			return "", errors.Wrap(err, "declare exchange")
		}

		routingKey := queueName
		if spec.ExchangeType == ExchangeFanout {
			routingKey = ""
		}
		if err := ch.QueueBind(queueName, routingKey, spec.Exchange, false, nil); err != nil {
			return "", errors.Wrap(err, "bind queue")
		}
	}

	return queueName, nil
}
