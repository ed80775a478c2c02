package connector

import (
	"context"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/NeonGeckoCom/neon-mq-connector/metrics"
)

// DefaultExpirationMs is the message TTL applied when a caller doesn't
// specify one.
const DefaultExpirationMs = 1000

// Publisher implements the one-shot publish, fanout, and request/reply
// helpers of spec §4.H. Each call that needs a connection either reuses a
// caller-supplied one (Emit/PublishFanout) or opens and tears down a
// short-lived one of its own (SendMessage/RequestReply), per spec §5:
// "Heartbeat and publishers each use their own short-lived connections".
type Publisher struct {
	base    ConnectionParams
	factory *ConnectionFactory
	metrics *metrics.Registry
}

// NewPublisher returns a Publisher using base's host/port/credentials (its
// Vhost is overridden per call) and factory to open scoped connections. m
// may be nil to skip metrics.
func NewPublisher(base ConnectionParams, factory *ConnectionFactory, m *metrics.Registry) *Publisher {
	if factory == nil {
		factory = NewConnectionFactory()
	}
	return &Publisher{base: base, factory: factory, metrics: m}
}

// Emit validates data, injects a fresh message_id, opens a short-lived
// channel on conn, (re)declares the given exchange/queue (binding for
// fanout), publishes with the given TTL, and returns the message_id.
func (p *Publisher) Emit(conn *amqp.Connection, data Record, exchange, queue string, exchangeType ExchangeType, expirationMs int) (string, error) {
	if len(data) == 0 {
		return "", newErr(KindInvalidRequest, "empty or missing request data", nil)
	}
	if exchangeType == "" {
		exchangeType = ExchangeDirect
	}
	if expirationMs <= 0 {
		expirationMs = DefaultExpirationMs
	}

	messageID := NewID()
	payload := data.Clone()
	payload["message_id"] = messageID

	ch, err := conn.Channel()
	if err != nil {
		return "", newErr(KindBrokerUnavailable, "open publish channel", err)
	}
	defer ch.Close()

	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, string(exchangeType), false, false, false, false, nil); err != nil {
			return "", newErr(KindBrokerUnavailable, "declare exchange", err)
		}
	}
	if queue != "" {
		declared, err := ch.QueueDeclare(queue, false, false, false, false, nil)
		if err != nil {
			return "", newErr(KindBrokerUnavailable, "declare queue", err)
		}
		if exchangeType == ExchangeFanout {
			if err := ch.QueueBind(declared.Name, "", exchange, false, nil); err != nil {
				return "", newErr(KindBrokerUnavailable, "bind queue", err)
			}
		}
	}

	body, err := Encode(payload)
	if err != nil {
		return "", newErr(KindInvalidRequest, "encode payload", err)
	}

	err = ch.Publish(exchange, queue, false, false, amqp.Publishing{
		Body:       body,
		Expiration: strconv.Itoa(expirationMs),
	})
	if err != nil {
		return "", newErr(KindBrokerUnavailable, "publish", err)
	}

	if p.metrics != nil {
		p.metrics.MessagesEmitted.WithLabelValues(string(exchangeType)).Inc()
	}
	return messageID, nil
}

// PublishFanout is a thin wrapper over Emit with exchangeType=fanout and an
// empty queue/routing key.
func (p *Publisher) PublishFanout(conn *amqp.Connection, data Record, exchange string, expirationMs int) (string, error) {
	return p.Emit(conn, data, exchange, "", ExchangeFanout, expirationMs)
}

// SendMessage opens a scoped connection on the resolved vhost (p.base.Vhost
// if vhost is empty) and delegates to Emit or PublishFanout.
func (p *Publisher) SendMessage(ctx context.Context, data Record, vhost, exchange, queue string, exchangeType ExchangeType, expirationMs int) (string, error) {
	params := p.base
	if vhost != "" {
		params.Vhost = vhost
	}

	conn, err := p.dial(params)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if exchangeType == ExchangeFanout {
		return p.PublishFanout(conn, data, exchange, expirationMs)
	}
	return p.Emit(conn, data, exchange, queue, exchangeType, expirationMs)
}

// dial opens a scoped connection via p.factory. factory.Dial already
// classifies a vhost/auth rejection as KindInvalidVhost (see connection.go's
// isPermanentDialErr), so there's nothing left to reclassify here.
func (p *Publisher) dial(params ConnectionParams) (*amqp.Connection, error) {
	return p.factory.Dial(params)
}

func isVhostError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "vhost") ||
		strings.Contains(strings.ToLower(err.Error()), "not_allowed") ||
		strings.Contains(strings.ToLower(err.Error()), "access refused")
}

// RequestReply generates a message_id, registers a one-shot consumer on
// outputQueue (a fresh exclusive queue if outputQueue is empty), publishes
// request to inputQueue with that message_id embedded, and waits up to
// timeout for a reply whose embedded message_id matches.
func (p *Publisher) RequestReply(ctx context.Context, vhost string, request Record, inputQueue, outputQueue string, timeout time.Duration) (Record, error) {
	start := time.Now()
	if p.metrics != nil {
		defer func() { p.metrics.RequestReplyLatency.Observe(time.Since(start).Seconds()) }()
	}

	params := p.base
	if vhost != "" {
		params.Vhost = vhost
	}

	conn, err := p.dial(params)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return nil, newErr(KindBrokerUnavailable, "open request/reply channel", err)
	}
	defer ch.Close()

	replyQueue, err := ch.QueueDeclare(outputQueue, false, false, outputQueue == "", false, nil)
	if err != nil {
		return nil, newErr(KindBrokerUnavailable, "declare reply queue", err)
	}

	deliveries, err := ch.Consume(replyQueue.Name, "", false, outputQueue == "", false, false, nil)
	if err != nil {
		return nil, newErr(KindBrokerUnavailable, "consume reply queue", err)
	}

	messageID := NewID()
	payload := request.Clone()
	payload["message_id"] = messageID
	body, err := Encode(payload)
	if err != nil {
		return nil, newErr(KindInvalidRequest, "encode request", err)
	}

	if err := ch.Publish("", inputQueue, false, false, amqp.Publishing{
		Body:          body,
		Expiration:    strconv.Itoa(int(timeout.Milliseconds())),
		ReplyTo:       replyQueue.Name,
		CorrelationId: messageID,
	}); err != nil {
		return nil, newErr(KindBrokerUnavailable, "publish request", err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, newErr(KindTimeout, "request_reply cancelled", ctx.Err())
		case <-deadline.C:
			if p.metrics != nil {
				p.metrics.RequestReplyTimeouts.Inc()
			}
			return nil, newErr(KindTimeout, "request_reply timed out after "+timeout.String(), nil)
		case delivery, ok := <-deliveries:
			if !ok {
				return nil, newErr(KindBrokerUnavailable, "reply queue delivery channel closed", nil)
			}
			reply, err := Decode(delivery.Body)
			_ = delivery.Ack(false)
			if err != nil {
				continue // malformed reply from an unrelated producer; keep waiting
			}
			if id, _ := reply["message_id"].(string); id != messageID {
				continue // reply to a different in-flight request sharing this queue
			}
			return reply, nil
		}
	}
}
