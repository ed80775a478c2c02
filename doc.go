// Package connector is a service-side AMQP 0-9-1 messaging connector.
//
// It lets a long-running service attach to a broker and participate in
// request/response, work-queue and pub/sub patterns: a named registry of
// consumers bound to a queue and optional exchange, a supervisor that
// restarts dead-but-expected-alive consumers within a per-consumer budget,
// a periodic heartbeat publisher, and publish/request-reply helpers.
//
// The broker client itself, configuration loading, and the embedding
// service's business callbacks are treated as external collaborators; see
// the config and metrics subpackages for the satellite pieces this module
// ships for convenience.
package connector
