package client

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Workflow event types published to NATS.
const (
	EventRequestSubmitted = "request_submitted"
	EventRequestEscalated = "request_escalated"
	EventRequestApproved  = "request_approved"
	EventRequestRejected  = "request_rejected"
	EventRequestCompleted = "request_completed"
)

// WorkflowEvent is the JSON schema published to NATS.
type WorkflowEvent struct {
	EventType  string         `json:"event_type"`
	RequestID  string         `json:"request_id"`
	Actor      string         `json:"actor"`
	Recipients []string       `json:"recipients,omitempty"`
	Severity   string         `json:"severity,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EventPublisher publishes approval workflow events to NATS for consumption
// by downstream services (delivery, analytics).
//
// Subject convention: notifications.sales.<event_type>
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so event delivery failures never interrupt workflow operations.
type EventPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NewEventPublisher creates a publisher backed by the given NATS connection.
// A nil connection produces a disabled publisher.
func NewEventPublisher(nc *nats.Conn, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{nc: nc, log: log}
}

// PublishRequestEvent publishes a sales-request workflow event.
// Subject: notifications.sales.<eventType>
func (p *EventPublisher) PublishRequestEvent(eventType, requestID, actor string, recipients []string, severity string, payload map[string]any) {
	if p == nil || p.nc == nil {
		return
	}

	event := &WorkflowEvent{
		EventType:  eventType,
		RequestID:  requestID,
		Actor:      actor,
		Recipients: recipients,
		Severity:   severity,
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("events: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.sales.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", requestID).
			Msg("events: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", requestID).
		Msg("events: event published")
}
