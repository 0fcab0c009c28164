package orchestrator

import (
	"context"

	"call-orchestrator/internal/messaging"
	"call-orchestrator/internal/telephony"
	"call-orchestrator/pkg/logger"
)

// HandleMessageEvent routes one messaging webhook event. The path mirrors
// the call path in miniature: resolve the org, create or advance the row,
// never regress a terminal status, drop what cannot be attributed.
func (e *Engine) HandleMessageEvent(ctx context.Context, evt telephony.Event) error {
	log := logger.From(ctx).With("event_type", evt.Type, "message_id", evt.MessageID)

	if evt.MessageID == "" {
		log.Warn("message event without provider id, dropping")
		return nil
	}

	switch evt.Type {
	case telephony.EventMessageReceived:
		return e.recordInboundMessage(ctx, evt)

	case telephony.EventMessageSent:
		m, ok, err := e.messages.GetByProviderID(ctx, evt.MessageID)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug("sent event for unknown message, dropping")
			return nil
		}
		if m.Status.Terminal() || m.Status == messaging.MessageStatusSent {
			return nil
		}
		t := e.eventTime(evt)
		m.Status = messaging.MessageStatusSent
		if m.SentAt == nil {
			m.SentAt = &t
		}
		m.UpdatedAt = e.now()
		return e.messages.Update(ctx, m)

	case telephony.EventMessageDeliveryStatus:
		m, ok, err := e.messages.GetByProviderID(ctx, evt.MessageID)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug("delivery status for unknown message, dropping")
			return nil
		}
		if m.Status.Terminal() {
			return nil
		}
		t := e.eventTime(evt)
		switch evt.MessageStatus {
		case "sending_failed", "delivery_failed", "failed":
			m.Status = messaging.MessageStatusFailed
		default:
			m.Status = messaging.MessageStatusDelivered
			if m.DeliveredAt == nil {
				m.DeliveredAt = &t
			}
		}
		m.UpdatedAt = e.now()
		return e.messages.Update(ctx, m)

	default:
		log.Debug("ignoring message event")
		return nil
	}
}

func (e *Engine) recordInboundMessage(ctx context.Context, evt telephony.Event) error {
	log := logger.From(ctx)

	// At-least-once delivery: the provider id is the dedup key.
	if _, ok, err := e.messages.GetByProviderID(ctx, evt.MessageID); err != nil {
		return err
	} else if ok {
		return nil
	}

	to := ""
	if len(evt.MessageTo) > 0 {
		to = evt.MessageTo[0]
	}
	orgID, ok, err := e.resolver.ResolveMessage(ctx, to, evt.MessageFrom)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("inbound message resolves to no org, dropping", "to", to, "from", evt.MessageFrom)
		return nil
	}

	now := e.now()
	t := e.eventTime(evt)
	return e.messages.Create(ctx, messaging.Message{
		ID:                e.newID(),
		OrgID:             orgID,
		ProviderMessageID: evt.MessageID,
		FromNumber:        evt.MessageFrom,
		ToNumber:          to,
		Direction:         "inbound",
		Text:              evt.Text,
		Status:            messaging.MessageStatusDelivered,
		DeliveredAt:       &t,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}
