package telephony

import (
	"context"
	"io"
	"net/http"

	"call-orchestrator/pkg/logger"

	"github.com/gin-gonic/gin"
)

// EventRouter is implemented by the orchestrator. Both methods are expected
// to swallow their own failures; anything they return is logged, not
// propagated to the provider.
type EventRouter interface {
	HandleCallEvent(ctx context.Context, evt Event) error
	HandleMessageEvent(ctx context.Context, evt Event) error
}

// WebhookHandler receives provider webhooks and dispatches them to the
// orchestrator.
//
// Contract with the provider: always acknowledge with 200 {received: true},
// whatever happens internally. A non-2xx answer triggers the provider's
// retry/backoff storm and amplifies load exactly when we are least able to
// take it.
type WebhookHandler struct {
	Router EventRouter
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	ack := func() { c.JSON(http.StatusOK, gin.H{"received": true}) }

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		log.Warn("webhook body read failed", "err", err)
		ack()
		return
	}

	evt, err := ParseEvent(body)
	if err != nil {
		log.Warn("webhook parse failed", "err", err)
		ack()
		return
	}

	log.Debug("webhook event", "type", evt.Type, "call_control_id", evt.CallControlID)

	switch {
	case evt.IsCallEvent():
		if err := h.Router.HandleCallEvent(c.Request.Context(), evt); err != nil {
			log.Error("call event handling failed", "type", evt.Type, "err", err)
		}
	case evt.IsMessageEvent():
		if err := h.Router.HandleMessageEvent(c.Request.Context(), evt); err != nil {
			log.Error("message event handling failed", "type", evt.Type, "err", err)
		}
	default:
		log.Debug("ignoring webhook event", "type", evt.Type)
	}

	ack()
}
