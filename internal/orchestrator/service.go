package orchestrator

import (
	"context"

	"call-orchestrator/internal/calls"
	"call-orchestrator/internal/cascade"
	"call-orchestrator/internal/telephony"
	"call-orchestrator/pkg/logger"
)

// InitiateCallParams describes an outbound call to place.
type InitiateCallParams struct {
	OrgID  string
	From   string
	To     string
	LeadID string
}

// InitiateCallWithCascade places an outbound call and records its cascade
// plan. The call is dialed toward To; once the provider confirms it with a
// call.initiated webhook, the engine starts working through the planned legs.
// The returned detail carries those legs so callers see the plan up front.
func (e *Engine) InitiateCallWithCascade(ctx context.Context, p InitiateCallParams) (CallDetail, error) {
	log := logger.From(ctx).With("org_id", p.OrgID)

	if !cascade.IsE164(p.To) {
		return CallDetail{}, newError(CodeConfiguration, "destination must be an E.164 number", nil)
	}
	if !cascade.IsE164(p.From) {
		return CallDetail{}, newError(CodeConfiguration, "caller id must be an E.164 number", nil)
	}

	cfg, ok, err := e.tenants.GetTelephonyConfig(ctx, p.OrgID)
	if err != nil {
		return CallDetail{}, err
	}
	if !ok || cfg.ConnectionID == "" {
		return CallDetail{}, newError(CodeConfiguration, "telephony is not configured for this organization", nil)
	}

	webhookURL, warned := e.callbacks.Resolve(cfg.WebhookURL)
	if warned {
		log.Warn("configured webhook url rejected, using canonical", "configured", cfg.WebhookURL)
	}

	res, err := e.provider.Dial(ctx, telephony.DialRequest{
		To:           p.To,
		From:         p.From,
		ConnectionID: cfg.ConnectionID,
		WebhookURL:   webhookURL,
	})
	if err != nil {
		return CallDetail{}, newError(CodeProvider, "dial command failed", err)
	}

	now := e.now()
	call := calls.Call{
		ID:             e.newID(),
		OrgID:          p.OrgID,
		ProviderCallID: res.CallControlID,
		FromNumber:     p.From,
		ToNumber:       p.To,
		Direction:      calls.DirectionOutbound,
		Status:         calls.CallStatusInitiated,
		LeadID:         p.LeadID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.calls.CreateCall(ctx, call); err != nil {
		return CallDetail{}, err
	}
	if err := e.ensureLegs(ctx, &call); err != nil {
		return CallDetail{}, err
	}
	legs, err := e.calls.ListLegs(ctx, call.ID)
	if err != nil {
		return CallDetail{}, err
	}

	log.Info("call initiated", "call_id", call.ID, "provider_call_id", call.ProviderCallID)
	return CallDetail{Call: call, Legs: legs}, nil
}

// CallDetail is a call with its legs in cascade order.
type CallDetail struct {
	Call calls.Call      `json:"call"`
	Legs []calls.CallLeg `json:"legs"`
}

func (e *Engine) GetCall(ctx context.Context, callID string) (CallDetail, error) {
	call, err := e.calls.GetCall(ctx, callID)
	if err != nil {
		return CallDetail{}, err
	}
	legs, err := e.calls.ListLegs(ctx, callID)
	if err != nil {
		return CallDetail{}, err
	}
	return CallDetail{Call: call, Legs: legs}, nil
}

// UpdateCallLegStatus applies a manual status change to a leg, under the
// same no-regression rules as the webhook path. A change that would regress
// is ignored and the current leg is returned; callers can compare.
//
// A terminal status on an unanswered call advances the cascade, exactly as
// if the provider had reported the outcome.
func (e *Engine) UpdateCallLegStatus(ctx context.Context, callID, destination string, status calls.LegStatus) (calls.CallLeg, error) {
	dest := telephony.NormalizeDestination(destination)
	leg, ok, err := e.calls.GetLegByDestination(ctx, callID, dest)
	if err != nil {
		return calls.CallLeg{}, err
	}
	if !ok {
		return calls.CallLeg{}, calls.ErrNotFound
	}

	if err := e.transitionLeg(ctx, &leg, status, telephony.Event{}); err != nil {
		return calls.CallLeg{}, err
	}

	if status.Terminal() {
		call, err := e.calls.GetCall(ctx, callID)
		if err != nil {
			return calls.CallLeg{}, err
		}
		if err := e.advance(ctx, &call); err != nil {
			return calls.CallLeg{}, err
		}
	}
	return leg, nil
}
