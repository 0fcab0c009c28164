package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"call-orchestrator/internal/calls"
	"call-orchestrator/internal/cascade"
	"call-orchestrator/internal/messaging"
	"call-orchestrator/internal/secrets"
	"call-orchestrator/internal/telephony"
	"call-orchestrator/internal/tenant"
	"call-orchestrator/pkg/logger"
)

// Provider is the slice of the telephony client the engine needs.
type Provider interface {
	Dial(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error)
	Transfer(ctx context.Context, req telephony.TransferRequest) error
}

// Engine drives calls through their cascade. It owns every mutation of call
// and leg state; webhooks, the admin API and call initiation all funnel into
// it so the no-regression rules live in exactly one place.
//
// The provider delivers webhooks at-least-once and out of order. Every
// handler is therefore written as read-current-state, check, write: applying
// the same event twice must change nothing.
type Engine struct {
	calls     calls.Repository
	tenants   tenant.Repository
	messages  messaging.Repository
	resolver  *tenant.Resolver
	planner   *cascade.Planner
	provider  Provider
	box       *secrets.Box
	callbacks telephony.CallbackResolver

	// legTimeoutSecs applies to legs whose endpoint carries no timeout.
	legTimeoutSecs int

	now   func() time.Time
	newID func() string
}

// Deps are the collaborators an Engine needs. Now and NewID default to the
// real clock and random UUIDs; tests pin them.
type Deps struct {
	Calls     calls.Repository
	Tenants   tenant.Repository
	Messages  messaging.Repository
	Provider  Provider
	Secrets   *secrets.Box
	Callbacks telephony.CallbackResolver

	// TransferTimeout is the default ring timeout per cascade leg.
	TransferTimeout time.Duration

	Now   func() time.Time
	NewID func() string
}

func NewEngine(d Deps) *Engine {
	e := &Engine{
		calls:     d.Calls,
		tenants:   d.Tenants,
		messages:  d.Messages,
		resolver:  tenant.NewResolver(d.Tenants),
		planner:   cascade.NewPlanner(d.Tenants),
		provider:  d.Provider,
		box:       d.Secrets,
		callbacks: d.Callbacks,
		now:       d.Now,
		newID:     d.NewID,
	}
	e.legTimeoutSecs = int(d.TransferTimeout / time.Second)
	if e.legTimeoutSecs <= 0 {
		e.legTimeoutSecs = 30
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// HandleCallEvent routes one call-control webhook event.
//
// Attribution order: an exact call_control_id match means the event is about
// the main call. Otherwise, if the event's From equals the DID of an active
// call, the provider is dialing a cascade destination on our behalf and the
// event describes that leg. Anything else is either a brand-new inbound call
// or noise to drop.
func (e *Engine) HandleCallEvent(ctx context.Context, evt telephony.Event) error {
	log := logger.From(ctx).With("event_type", evt.Type, "call_control_id", evt.CallControlID)

	if evt.Type == telephony.EventMachineDetectionDone {
		// Informational only; detection results never move call state.
		log.Info("machine detection result", "result", evt.State)
		return nil
	}

	call, found, err := e.calls.GetCallByProviderID(ctx, evt.CallControlID)
	if err != nil {
		return err
	}
	if found {
		return e.handleMainCallEvent(ctx, call, evt)
	}

	if evt.From != "" {
		owner, ok, err := e.calls.FindActiveCallByDID(ctx, evt.From)
		if err != nil {
			return err
		}
		if ok {
			return e.handleLegEvent(ctx, owner, evt)
		}
	}

	if evt.Type == telephony.EventCallInitiated && isInbound(evt.Direction) {
		return e.startInboundCall(ctx, evt)
	}

	log.Debug("dropping event for unknown call")
	return nil
}

func isInbound(direction string) bool {
	return direction == "incoming" || direction == "inbound"
}

func (e *Engine) handleMainCallEvent(ctx context.Context, call calls.Call, evt telephony.Event) error {
	switch evt.Type {
	case telephony.EventCallInitiated:
		if err := e.ensureLegs(ctx, &call); err != nil {
			return err
		}
		return e.advance(ctx, &call)

	case telephony.EventCallRinging:
		if call.Status == calls.CallStatusInitiated {
			call.Status = calls.CallStatusRinging
			call.UpdatedAt = e.now()
			return e.calls.UpdateCall(ctx, call)
		}
		return nil

	case telephony.EventCallAnswered, telephony.EventCallBridged:
		if call.Status.Terminal() || call.Status == calls.CallStatusInProgress {
			return nil
		}
		t := e.eventTime(evt)
		call.Status = calls.CallStatusInProgress
		if call.StartedAt == nil {
			call.StartedAt = &t
		}
		call.UpdatedAt = e.now()
		return e.calls.UpdateCall(ctx, call)

	case telephony.EventCallHangup, telephony.EventCallCompleted:
		return e.finishCall(ctx, call, evt)

	default:
		return nil
	}
}

// startInboundCall creates state for a call the provider originated toward
// one of our DIDs. An event that resolves to no org is dropped: creating
// rows under a guessed org would cross tenants.
func (e *Engine) startInboundCall(ctx context.Context, evt telephony.Event) error {
	log := logger.From(ctx)

	orgID, ok, err := e.resolver.ResolveCall(ctx, evt.ConnectionID, evt.To)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("inbound call resolves to no org, dropping",
			"connection_id", evt.ConnectionID, "to", evt.To)
		return nil
	}

	now := e.now()
	call := calls.Call{
		ID:             e.newID(),
		OrgID:          orgID,
		ProviderCallID: evt.CallControlID,
		FromNumber:     evt.From,
		ToNumber:       evt.To,
		Direction:      calls.DirectionInbound,
		Status:         calls.CallStatusInitiated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.calls.CreateCall(ctx, call); err != nil {
		return err
	}
	if err := e.ensureLegs(ctx, &call); err != nil {
		return err
	}
	return e.advance(ctx, &call)
}

// ensureLegs materializes the cascade plan as pending legs, once.
func (e *Engine) ensureLegs(ctx context.Context, call *calls.Call) error {
	existing, err := e.calls.ListLegs(ctx, call.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	plan, err := e.planner.Plan(ctx, call.OrgID)
	if err != nil {
		return err
	}
	now := e.now()
	for _, pl := range plan {
		leg := calls.CallLeg{
			ID:            e.newID(),
			CallID:        call.ID,
			LegType:       pl.LegType,
			SipEndpointID: pl.SipEndpointID,
			Destination:   telephony.NormalizeDestination(pl.Destination),
			Status:        calls.LegStatusPending,
			Priority:      pl.Priority,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := e.calls.CreateLeg(ctx, leg); err != nil {
			return err
		}
	}
	return nil
}

// advance moves the cascade forward: dial the next pending leg, or complete
// the call when every leg has been tried. At most one transfer command is
// issued per invocation; a transfer that fails synchronously marks its leg
// failed and falls through to the next one in the same pass.
func (e *Engine) advance(ctx context.Context, call *calls.Call) error {
	log := logger.From(ctx).With("call_id", call.ID)

	if call.Answered() || call.Status.Terminal() {
		return nil
	}

	for {
		legs, err := e.calls.ListLegs(ctx, call.ID)
		if err != nil {
			return err
		}
		if len(legs) == 0 {
			// No cascade configured; the call proceeds as dialed.
			return nil
		}

		for i := range legs {
			switch legs[i].Status {
			case calls.LegStatusDialing, calls.LegStatusAnswered:
				// A leg is in flight; its webhook outcome decides what
				// happens next.
				return nil
			}
		}

		next, ok, err := e.calls.NextPendingLeg(ctx, call.ID)
		if err != nil {
			return err
		}
		if !ok {
			log.Info("cascade exhausted, completing call")
			return e.completeCall(ctx, call)
		}

		if err := e.dialLeg(ctx, *call, &next); err != nil {
			log.Warn("leg transfer failed, advancing",
				"destination", next.Destination, "code", CodeOf(err), "err", err)
			continue
		}
		return nil
	}
}

// dialLeg issues the transfer for one leg. The leg is marked dialing before
// the command goes out so a fast webhook reply still finds it; a synchronous
// failure rolls that forward to failed.
func (e *Engine) dialLeg(ctx context.Context, call calls.Call, leg *calls.CallLeg) error {
	req := telephony.TransferRequest{
		CallControlID: call.ProviderCallID,
		TimeoutSecs:   e.legTimeoutSecs,
	}

	if leg.LegType == calls.LegTypeSIP && leg.SipEndpointID != "" {
		ep, err := e.tenants.GetSipEndpoint(ctx, leg.SipEndpointID)
		if err != nil {
			e.failLeg(ctx, leg)
			return newError(CodeDataIntegrity, "leg references unknown sip endpoint", err)
		}
		password, err := e.box.Decrypt(ep.EncryptedPassword)
		if err != nil {
			e.failLeg(ctx, leg)
			return newError(CodeSipCredentials, "sip password cannot be decrypted", err)
		}
		req.To = ep.Address()
		req.SipAuthUsername = ep.Username
		req.SipAuthPassword = password
		if ep.TimeoutSecs > 0 {
			req.TimeoutSecs = ep.TimeoutSecs
		}
	} else {
		req.To = leg.Destination
	}

	cfg, ok, err := e.tenants.GetTelephonyConfig(ctx, call.OrgID)
	if err != nil {
		return err
	}
	configured := ""
	if ok {
		configured = cfg.WebhookURL
	}
	req.WebhookURL, _ = e.callbacks.Resolve(configured)

	now := e.now()
	leg.Status = calls.LegStatusDialing
	leg.DialedAt = &now
	leg.UpdatedAt = now
	if err := e.calls.UpdateLeg(ctx, *leg); err != nil {
		return err
	}

	if err := e.provider.Transfer(ctx, req); err != nil {
		e.failLeg(ctx, leg)
		return newError(CodeProvider, "transfer command failed", err)
	}
	return nil
}

func (e *Engine) failLeg(ctx context.Context, leg *calls.CallLeg) {
	now := e.now()
	leg.Status = calls.LegStatusFailed
	leg.EndedAt = &now
	leg.UpdatedAt = now
	if err := e.calls.UpdateLeg(ctx, *leg); err != nil {
		logger.From(ctx).Error("failed to persist leg failure", "leg_id", leg.ID, "err", err)
	}
}

// handleLegEvent applies a provider event to the cascade leg it describes.
// The event's To identifies the destination; a leg that does not exist yet
// is synthesized, since provider events can outrun our own bookkeeping.
func (e *Engine) handleLegEvent(ctx context.Context, call calls.Call, evt telephony.Event) error {
	dest := telephony.NormalizeDestination(evt.To)
	if dest == "" {
		return nil
	}
	log := logger.From(ctx).With("call_id", call.ID, "destination", dest)

	leg, ok, err := e.calls.GetLegByDestination(ctx, call.ID, dest)
	if err != nil {
		return err
	}
	if !ok {
		leg, err = e.synthesizeLeg(ctx, call, evt, dest)
		if err != nil {
			return err
		}
		log.Info("synthesized leg from provider event", "leg_id", leg.ID)
	}

	switch evt.Type {
	case telephony.EventCallInitiated, telephony.EventCallRinging:
		return e.transitionLeg(ctx, &leg, calls.LegStatusDialing, evt)

	case telephony.EventCallAnswered, telephony.EventCallBridged:
		if err := e.transitionLeg(ctx, &leg, calls.LegStatusAnswered, evt); err != nil {
			return err
		}
		return e.markAnswered(ctx, call, dest, evt)

	case telephony.EventCallHangup, telephony.EventCallCompleted:
		next := legOutcome(leg.Status, evt.HangupCause)
		if err := e.transitionLeg(ctx, &leg, next, evt); err != nil {
			return err
		}
		// Refresh: a concurrent answered event may have landed.
		current, err := e.calls.GetCall(ctx, call.ID)
		if err != nil {
			return err
		}
		return e.advance(ctx, &current)

	default:
		return nil
	}
}

func (e *Engine) synthesizeLeg(ctx context.Context, call calls.Call, evt telephony.Event, dest string) (calls.CallLeg, error) {
	existing, err := e.calls.ListLegs(ctx, call.ID)
	if err != nil {
		return calls.CallLeg{}, err
	}
	maxPriority := 0
	for _, l := range existing {
		if l.Priority > maxPriority {
			maxPriority = l.Priority
		}
	}

	now := e.now()
	leg := calls.CallLeg{
		ID:          e.newID(),
		CallID:      call.ID,
		LegType:     calls.LegTypePSTN,
		Destination: dest,
		Status:      calls.LegStatusPending,
		Priority:    maxPriority + 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if telephony.LooksLikeSIP(evt.To) {
		leg.LegType = calls.LegTypeSIP
		if user := telephony.SIPUsername(evt.To); user != "" {
			ep, ok, err := e.tenants.FindSipEndpointByUsername(ctx, call.OrgID, user)
			if err != nil {
				return calls.CallLeg{}, err
			}
			if ok {
				leg.SipEndpointID = ep.ID
			}
		}
	}
	if err := e.calls.CreateLeg(ctx, leg); err != nil {
		return calls.CallLeg{}, err
	}
	return leg, nil
}

// transitionLeg applies one status change under the no-regression rules and
// fills the timestamps the new status implies. Duplicates are no-ops.
func (e *Engine) transitionLeg(ctx context.Context, leg *calls.CallLeg, next calls.LegStatus, evt telephony.Event) error {
	if leg.Status == next || leg.Status.Regresses(next) {
		return nil
	}
	t := e.eventTime(evt)
	leg.Status = next
	switch next {
	case calls.LegStatusDialing:
		if leg.DialedAt == nil {
			leg.DialedAt = &t
		}
	case calls.LegStatusAnswered:
		if leg.AnsweredAt == nil {
			leg.AnsweredAt = &t
		}
	case calls.LegStatusBusy, calls.LegStatusTimeout, calls.LegStatusFailed, calls.LegStatusCompleted:
		if leg.EndedAt == nil {
			leg.EndedAt = &t
		}
		if evt.HangupDurationMillis > 0 {
			leg.DurationSeconds = int(evt.HangupDurationMillis / 1000)
		}
	}
	leg.UpdatedAt = e.now()
	return e.calls.UpdateLeg(ctx, *leg)
}

// legOutcome maps a hangup on a leg to its terminal status. An answered leg
// that hangs up completed normally; everything else depends on the cause.
func legOutcome(current calls.LegStatus, hangupCause string) calls.LegStatus {
	if current == calls.LegStatusAnswered {
		return calls.LegStatusCompleted
	}
	switch hangupCause {
	case "user_busy", "busy":
		return calls.LegStatusBusy
	case "timeout", "time_out", "no_answer":
		return calls.LegStatusTimeout
	default:
		return calls.LegStatusFailed
	}
}

// markAnswered records which destination picked up. AnsweredBy is
// write-once: a duplicate or late answered event for any leg cannot steal
// the call from the destination that already has it.
func (e *Engine) markAnswered(ctx context.Context, call calls.Call, dest string, evt telephony.Event) error {
	current, err := e.calls.GetCall(ctx, call.ID)
	if err != nil {
		return err
	}
	if current.Answered() || current.Status.Terminal() {
		return nil
	}
	t := e.eventTime(evt)
	current.AnsweredBy = dest
	current.Status = calls.CallStatusInProgress
	if current.StartedAt == nil {
		current.StartedAt = &t
	}
	current.UpdatedAt = e.now()
	return e.calls.UpdateCall(ctx, current)
}

// finishCall finalizes the main call on hangup and settles every leg still
// open: the answering leg completed, everything else failed. Nothing will be
// dialed for this call again.
func (e *Engine) finishCall(ctx context.Context, call calls.Call, evt telephony.Event) error {
	if call.Status.Terminal() {
		return nil
	}
	t := e.eventTime(evt)
	call.Status = calls.CallStatusCompleted
	if call.EndedAt == nil {
		call.EndedAt = &t
	}
	if evt.HangupDurationMillis > 0 {
		call.DurationSeconds = int(evt.HangupDurationMillis / 1000)
	}
	call.UpdatedAt = e.now()
	if err := e.calls.UpdateCall(ctx, call); err != nil {
		return err
	}

	legs, err := e.calls.ListLegs(ctx, call.ID)
	if err != nil {
		return err
	}
	now := e.now()
	for i := range legs {
		leg := legs[i]
		if leg.Status.Terminal() {
			continue
		}
		if leg.Status == calls.LegStatusAnswered {
			leg.Status = calls.LegStatusCompleted
			if evt.HangupDurationMillis > 0 {
				leg.DurationSeconds = int(evt.HangupDurationMillis / 1000)
			}
		} else {
			leg.Status = calls.LegStatusFailed
		}
		if leg.EndedAt == nil {
			leg.EndedAt = &t
		}
		leg.UpdatedAt = now
		if err := e.calls.UpdateLeg(ctx, leg); err != nil {
			return err
		}
	}
	return nil
}

// completeCall marks the call done without a provider hangup, used when the
// cascade runs out of destinations.
func (e *Engine) completeCall(ctx context.Context, call *calls.Call) error {
	now := e.now()
	call.Status = calls.CallStatusCompleted
	if call.EndedAt == nil {
		call.EndedAt = &now
	}
	call.UpdatedAt = now
	return e.calls.UpdateCall(ctx, *call)
}

func (e *Engine) eventTime(evt telephony.Event) time.Time {
	if !evt.OccurredAt.IsZero() {
		return evt.OccurredAt
	}
	return e.now()
}
