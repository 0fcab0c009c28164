package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"call-orchestrator/internal/calls"
	"call-orchestrator/internal/messaging"
	"call-orchestrator/internal/secrets"
	"call-orchestrator/internal/telephony"
	"call-orchestrator/internal/tenant"
)

const (
	testOrgID    = "org-1"
	testDID      = "+3221110000"
	testCaller   = "+32470000001"
	testFallback = "+32471234567"
)

type fakeProvider struct {
	mu        sync.Mutex
	dials     []telephony.DialRequest
	transfers []telephony.TransferRequest

	dialErr    error
	transferFn func(telephony.TransferRequest) error
}

func (p *fakeProvider) Dial(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dialErr != nil {
		return telephony.DialResult{}, p.dialErr
	}
	p.dials = append(p.dials, req)
	return telephony.DialResult{CallControlID: fmt.Sprintf("cc-dial-%d", len(p.dials))}, nil
}

func (p *fakeProvider) Transfer(ctx context.Context, req telephony.TransferRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transferFn != nil {
		if err := p.transferFn(req); err != nil {
			return err
		}
	}
	p.transfers = append(p.transfers, req)
	return nil
}

func (p *fakeProvider) transferTargets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.transfers))
	for _, tr := range p.transfers {
		out = append(out, tr.To)
	}
	return out
}

type fixture struct {
	engine   *Engine
	provider *fakeProvider
	calls    *calls.MemoryRepo
	tenants  *tenant.MemoryRepo
	messages *messaging.MemoryRepo
	box      *secrets.Box
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")

	f := &fixture{
		provider: &fakeProvider{},
		calls:    calls.NewMemoryRepo(),
		tenants:  tenant.NewMemoryRepo(),
		messages: messaging.NewMemoryRepo(),
		box:      secrets.NewBox(key),
		now:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	seq := 0
	f.engine = NewEngine(Deps{
		Calls:     f.calls,
		Tenants:   f.tenants,
		Messages:  f.messages,
		Provider:  f.provider,
		Secrets:   f.box,
		Callbacks: telephony.CallbackResolver{PublicBaseURL: "https://crm.example.com"},
		Now:       func() time.Time { return f.now },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	return f
}

// seedOrg configures org-1 with two SIP endpoints (alice before bob) and a
// PSTN fallback number.
func (f *fixture) seedOrg(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	encrypt := func(plain string) string {
		enc, err := f.box.Encrypt(plain)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		return enc
	}

	if err := f.tenants.UpsertSipEndpoint(ctx, tenant.SipEndpoint{
		ID: "ep-alice", OrgID: testOrgID,
		Username: "alice", EncryptedPassword: encrypt("pw-alice"), Domain: "sip.telnyx.com",
		Priority: 1, TimeoutSecs: 20, Active: true,
		CreatedAt: f.now,
	}); err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	if err := f.tenants.UpsertSipEndpoint(ctx, tenant.SipEndpoint{
		ID: "ep-bob", OrgID: testOrgID,
		Username: "bob", EncryptedPassword: encrypt("pw-bob"), Domain: "sip.telnyx.com",
		Priority: 2, TimeoutSecs: 25, Active: true,
		CreatedAt: f.now.Add(time.Second),
	}); err != nil {
		t.Fatalf("seed bob: %v", err)
	}
	if err := f.tenants.SaveTelephonyConfig(ctx, tenant.TelephonyConfig{
		OrgID:          testOrgID,
		WebhookURL:     tenant.WebhookURLAuto,
		FallbackNumber: testFallback,
		ConnectionID:   "conn-1",
	}); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	f.tenants.AddConnection("conn-1", testOrgID)
	f.tenants.AddPhoneNumber(testDID, testOrgID)
}

func callEvent(typ, ccid, from, to string) telephony.Event {
	return telephony.Event{
		Type:          typ,
		CallControlID: ccid,
		From:          from,
		To:            to,
	}
}

// startInbound drives an inbound call.initiated through the engine and
// returns the created call.
func (f *fixture) startInbound(t *testing.T, ccid string) calls.Call {
	t.Helper()
	ctx := context.Background()

	evt := callEvent(telephony.EventCallInitiated, ccid, testCaller, testDID)
	evt.ConnectionID = "conn-1"
	evt.Direction = "incoming"
	if err := f.engine.HandleCallEvent(ctx, evt); err != nil {
		t.Fatalf("inbound initiated: %v", err)
	}

	call, ok, err := f.calls.GetCallByProviderID(ctx, ccid)
	if err != nil || !ok {
		t.Fatalf("call not created: ok=%v err=%v", ok, err)
	}
	return call
}

func (f *fixture) mustGetCall(t *testing.T, id string) calls.Call {
	t.Helper()
	c, err := f.calls.GetCall(context.Background(), id)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	return c
}

func (f *fixture) legByDest(t *testing.T, callID, dest string) calls.CallLeg {
	t.Helper()
	leg, ok, err := f.calls.GetLegByDestination(context.Background(), callID, telephony.NormalizeDestination(dest))
	if err != nil || !ok {
		t.Fatalf("leg %q: ok=%v err=%v", dest, ok, err)
	}
	return leg
}

func TestInboundCascade_FallsThroughToPSTN(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	call := f.startInbound(t, "cc-main")

	// The plan materialized and the first endpoint is being dialed.
	legs, _ := f.calls.ListLegs(ctx, call.ID)
	if len(legs) != 3 {
		t.Fatalf("expected 3 legs, got %d", len(legs))
	}
	if got := f.provider.transferTargets(); len(got) != 1 || got[0] != "sip:alice@sip.telnyx.com" {
		t.Fatalf("first transfer: %v", got)
	}
	tr := f.provider.transfers[0]
	if tr.SipAuthUsername != "alice" || tr.SipAuthPassword != "pw-alice" {
		t.Fatalf("sip auth not attached: %+v", tr)
	}
	if tr.TimeoutSecs != 20 {
		t.Fatalf("timeout should come from the endpoint, got %d", tr.TimeoutSecs)
	}
	if tr.WebhookURL != "https://crm.example.com/webhooks/telnyx" {
		t.Fatalf("webhook url: %q", tr.WebhookURL)
	}

	// Alice times out; bob is dialed.
	hangupA := callEvent(telephony.EventCallHangup, "cc-leg-a", testDID, "sip:alice@sip.telnyx.com")
	hangupA.HangupCause = "timeout"
	if err := f.engine.HandleCallEvent(ctx, hangupA); err != nil {
		t.Fatalf("alice hangup: %v", err)
	}
	if leg := f.legByDest(t, call.ID, "alice@sip.telnyx.com"); leg.Status != calls.LegStatusTimeout {
		t.Fatalf("alice leg status: %s", leg.Status)
	}
	if got := f.provider.transferTargets(); len(got) != 2 || got[1] != "sip:bob@sip.telnyx.com" {
		t.Fatalf("second transfer: %v", got)
	}

	// Bob is busy; the PSTN fallback is dialed without SIP auth.
	hangupB := callEvent(telephony.EventCallHangup, "cc-leg-b", testDID, "sip:bob@sip.telnyx.com")
	hangupB.HangupCause = "user_busy"
	if err := f.engine.HandleCallEvent(ctx, hangupB); err != nil {
		t.Fatalf("bob hangup: %v", err)
	}
	if leg := f.legByDest(t, call.ID, "bob@sip.telnyx.com"); leg.Status != calls.LegStatusBusy {
		t.Fatalf("bob leg status: %s", leg.Status)
	}
	got := f.provider.transferTargets()
	if len(got) != 3 || got[2] != testFallback {
		t.Fatalf("third transfer: %v", got)
	}
	if f.provider.transfers[2].SipAuthUsername != "" {
		t.Fatalf("pstn transfer must not carry sip auth")
	}

	// The fallback answers.
	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallAnswered, "cc-leg-f", testDID, testFallback)); err != nil {
		t.Fatalf("fallback answered: %v", err)
	}
	call = f.mustGetCall(t, call.ID)
	if call.AnsweredBy != testFallback {
		t.Fatalf("answered_by: %q", call.AnsweredBy)
	}
	if call.Status != calls.CallStatusInProgress {
		t.Fatalf("call status: %s", call.Status)
	}

	// Main hangup completes the call and settles the answering leg.
	hangupMain := callEvent(telephony.EventCallHangup, "cc-main", testCaller, testDID)
	hangupMain.HangupCause = "normal_clearing"
	hangupMain.HangupDurationMillis = 93400
	if err := f.engine.HandleCallEvent(ctx, hangupMain); err != nil {
		t.Fatalf("main hangup: %v", err)
	}
	call = f.mustGetCall(t, call.ID)
	if call.Status != calls.CallStatusCompleted {
		t.Fatalf("call status after hangup: %s", call.Status)
	}
	if call.DurationSeconds != 93 {
		t.Fatalf("duration: %d", call.DurationSeconds)
	}
	if leg := f.legByDest(t, call.ID, testFallback); leg.Status != calls.LegStatusCompleted {
		t.Fatalf("fallback leg status: %s", leg.Status)
	}
}

func TestDuplicateAnswered_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	call := f.startInbound(t, "cc-main")

	answered := callEvent(telephony.EventCallAnswered, "cc-leg-a", testDID, "sip:alice@sip.telnyx.com")
	for i := 0; i < 3; i++ {
		if err := f.engine.HandleCallEvent(ctx, answered); err != nil {
			t.Fatalf("answered #%d: %v", i, err)
		}
	}

	call = f.mustGetCall(t, call.ID)
	if call.AnsweredBy != "alice@sip.telnyx.com" {
		t.Fatalf("answered_by: %q", call.AnsweredBy)
	}
	// Only the initial transfer to alice; duplicates must not advance.
	if got := f.provider.transferTargets(); len(got) != 1 {
		t.Fatalf("transfers after duplicates: %v", got)
	}

	// A late answered event for another destination cannot steal the call.
	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallAnswered, "cc-leg-b", testDID, "sip:bob@sip.telnyx.com")); err != nil {
		t.Fatalf("late answered: %v", err)
	}
	if call = f.mustGetCall(t, call.ID); call.AnsweredBy != "alice@sip.telnyx.com" {
		t.Fatalf("answered_by reassigned: %q", call.AnsweredBy)
	}
}

func TestBridgedEvent_MarksLegAnswered(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	call := f.startInbound(t, "cc-main")

	// Some bridges are reported as call.bridged, without a call.answered.
	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallBridged, "cc-leg-a", testDID, "sip:alice@sip.telnyx.com")); err != nil {
		t.Fatalf("bridged: %v", err)
	}
	if leg := f.legByDest(t, call.ID, "alice@sip.telnyx.com"); leg.Status != calls.LegStatusAnswered {
		t.Fatalf("leg status: %s", leg.Status)
	}
	call = f.mustGetCall(t, call.ID)
	if call.AnsweredBy != "alice@sip.telnyx.com" {
		t.Fatalf("answered_by: %q", call.AnsweredBy)
	}
	if call.Status != calls.CallStatusInProgress {
		t.Fatalf("call status: %s", call.Status)
	}

	// The answered leg hanging up completes it; the cascade must not move
	// on to bob.
	hangup := callEvent(telephony.EventCallHangup, "cc-leg-a", testDID, "sip:alice@sip.telnyx.com")
	hangup.HangupCause = "normal_clearing"
	if err := f.engine.HandleCallEvent(ctx, hangup); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if leg := f.legByDest(t, call.ID, "alice@sip.telnyx.com"); leg.Status != calls.LegStatusCompleted {
		t.Fatalf("leg status after hangup: %s", leg.Status)
	}
	if got := f.provider.transferTargets(); len(got) != 1 {
		t.Fatalf("cascade advanced past an answered leg: %v", got)
	}
}

func TestBridgedEvent_MainCallInProgress(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	call := f.startInbound(t, "cc-main")

	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallBridged, "cc-main", testCaller, testDID)); err != nil {
		t.Fatalf("bridged: %v", err)
	}
	c := f.mustGetCall(t, call.ID)
	if c.Status != calls.CallStatusInProgress {
		t.Fatalf("status: %s", c.Status)
	}
	if c.StartedAt == nil {
		t.Fatalf("started_at not set")
	}
}

func TestLateRingingEvent_DoesNotRegressLeg(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	call := f.startInbound(t, "cc-main")

	hangup := callEvent(telephony.EventCallHangup, "cc-leg-a", testDID, "sip:alice@sip.telnyx.com")
	hangup.HangupCause = "timeout"
	if err := f.engine.HandleCallEvent(ctx, hangup); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	// The ringing event delayed in transit arrives after the outcome.
	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallRinging, "cc-leg-a", testDID, "sip:alice@sip.telnyx.com")); err != nil {
		t.Fatalf("late ringing: %v", err)
	}
	if leg := f.legByDest(t, call.ID, "alice@sip.telnyx.com"); leg.Status != calls.LegStatusTimeout {
		t.Fatalf("leg regressed to %s", leg.Status)
	}
}

func TestCascadeExhaustion_CompletesCall(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	call := f.startInbound(t, "cc-main")

	for _, dest := range []string{"sip:alice@sip.telnyx.com", "sip:bob@sip.telnyx.com", testFallback} {
		hangup := callEvent(telephony.EventCallHangup, "cc-leg-"+dest, testDID, dest)
		hangup.HangupCause = "timeout"
		if err := f.engine.HandleCallEvent(ctx, hangup); err != nil {
			t.Fatalf("hangup %s: %v", dest, err)
		}
	}

	call = f.mustGetCall(t, call.ID)
	if call.Status != calls.CallStatusCompleted {
		t.Fatalf("call status: %s", call.Status)
	}
	if call.Answered() {
		t.Fatalf("exhausted call must not be answered")
	}
	if got := f.provider.transferTargets(); len(got) != 3 {
		t.Fatalf("transfers: %v", got)
	}
}

func TestUnknownCall_NonInitiatedDropped(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	evt := callEvent(telephony.EventCallHangup, "cc-ghost", "+32499999999", "+32488888888")
	if err := f.engine.HandleCallEvent(ctx, evt); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok, _ := f.calls.GetCallByProviderID(ctx, "cc-ghost"); ok {
		t.Fatalf("ghost call must not be created")
	}
}

func TestInboundUnresolvableOrg_Dropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := callEvent(telephony.EventCallInitiated, "cc-stray", testCaller, "+32400000000")
	evt.Direction = "incoming"
	if err := f.engine.HandleCallEvent(ctx, evt); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if _, ok, _ := f.calls.GetCallByProviderID(ctx, "cc-stray"); ok {
		t.Fatalf("unattributed call must not be created")
	}
}

func TestSynchronousTransferFailure_AdvancesInHandler(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)

	f.provider.transferFn = func(req telephony.TransferRequest) error {
		if req.SipAuthUsername == "alice" {
			return &telephony.ProviderError{StatusCode: 422, Body: "no route"}
		}
		return nil
	}

	call := f.startInbound(t, "cc-main")

	if leg := f.legByDest(t, call.ID, "alice@sip.telnyx.com"); leg.Status != calls.LegStatusFailed {
		t.Fatalf("alice leg status: %s", leg.Status)
	}
	if leg := f.legByDest(t, call.ID, "bob@sip.telnyx.com"); leg.Status != calls.LegStatusDialing {
		t.Fatalf("bob leg status: %s", leg.Status)
	}
	// Exactly one transfer command landed.
	if got := f.provider.transferTargets(); len(got) != 1 || got[0] != "sip:bob@sip.telnyx.com" {
		t.Fatalf("transfers: %v", got)
	}
}

func TestUndecryptableSipPassword_SkipsLeg(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	ep, err := f.tenants.GetSipEndpoint(ctx, "ep-alice")
	if err != nil {
		t.Fatalf("get endpoint: %v", err)
	}
	ep.EncryptedPassword = "not-a-ciphertext"
	if err := f.tenants.UpsertSipEndpoint(ctx, ep); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	call := f.startInbound(t, "cc-main")

	if leg := f.legByDest(t, call.ID, "alice@sip.telnyx.com"); leg.Status != calls.LegStatusFailed {
		t.Fatalf("alice leg status: %s", leg.Status)
	}
	if got := f.provider.transferTargets(); len(got) != 1 || got[0] != "sip:bob@sip.telnyx.com" {
		t.Fatalf("transfers: %v", got)
	}
}

func TestLegSynthesis_ForUnplannedDestination(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	call := f.startInbound(t, "cc-main")

	// The provider reports a destination we never planned, formatted with
	// scheme and mixed case.
	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallAnswered, "cc-leg-x", testDID, "SIP:Carol@SIP.Telnyx.COM")); err != nil {
		t.Fatalf("answered: %v", err)
	}

	leg := f.legByDest(t, call.ID, "carol@sip.telnyx.com")
	if leg.Status != calls.LegStatusAnswered {
		t.Fatalf("synthesized leg status: %s", leg.Status)
	}
	if leg.LegType != calls.LegTypeSIP {
		t.Fatalf("synthesized leg type: %s", leg.LegType)
	}
	call = f.mustGetCall(t, call.ID)
	if call.AnsweredBy != "carol@sip.telnyx.com" {
		t.Fatalf("answered_by: %q", call.AnsweredBy)
	}

	// A second event in a different formatting converges on the same leg.
	legs, _ := f.calls.ListLegs(ctx, call.ID)
	before := len(legs)
	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallAnswered, "cc-leg-x", testDID, "sip:carol@sip.telnyx.com")); err != nil {
		t.Fatalf("duplicate answered: %v", err)
	}
	legs, _ = f.calls.ListLegs(ctx, call.ID)
	if len(legs) != before {
		t.Fatalf("duplicate event synthesized another leg: %d -> %d", before, len(legs))
	}
}

func TestOutOfOrderLegOutcome_WaitsForInFlightLeg(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	f.startInbound(t, "cc-main")

	// Bob's outcome arrives while alice is still being dialed.
	hangupB := callEvent(telephony.EventCallHangup, "cc-leg-b", testDID, "sip:bob@sip.telnyx.com")
	hangupB.HangupCause = "user_busy"
	if err := f.engine.HandleCallEvent(ctx, hangupB); err != nil {
		t.Fatalf("bob hangup: %v", err)
	}
	// No new transfer while alice is in flight.
	if got := f.provider.transferTargets(); len(got) != 1 {
		t.Fatalf("transfers: %v", got)
	}

	// Alice's timeout lands; bob is already terminal so the fallback dials.
	hangupA := callEvent(telephony.EventCallHangup, "cc-leg-a", testDID, "sip:alice@sip.telnyx.com")
	hangupA.HangupCause = "timeout"
	if err := f.engine.HandleCallEvent(ctx, hangupA); err != nil {
		t.Fatalf("alice hangup: %v", err)
	}
	got := f.provider.transferTargets()
	if len(got) != 2 || got[1] != testFallback {
		t.Fatalf("transfers: %v", got)
	}
}

func TestMachineDetection_DoesNotMoveState(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	call := f.startInbound(t, "cc-main")
	before := f.mustGetCall(t, call.ID)

	evt := callEvent(telephony.EventMachineDetectionDone, "cc-main", testCaller, testDID)
	evt.State = "machine"
	if err := f.engine.HandleCallEvent(ctx, evt); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	after := f.mustGetCall(t, call.ID)
	if before.Status != after.Status || before.AnsweredBy != after.AnsweredBy {
		t.Fatalf("detection event moved call state: %+v -> %+v", before, after)
	}
}

func TestMainCallLifecycleStatuses(t *testing.T) {
	f := newFixture(t)
	f.seedOrg(t)
	ctx := context.Background()

	call := f.startInbound(t, "cc-main")

	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallRinging, "cc-main", testCaller, testDID)); err != nil {
		t.Fatalf("ringing: %v", err)
	}
	if c := f.mustGetCall(t, call.ID); c.Status != calls.CallStatusRinging {
		t.Fatalf("status: %s", c.Status)
	}

	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallAnswered, "cc-main", testCaller, testDID)); err != nil {
		t.Fatalf("answered: %v", err)
	}
	c := f.mustGetCall(t, call.ID)
	if c.Status != calls.CallStatusInProgress {
		t.Fatalf("status: %s", c.Status)
	}
	if c.StartedAt == nil {
		t.Fatalf("started_at not set")
	}

	// A duplicate ringing event after answer must not regress the call.
	if err := f.engine.HandleCallEvent(ctx,
		callEvent(telephony.EventCallRinging, "cc-main", testCaller, testDID)); err != nil {
		t.Fatalf("late ringing: %v", err)
	}
	if c := f.mustGetCall(t, call.ID); c.Status != calls.CallStatusInProgress {
		t.Fatalf("status regressed: %s", c.Status)
	}
}
