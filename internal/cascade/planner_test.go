package cascade

import (
	"context"
	"testing"
	"time"

	"call-orchestrator/internal/calls"
	"call-orchestrator/internal/tenant"
)

func seedEndpoint(t *testing.T, repo *tenant.MemoryRepo, id string, priority int, created time.Time) {
	t.Helper()
	err := repo.UpsertSipEndpoint(context.Background(), tenant.SipEndpoint{
		ID:        id,
		OrgID:     "org-1",
		Username:  id,
		Domain:    "sip.telnyx.com",
		Priority:  priority,
		Active:    true,
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("seed endpoint: %v", err)
	}
}

func TestPlan_SipThenFallbackOrdering(t *testing.T) {
	repo := tenant.NewMemoryRepo()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedEndpoint(t, repo, "desk", 2, base)
	seedEndpoint(t, repo, "mobile", 1, base.Add(time.Minute))
	_ = repo.SaveTelephonyConfig(context.Background(), tenant.TelephonyConfig{
		OrgID:          "org-1",
		FallbackNumber: "+32477123456",
	})

	plan, err := NewPlanner(repo).Plan(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(plan) != 3 {
		t.Fatalf("expected 3 legs, got %d", len(plan))
	}
	for i := 1; i < len(plan); i++ {
		if plan[i].Priority <= plan[i-1].Priority {
			t.Fatalf("legs not strictly ordered by priority: %+v", plan)
		}
	}
	if plan[0].Destination != "sip:mobile@sip.telnyx.com" {
		t.Fatalf("expected lowest-priority endpoint first, got %q", plan[0].Destination)
	}
	last := plan[len(plan)-1]
	if last.LegType != calls.LegTypePSTN || last.Destination != "+32477123456" {
		t.Fatalf("expected PSTN fallback last, got %+v", last)
	}
	if last.Priority != 3 {
		t.Fatalf("fallback priority must be max(sip)+1 = 3, got %d", last.Priority)
	}
}

func TestPlan_TiesBreakOnCreationOrder(t *testing.T) {
	repo := tenant.NewMemoryRepo()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedEndpoint(t, repo, "second", 1, base.Add(time.Hour))
	seedEndpoint(t, repo, "first", 1, base)

	plan, err := NewPlanner(repo).Plan(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(plan))
	}
	if plan[0].SipEndpointID != "first" {
		t.Fatalf("expected creation order to break priority ties, got %q first", plan[0].SipEndpointID)
	}
}

func TestPlan_InvalidFallbackOmitted(t *testing.T) {
	repo := tenant.NewMemoryRepo()
	seedEndpoint(t, repo, "desk", 1, time.Now())
	_ = repo.SaveTelephonyConfig(context.Background(), tenant.TelephonyConfig{
		OrgID:          "org-1",
		FallbackNumber: "0477/12.34.56",
	})

	plan, err := NewPlanner(repo).Plan(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(plan) != 1 || plan[0].LegType != calls.LegTypeSIP {
		t.Fatalf("expected sip leg only, got %+v", plan)
	}
}

func TestPlan_EmptyWhenNothingConfigured(t *testing.T) {
	plan, err := NewPlanner(tenant.NewMemoryRepo()).Plan(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(plan) != 0 {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func TestIsE164(t *testing.T) {
	valid := []string{"+32477123456", "+15551234567", "+4915112345678"}
	invalid := []string{"", "32477123456", "+0123", "+", "0477123456", "+3247712345678901234"}
	for _, v := range valid {
		if !IsE164(v) {
			t.Errorf("expected %q valid", v)
		}
	}
	for _, v := range invalid {
		if IsE164(v) {
			t.Errorf("expected %q invalid", v)
		}
	}
}
