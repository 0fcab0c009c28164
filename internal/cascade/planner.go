package cascade

import (
	"context"
	"regexp"

	"call-orchestrator/internal/calls"
	"call-orchestrator/internal/tenant"
)

// PlannedLeg is one destination in a computed cascade, in dialing order.
type PlannedLeg struct {
	LegType       calls.LegType
	SipEndpointID string
	Destination   string
	Priority      int
	TimeoutSecs   int
}

// Planner computes the ordered destination list for an org: all active SIP
// endpoints by (priority asc, creation asc), then one PSTN fallback leg when
// a valid E.164 fallback number is configured.
//
// Pure read, no side effects. An empty plan means "no cascade; dial the
// destination directly". A missing or malformed fallback number is not an
// error; the PSTN leg is simply omitted.
type Planner struct {
	repo tenant.Repository
}

func NewPlanner(repo tenant.Repository) *Planner {
	return &Planner{repo: repo}
}

func (p *Planner) Plan(ctx context.Context, orgID string) ([]PlannedLeg, error) {
	endpoints, err := p.repo.ListActiveSipEndpoints(ctx, orgID)
	if err != nil {
		return nil, err
	}

	legs := make([]PlannedLeg, 0, len(endpoints)+1)
	maxPriority := 0
	for _, e := range endpoints {
		legs = append(legs, PlannedLeg{
			LegType:       calls.LegTypeSIP,
			SipEndpointID: e.ID,
			Destination:   e.Address(),
			Priority:      e.Priority,
			TimeoutSecs:   e.TimeoutSecs,
		})
		if e.Priority > maxPriority {
			maxPriority = e.Priority
		}
	}

	cfg, ok, err := p.repo.GetTelephonyConfig(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if ok && IsE164(cfg.FallbackNumber) {
		legs = append(legs, PlannedLeg{
			LegType:     calls.LegTypePSTN,
			Destination: cfg.FallbackNumber,
			Priority:    maxPriority + 1,
		})
	}
	return legs, nil
}

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// IsE164 reports whether s is a syntactically valid E.164 number.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}
