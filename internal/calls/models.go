package calls

import "time"

// Call is one logical phone conversation, tracked end-to-end regardless of
// how many destinations the cascade tries.
//
// Multi-tenant invariant: OrgID is required on every row.
//
// Ownership: rows are created at call initiation (outbound) or on the first
// inbound webhook event, mutated only by the orchestrator, and never
// deleted; a finished call is marked terminal and becomes immutable.
type Call struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"organization_id" db:"organization_id"`

	// ProviderCallID is the provider's call_control_id for the main call.
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`

	FromNumber string `json:"from_number" db:"from_number"`
	ToNumber   string `json:"to_number" db:"to_number"`

	Direction Direction  `json:"direction" db:"direction"`
	Status    CallStatus `json:"status" db:"status"`

	// AnsweredBy is the destination of the leg that answered.
	// Empty while unanswered. Write-once: once set it is never cleared
	// or reassigned, and cascade advancement stops.
	AnsweredBy string `json:"answered_by,omitempty" db:"answered_by"`

	// LeadID optionally links the call to a CRM lead.
	LeadID string `json:"lead_id,omitempty" db:"lead_id"`

	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration" db:"duration"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
)

// Terminal reports whether the call reached its final state.
func (s CallStatus) Terminal() bool { return s == CallStatusCompleted }

// Answered reports whether any leg picked up.
func (c Call) Answered() bool { return c.AnsweredBy != "" }

// CallLeg is one attempt to route a Call to one destination.
//
// Invariants within a call:
// - legs are totally ordered by Priority (ascending = tried first)
// - at most one leg is dialing at any time
// - a leg that reached answered or a terminal status never regresses
type CallLeg struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	LegType LegType `json:"leg_type" db:"leg_type"`

	// SipEndpointID references the registered endpoint for sip legs.
	SipEndpointID string `json:"sip_endpoint_id,omitempty" db:"sip_endpoint_id"`

	// Destination is stored in canonical form (scheme stripped, lowercase)
	// so differently formatted webhook payloads converge on one leg.
	Destination string `json:"destination" db:"destination"`

	Status   LegStatus `json:"status" db:"status"`
	Priority int       `json:"priority" db:"priority"`

	DialedAt        *time.Time `json:"dialed_at,omitempty" db:"dialed_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration" db:"duration"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type LegType string

const (
	LegTypeSIP  LegType = "sip"
	LegTypePSTN LegType = "pstn"
)

type LegStatus string

const (
	LegStatusPending   LegStatus = "pending"
	LegStatusDialing   LegStatus = "dialing"
	LegStatusAnswered  LegStatus = "answered"
	LegStatusBusy      LegStatus = "busy"
	LegStatusTimeout   LegStatus = "timeout"
	LegStatusFailed    LegStatus = "failed"
	LegStatusCompleted LegStatus = "completed"
)

// Terminal reports whether the leg can no longer change state.
func (s LegStatus) Terminal() bool {
	switch s {
	case LegStatusBusy, LegStatusTimeout, LegStatusFailed, LegStatusCompleted:
		return true
	default:
		return false
	}
}

// Regresses reports whether moving from s to next would undo progress.
// Duplicate or out-of-order webhook deliveries must never regress a leg.
func (s LegStatus) Regresses(next LegStatus) bool {
	if s == next {
		return false
	}
	if s.Terminal() {
		return true
	}
	if s == LegStatusAnswered {
		// An answered leg may only complete.
		return next != LegStatusCompleted
	}
	if s == LegStatusDialing {
		// Dialing may answer, fail or complete, but not return to pending.
		return next == LegStatusPending
	}
	return false
}
