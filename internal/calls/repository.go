package calls

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a call or leg does not exist.
var ErrNotFound = errors.New("calls: not found")

// Repository is the persistence contract for calls and their legs.
//
// All webhook-driven mutations are read-modify-write against current
// persisted state; implementations must return the latest row on reads so
// the orchestrator's no-regression checks hold under duplicate delivery.
type Repository interface {
	CreateCall(ctx context.Context, c Call) error
	GetCall(ctx context.Context, id string) (Call, error)

	// GetCallByProviderID looks up a call by the provider's call_control_id.
	GetCallByProviderID(ctx context.Context, providerCallID string) (Call, bool, error)

	// FindActiveCallByDID finds a non-terminal call carrying the given DID
	// on either side. Used to attribute leg events, which present the DID
	// as their From.
	FindActiveCallByDID(ctx context.Context, did string) (Call, bool, error)

	UpdateCall(ctx context.Context, c Call) error

	CreateLeg(ctx context.Context, l CallLeg) error
	GetLeg(ctx context.Context, id string) (CallLeg, error)

	// GetLegByDestination looks up a leg by (call, canonical destination).
	GetLegByDestination(ctx context.Context, callID, destination string) (CallLeg, bool, error)

	// ListLegs returns all legs of a call ordered by priority ascending.
	ListLegs(ctx context.Context, callID string) ([]CallLeg, error)

	// NextPendingLeg returns the lowest-priority pending leg of a call.
	NextPendingLeg(ctx context.Context, callID string) (CallLeg, bool, error)

	UpdateLeg(ctx context.Context, l CallLeg) error
}
