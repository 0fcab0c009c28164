package tenant

import (
	"context"
)

// Resolver attributes provider payloads to an org. Provider webhooks carry
// no tenant identity, so attribution goes connection-id first, then the
// relevant phone number.
//
// An event that resolves to nothing must be dropped by the caller: creating
// rows under a guessed org would leak one tenant's traffic into another's.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveCall attributes a call payload: connection id when known, else the
// dialed number (the org's DID).
func (r *Resolver) ResolveCall(ctx context.Context, connectionID, toNumber string) (string, bool, error) {
	if connectionID != "" {
		if orgID, ok, err := r.repo.OrgByConnectionID(ctx, connectionID); err != nil {
			return "", false, err
		} else if ok {
			return orgID, true, nil
		}
	}
	if toNumber == "" {
		return "", false, nil
	}
	return r.repo.OrgByPhoneNumber(ctx, toNumber)
}

// ResolveMessage attributes a message payload. `to` is tried before `from`:
// an inbound SMS lands on the org's own number, which is the stronger signal.
func (r *Resolver) ResolveMessage(ctx context.Context, toNumber, fromNumber string) (string, bool, error) {
	if toNumber != "" {
		if orgID, ok, err := r.repo.OrgByPhoneNumber(ctx, toNumber); err != nil {
			return "", false, err
		} else if ok {
			return orgID, true, nil
		}
	}
	if fromNumber == "" {
		return "", false, nil
	}
	return r.repo.OrgByPhoneNumber(ctx, fromNumber)
}
