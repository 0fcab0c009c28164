package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and single-node development.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
	legs  map[string]CallLeg
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls: map[string]Call{},
		legs:  map[string]CallLeg{},
	}
}

func (r *MemoryRepo) CreateCall(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) GetCall(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) GetCallByProviderID(ctx context.Context, providerCallID string) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ProviderCallID == providerCallID {
			return c, true, nil
		}
	}
	return Call{}, false, nil
}

func (r *MemoryRepo) FindActiveCallByDID(ctx context.Context, did string) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// The DID sits on the To side for inbound calls and the From side for
	// outbound ones.
	for _, c := range r.calls {
		if (c.ToNumber == did || c.FromNumber == did) && !c.Status.Terminal() {
			return c, true, nil
		}
	}
	return Call{}, false, nil
}

func (r *MemoryRepo) UpdateCall(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[c.ID]; !ok {
		return ErrNotFound
	}
	r.calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) CreateLeg(ctx context.Context, l CallLeg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.legs[l.ID] = l
	return nil
}

func (r *MemoryRepo) GetLeg(ctx context.Context, id string) (CallLeg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.legs[id]
	if !ok {
		return CallLeg{}, ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) GetLegByDestination(ctx context.Context, callID, destination string) (CallLeg, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.legs {
		if l.CallID == callID && l.Destination == destination {
			return l, true, nil
		}
	}
	return CallLeg{}, false, nil
}

func (r *MemoryRepo) ListLegs(ctx context.Context, callID string) ([]CallLeg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallLeg, 0)
	for _, l := range r.legs {
		if l.CallID == callID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (r *MemoryRepo) NextPendingLeg(ctx context.Context, callID string) (CallLeg, bool, error) {
	legs, _ := r.ListLegs(ctx, callID)
	for _, l := range legs {
		if l.Status == LegStatusPending {
			return l, true, nil
		}
	}
	return CallLeg{}, false, nil
}

func (r *MemoryRepo) UpdateLeg(ctx context.Context, l CallLeg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.legs[l.ID]; !ok {
		return ErrNotFound
	}
	r.legs[l.ID] = l
	return nil
}
