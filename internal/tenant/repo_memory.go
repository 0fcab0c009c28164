package tenant

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and single-node development.
type MemoryRepo struct {
	mu sync.Mutex

	endpoints   map[string]SipEndpoint
	configs     map[string]TelephonyConfig
	connections map[string]string // connection id -> org id
	numbers     map[string]string // E.164 -> org id
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		endpoints:   map[string]SipEndpoint{},
		configs:     map[string]TelephonyConfig{},
		connections: map[string]string{},
		numbers:     map[string]string{},
	}
}

// AddConnection registers a connection→org mapping (test/seeding helper).
func (r *MemoryRepo) AddConnection(connectionID, orgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[connectionID] = orgID
}

// AddPhoneNumber registers a DID→org mapping (test/seeding helper).
func (r *MemoryRepo) AddPhoneNumber(number, orgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numbers[number] = orgID
}

func (r *MemoryRepo) ListActiveSipEndpoints(ctx context.Context, orgID string) ([]SipEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SipEndpoint, 0)
	for _, e := range r.endpoints {
		if e.OrgID == orgID && e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) GetSipEndpoint(ctx context.Context, id string) (SipEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok {
		return SipEndpoint{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepo) FindSipEndpointByUsername(ctx context.Context, orgID, username string) (SipEndpoint, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.endpoints {
		if e.OrgID == orgID && e.Username == username {
			return e, true, nil
		}
	}
	return SipEndpoint{}, false, nil
}

func (r *MemoryRepo) UpsertSipEndpoint(ctx context.Context, e SipEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[e.ID] = e
	return nil
}

func (r *MemoryRepo) GetTelephonyConfig(ctx context.Context, orgID string) (TelephonyConfig, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[orgID]
	return cfg, ok, nil
}

func (r *MemoryRepo) SaveTelephonyConfig(ctx context.Context, cfg TelephonyConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.OrgID] = cfg
	return nil
}

func (r *MemoryRepo) OrgByConnectionID(ctx context.Context, connectionID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.connections[connectionID]
	return org, ok, nil
}

func (r *MemoryRepo) OrgByPhoneNumber(ctx context.Context, number string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.numbers[number]
	return org, ok, nil
}
