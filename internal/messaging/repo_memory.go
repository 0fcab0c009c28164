package messaging

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and single-node development.
type MemoryRepo struct {
	mu       sync.Mutex
	messages map[string]Message
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{messages: map[string]Message{}}
}

func (r *MemoryRepo) Create(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.ID] = m
	return nil
}

func (r *MemoryRepo) GetByProviderID(ctx context.Context, providerMessageID string) (Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ProviderMessageID == providerMessageID {
			return m, true, nil
		}
	}
	return Message{}, false, nil
}

func (r *MemoryRepo) Update(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[m.ID]; !ok {
		return ErrNotFound
	}
	r.messages[m.ID] = m
	return nil
}
