package messaging

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("messaging: not found")

// Repository is the persistence contract for message records.
type Repository interface {
	Create(ctx context.Context, m Message) error
	GetByProviderID(ctx context.Context, providerMessageID string) (Message, bool, error)
	Update(ctx context.Context, m Message) error
}
