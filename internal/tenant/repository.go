package tenant

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a tenant-side record does not exist.
var ErrNotFound = errors.New("tenant: not found")

// Repository is the read-mostly persistence contract for org-side telephony
// configuration. Endpoint and config writes exist for the admin API only.
type Repository interface {
	// ListActiveSipEndpoints returns active endpoints ordered by
	// (priority asc, created_at asc).
	ListActiveSipEndpoints(ctx context.Context, orgID string) ([]SipEndpoint, error)
	GetSipEndpoint(ctx context.Context, id string) (SipEndpoint, error)

	// FindSipEndpointByUsername matches the username portion of a SIP
	// destination against registered endpoints.
	FindSipEndpointByUsername(ctx context.Context, orgID, username string) (SipEndpoint, bool, error)

	UpsertSipEndpoint(ctx context.Context, e SipEndpoint) error

	GetTelephonyConfig(ctx context.Context, orgID string) (TelephonyConfig, bool, error)
	SaveTelephonyConfig(ctx context.Context, cfg TelephonyConfig) error

	// OrgByConnectionID resolves a provider connection id to its org.
	OrgByConnectionID(ctx context.Context, connectionID string) (string, bool, error)

	// OrgByPhoneNumber resolves a DID to its org.
	OrgByPhoneNumber(ctx context.Context, number string) (string, bool, error)
}
