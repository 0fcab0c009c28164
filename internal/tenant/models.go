package tenant

import "time"

// SipEndpoint is a registered software-phone destination belonging to an org.
//
// Written by tenant configuration; the orchestrator only reads it.
// EncryptedPassword holds a secrets.Box ciphertext, never plaintext.
type SipEndpoint struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"organization_id" db:"organization_id"`

	Username          string `json:"username" db:"username"`
	EncryptedPassword string `json:"-" db:"encrypted_password"`
	Domain            string `json:"domain" db:"domain"`

	// Priority orders the cascade: lower is tried first.
	Priority    int  `json:"priority" db:"priority"`
	TimeoutSecs int  `json:"timeout_secs" db:"timeout_secs"`
	Active      bool `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Address is the dialable SIP destination for the endpoint.
func (e SipEndpoint) Address() string {
	return "sip:" + e.Username + "@" + e.Domain
}

// WebhookURLAuto is the sentinel meaning "compute the canonical URL".
const WebhookURLAuto = "auto"

// TelephonyConfig is the per-org telephony configuration the orchestrator
// consumes. Written by configuration management, read-only here except for
// the admin config endpoint.
type TelephonyConfig struct {
	OrgID string `json:"organization_id" db:"organization_id"`

	// WebhookURL is either a custom callback URL or the "auto" sentinel.
	WebhookURL string `json:"webhook_url" db:"webhook_url"`

	// FallbackNumber is the PSTN number dialed when no SIP endpoint answers.
	// Empty or invalid means the cascade has no PSTN leg.
	FallbackNumber string `json:"fallback_number" db:"fallback_number"`

	// ConnectionID is the provider call-control connection for this org.
	ConnectionID string `json:"connection_id" db:"connection_id"`

	// APIKeyRef names the provider credential to use (secret storage key).
	APIKeyRef string `json:"api_key_ref,omitempty" db:"api_key_ref"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PhoneNumber maps a provider DID to its owning org.
type PhoneNumber struct {
	ID     string `json:"id" db:"id"`
	OrgID  string `json:"organization_id" db:"organization_id"`
	Number string `json:"number" db:"number"`

	ConnectionID string    `json:"connection_id,omitempty" db:"connection_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Connection maps a provider connection id to its owning org.
type Connection struct {
	ID        string    `json:"id" db:"id"`
	OrgID     string    `json:"organization_id" db:"organization_id"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
