package messaging

import "time"

// Message is one SMS/MMS tracked for an org.
//
// The webhook path only ever creates inbound rows and advances the status
// of outbound ones; message sending itself lives with the CRM.
type Message struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"organization_id" db:"organization_id"`

	// ProviderMessageID is the provider's id for this message.
	ProviderMessageID string `json:"provider_message_id" db:"provider_message_id"`

	FromNumber string `json:"from_number" db:"from_number"`
	ToNumber   string `json:"to_number" db:"to_number"`

	Direction string `json:"direction" db:"direction"`
	Text      string `json:"text" db:"text"`

	Status MessageStatus `json:"status" db:"status"`

	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

// Terminal reports whether the message can no longer change state.
func (s MessageStatus) Terminal() bool {
	return s == MessageStatusDelivered || s == MessageStatusFailed
}
