package orchestrator

import (
	"errors"
	"fmt"
)

// Stable error codes. These appear in API error bodies and logs; changing
// one breaks clients that branch on it.
const (
	// CodeConfiguration means the org's telephony setup is missing or
	// incomplete. The fix is configuration, not a retry.
	CodeConfiguration = "configuration_error"

	// CodeProvider means the telephony provider rejected or failed a command.
	CodeProvider = "provider_error"

	// CodeDataIntegrity means stored call state contradicts itself.
	CodeDataIntegrity = "data_integrity_error"

	// CodeSipCredentials means a stored SIP password can no longer be
	// decrypted (key rotation or corruption). The org must re-enter it.
	CodeSipCredentials = "sip_credentials_reenter"
)

// Error carries a stable code alongside the underlying cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the stable code from err, or "" when it carries none.
func CodeOf(err error) string {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}
