package hub

import (
	"errors"
	"fmt"
)

// AuthError credential verification failure with the verifier's reason
type AuthError struct {
	Reason string
}

func (e AuthError) Error() string {
	return e.Reason
}

// Sentinel errors of the message handling boundary. Each maps onto an error
// frame; none of them closes the connection.
var (
	// ErrNotAuthenticated operation requires prior authentication
	ErrNotAuthenticated = errors.New("Not authenticated")
	// ErrTokenRequired authenticate message without a credential
	ErrTokenRequired = AuthError{Reason: "Authentication token required"}
	// ErrAuthFailed credential rejected by the upstream verifier
	ErrAuthFailed = AuthError{Reason: "Authentication failed"}
	// ErrMaxConnections global connection ceiling reached
	ErrMaxConnections = errors.New("Maximum connections reached")
	// ErrPaymentIDRequired subscribe / unsubscribe without a payment ID
	ErrPaymentIDRequired = errors.New("Payment ID required")
	// ErrSubscribeFailed upstream invoice lookup failed
	ErrSubscribeFailed = errors.New("Failed to subscribe to payment")
	// ErrStatusFailed upstream status fetch failed
	ErrStatusFailed = errors.New("Failed to get status")
	// ErrInvalidJSON non-parseable inbound frame
	ErrInvalidJSON = errors.New("Invalid JSON format")
)

// errUnknownMessageType unknown inbound frame type
func errUnknownMessageType(msgType string) error {
	return fmt.Errorf("Unknown message type: %s", msgType)
}
