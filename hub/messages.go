package hub

import (
	"encoding/json"
	"time"

	"github.com/oscash/payhub/gateway"
)

// Inbound message types
const (
	msgTypeAuthenticate       = "authenticate"
	msgTypeSubscribePayment   = "subscribe_payment"
	msgTypeUnsubscribePayment = "unsubscribe_payment"
	msgTypeHeartbeat          = "heartbeat"
	msgTypeGetStatus          = "get_status"
)

// Outbound message types
const (
	msgTypeWelcome             = "welcome"
	msgTypeAuthenticated       = "authenticated"
	msgTypePaymentStatus       = "payment_status"
	msgTypePaymentUnsubscribed = "payment_unsubscribed"
	msgTypeHeartbeatAck        = "heartbeat_ack"
	msgTypeHeartbeatPing       = "heartbeat_ping"
	msgTypeStatus              = "status"
	msgTypePaymentUpdate       = "payment_update"
	msgTypeError               = "error"
	msgTypeShutdown            = "shutdown"
)

// inboundFrame envelope of one client message
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// authenticatePayload payload of an authenticate message
type authenticatePayload struct {
	Token   string                 `json:"token"`
	Account gateway.AccountContext `json:"accountContext"`
}

// paymentRefPayload payload of subscribe_payment / unsubscribe_payment
type paymentRefPayload struct {
	PaymentID string `json:"paymentId"`
}

// ----------------------------------------------------------------------------------------

// frameBase common fields of every outbound frame
type frameBase struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// newFrameBase start an outbound frame of the given type, stamped with the
// current time in ISO-8601
func newFrameBase(frameType string) frameBase {
	return frameBase{
		Type:      frameType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// welcomeFrame sent immediately on connect
type welcomeFrame struct {
	frameBase
	Message string `json:"message"`
}

// connectedUser identity fields echoed back on successful authentication
type connectedUser struct {
	ID      string `json:"id"`
	StoreID string `json:"storeId"`
}

// authenticatedFrame reply to a successful authenticate
type authenticatedFrame struct {
	frameBase
	User   connectedUser      `json:"user"`
	Server gateway.ServerInfo `json:"server"`
}

// paymentStatusFrame reply to subscribe_payment with the current status
type paymentStatusFrame struct {
	frameBase
	PaymentID     string `json:"paymentId"`
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
}

// paymentUnsubscribedFrame reply to unsubscribe_payment
type paymentUnsubscribedFrame struct {
	frameBase
	PaymentID string `json:"paymentId"`
}

// heartbeatFrame heartbeat_ack and heartbeat_ping frames
type heartbeatFrame struct {
	frameBase
}

// connectionMeta connection statistics within a status frame
type connectionMeta struct {
	ConnectedAt   string `json:"connectedAt"`
	Subscriptions int    `json:"subscriptions"`
	LastHeartbeat string `json:"lastHeartbeat"`
}

// statusFrame reply to get_status
type statusFrame struct {
	frameBase
	Server     gateway.ServerInfo `json:"server"`
	Store      gateway.StoreInfo  `json:"store"`
	Connection connectionMeta     `json:"connection"`
}

// paymentUpdateFrame broadcast on a payment status change
type paymentUpdateFrame struct {
	frameBase
	PaymentID     string `json:"paymentId"`
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
	Paid          bool   `json:"paid"`
	Expired       bool   `json:"expired"`
}

// errorFrame per-message error report; the connection stays open
type errorFrame struct {
	frameBase
	Message string `json:"message"`
}

// shutdownFrame sent to every open connection during hub teardown
type shutdownFrame struct {
	frameBase
	Message string `json:"message"`
}

func newErrorFrame(message string) errorFrame {
	return errorFrame{frameBase: newFrameBase(msgTypeError), Message: message}
}
