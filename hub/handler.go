package hub

import (
	"encoding/json"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
	"github.com/oscash/payhub/common"
	"github.com/oscash/payhub/gateway"
)

// HandleConnection operate one accepted websocket until it closes. Blocks
// for the lifetime of the connection; the caller owns the goroutine. On
// return the connection has been fully removed from the hub.
func (h *Hub) HandleConnection(ws *websocket.Conn, param common.ConnectionParam) {
	conn := newConnection(ws, param, h.config.SendBufferLen)

	h.lock.Lock()
	if h.stopped {
		h.lock.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[conn.id] = conn
	h.lock.Unlock()

	log.WithFields(conn.LogTags).Info("Connection accepted")

	go conn.writeLoop()
	_ = conn.enqueue(welcomeFrame{
		frameBase: newFrameBase(msgTypeWelcome),
		Message:   "payhub payment gateway websocket",
	})

	h.readLoop(conn)
	h.removeConnection(conn)
}

// readLoop consume inbound frames in arrival order until the transport
// fails or closes. Message handling errors never exit the loop; they are
// reported to the client as error frames.
func (h *Hub) readLoop(conn *Connection) {
	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			) {
				log.WithError(err).WithFields(conn.LogTags).Debug("Connection read failed")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			_ = conn.enqueue(newErrorFrame(ErrInvalidJSON.Error()))
			continue
		}

		handler, known := h.handlers[frame.Type]
		if !known {
			_ = conn.enqueue(newErrorFrame(errUnknownMessageType(frame.Type).Error()))
			continue
		}
		handler(conn, &frame)
	}
}

// connectionState read a connection's state under the hub lock
func (h *Hub) connectionState(conn *Connection) connState {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return conn.state
}

// ----------------------------------------------------------------------------------------
// Message handlers

// handleAuthenticate process an authenticate message. The credential
// verification network call runs before any hub state is touched; only
// after it returns is the connection installed into the registry.
func (h *Hub) handleAuthenticate(conn *Connection, frame *inboundFrame) {
	var payload authenticatePayload
	if frame.Payload != nil {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			_ = conn.enqueue(newErrorFrame(ErrInvalidJSON.Error()))
			return
		}
	}
	if payload.Token == "" {
		_ = conn.enqueue(newErrorFrame(ErrTokenRequired.Error()))
		return
	}

	identity, upstream, err := h.verifier.VerifyCredential(
		h.rootContext, payload.Token, payload.Account,
	)
	if err != nil {
		log.WithError(err).WithFields(conn.LogTags).Info("Credential verification failed")
		if authErr, ok := err.(AuthError); ok {
			_ = conn.enqueue(newErrorFrame(authErr.Error()))
		} else {
			_ = conn.enqueue(newErrorFrame(ErrAuthFailed.Error()))
		}
		return
	}

	account := payload.Account
	account.UserID = identity
	if err := h.register(conn, identity, account); err != nil {
		_ = conn.enqueue(newErrorFrame(err.Error()))
		return
	}

	_ = conn.enqueue(authenticatedFrame{
		frameBase: newFrameBase(msgTypeAuthenticated),
		User:      connectedUser{ID: identity, StoreID: account.StoreID},
		Server:    upstream.Server,
	})
}

// handleSubscribePayment process a subscribe_payment message. The invoice
// existence check runs against the upstream gateway before the subscription
// is recorded; lookup failure leaves the index untouched.
func (h *Hub) handleSubscribePayment(conn *Connection, frame *inboundFrame) {
	if h.connectionState(conn) != connStateAuthenticated {
		_ = conn.enqueue(newErrorFrame(ErrNotAuthenticated.Error()))
		return
	}
	var payload paymentRefPayload
	if frame.Payload != nil {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			_ = conn.enqueue(newErrorFrame(ErrInvalidJSON.Error()))
			return
		}
	}
	if payload.PaymentID == "" {
		_ = conn.enqueue(newErrorFrame(ErrPaymentIDRequired.Error()))
		return
	}

	// Verify the invoice exists and belongs to the caller's store
	invoice, err := h.gateway.GetInvoice(h.rootContext, conn.account, payload.PaymentID)
	if err != nil {
		log.WithError(err).WithFields(conn.LogTags).Infof(
			"Rejecting subscription to %s", payload.PaymentID,
		)
		_ = conn.enqueue(newErrorFrame(ErrSubscribeFailed.Error()))
		return
	}

	h.lock.Lock()
	// The connection may have been removed while the lookup was in flight
	if conn.state != connStateAuthenticated {
		h.lock.Unlock()
		return
	}
	conn.subscriptions[payload.PaymentID] = struct{}{}
	subscribers, ok := h.paymentSubs[payload.PaymentID]
	if !ok {
		subscribers = make(map[string]struct{})
		h.paymentSubs[payload.PaymentID] = subscribers
	}
	subscribers[conn.identity] = struct{}{}
	h.lock.Unlock()

	log.WithFields(conn.LogTags).Infof("Subscribed to payment %s", payload.PaymentID)
	_ = conn.enqueue(paymentStatusFrame{
		frameBase:     newFrameBase(msgTypePaymentStatus),
		PaymentID:     payload.PaymentID,
		Status:        invoice.Status,
		Confirmations: invoice.Confirmations,
	})
}

// handleUnsubscribePayment process an unsubscribe_payment message. Removing
// an absent subscription is a no-op success.
func (h *Hub) handleUnsubscribePayment(conn *Connection, frame *inboundFrame) {
	if h.connectionState(conn) != connStateAuthenticated {
		_ = conn.enqueue(newErrorFrame(ErrNotAuthenticated.Error()))
		return
	}
	var payload paymentRefPayload
	if frame.Payload != nil {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			_ = conn.enqueue(newErrorFrame(ErrInvalidJSON.Error()))
			return
		}
	}
	if payload.PaymentID == "" {
		_ = conn.enqueue(newErrorFrame(ErrPaymentIDRequired.Error()))
		return
	}

	h.lock.Lock()
	delete(conn.subscriptions, payload.PaymentID)
	if subscribers, ok := h.paymentSubs[payload.PaymentID]; ok {
		delete(subscribers, conn.identity)
		if len(subscribers) == 0 {
			delete(h.paymentSubs, payload.PaymentID)
		}
	}
	h.lock.Unlock()

	log.WithFields(conn.LogTags).Infof("Unsubscribed from payment %s", payload.PaymentID)
	_ = conn.enqueue(paymentUnsubscribedFrame{
		frameBase: newFrameBase(msgTypePaymentUnsubscribed),
		PaymentID: payload.PaymentID,
	})
}

// handleHeartbeat refresh the connection's liveness timestamp
func (h *Hub) handleHeartbeat(conn *Connection, _ *inboundFrame) {
	h.lock.Lock()
	if conn.state != connStateAuthenticated {
		h.lock.Unlock()
		_ = conn.enqueue(newErrorFrame(ErrNotAuthenticated.Error()))
		return
	}
	conn.lastHeartbeatAt = time.Now()
	h.lock.Unlock()
	_ = conn.enqueue(heartbeatFrame{frameBase: newFrameBase(msgTypeHeartbeatAck)})
}

// handleGetStatus fetch upstream server and store state for the caller
func (h *Hub) handleGetStatus(conn *Connection, _ *inboundFrame) {
	if h.connectionState(conn) != connStateAuthenticated {
		_ = conn.enqueue(newErrorFrame(ErrNotAuthenticated.Error()))
		return
	}

	serverInfo, err := h.gateway.GetServerInfo(h.rootContext, conn.account)
	if err == nil {
		var storeInfo gateway.StoreInfo
		storeInfo, err = h.gateway.GetStoreInfo(h.rootContext, conn.account)
		if err == nil {
			h.lock.RLock()
			meta := connectionMeta{
				ConnectedAt:   conn.connectedAt.UTC().Format(time.RFC3339),
				Subscriptions: len(conn.subscriptions),
				LastHeartbeat: conn.lastHeartbeatAt.UTC().Format(time.RFC3339),
			}
			h.lock.RUnlock()
			_ = conn.enqueue(statusFrame{
				frameBase:  newFrameBase(msgTypeStatus),
				Server:     serverInfo,
				Store:      storeInfo,
				Connection: meta,
			})
			return
		}
	}
	log.WithError(err).WithFields(conn.LogTags).Info("Status fetch failed")
	_ = conn.enqueue(newErrorFrame(ErrStatusFailed.Error()))
}
