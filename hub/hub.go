package hub

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oscash/payhub/common"
	"github.com/oscash/payhub/gateway"
)

// CredentialVerifier validates an opaque bearer credential against the
// upstream payment server, resolving the account identity and a snapshot of
// the upstream state.
type CredentialVerifier interface {
	VerifyCredential(
		ctxt context.Context, credential string, account gateway.AccountContext,
	) (string, gateway.ConnectionTest, error)
}

// Hub real-time payment notification hub. Holds the connection registry and
// the payment subscription index, runs the heartbeat and cleanup supervisors,
// and fans payment status updates out to subscribed connections.
type Hub struct {
	common.Component
	config   common.HubConfig
	gateway  gateway.Client
	verifier CredentialVerifier

	lock sync.RWMutex
	// conns tracks every open connection by connection ID
	conns map[string]*Connection
	// clients is the registry: account identity to its one live connection
	clients map[string]*Connection
	// paymentSubs is the subscription index: payment ID to subscribed identities
	paymentSubs map[string]map[string]struct{}
	stopped     bool

	handlers map[string]func(*Connection, *inboundFrame)

	rootContext    context.Context
	heartbeatTimer common.IntervalTimer
	cleanupTimer   common.IntervalTimer
	supervisorWG   sync.WaitGroup
	validate       *validator.Validate
}

// New define a notification hub. The hub starts empty; Start launches the
// supervisors, Stop tears every connection and supervisor down.
func New(
	hubConfig common.HubConfig,
	gatewayClient gateway.Client,
	verifier CredentialVerifier,
	rootCtxt context.Context,
) (*Hub, error) {
	logTags := log.Fields{
		"module": "hub", "component": "notification-hub",
	}
	instance := &Hub{
		Component:   common.Component{LogTags: logTags},
		config:      hubConfig,
		gateway:     gatewayClient,
		verifier:    verifier,
		conns:       make(map[string]*Connection),
		clients:     make(map[string]*Connection),
		paymentSubs: make(map[string]map[string]struct{}),
		rootContext: rootCtxt,
		validate:    validator.New(),
	}
	if err := instance.validate.Struct(&hubConfig); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid hub config")
		return nil, err
	}
	instance.handlers = map[string]func(*Connection, *inboundFrame){
		msgTypeAuthenticate:       instance.handleAuthenticate,
		msgTypeSubscribePayment:   instance.handleSubscribePayment,
		msgTypeUnsubscribePayment: instance.handleUnsubscribePayment,
		msgTypeHeartbeat:          instance.handleHeartbeat,
		msgTypeGetStatus:          instance.handleGetStatus,
	}
	heartbeatTimer, err := common.GetIntervalTimerInstance("heartbeat", rootCtxt, &instance.supervisorWG)
	if err != nil {
		return nil, err
	}
	cleanupTimer, err := common.GetIntervalTimerInstance("cleanup", rootCtxt, &instance.supervisorWG)
	if err != nil {
		return nil, err
	}
	instance.heartbeatTimer = heartbeatTimer
	instance.cleanupTimer = cleanupTimer
	return instance, nil
}

// Start launch the heartbeat and cleanup supervisors
func (h *Hub) Start() error {
	heartbeatInterval := time.Second * time.Duration(h.config.HeartbeatInterval)
	if err := h.heartbeatTimer.Start(heartbeatInterval, h.heartbeatSweep, false); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to start heartbeat supervisor")
		return err
	}
	cleanupInterval := time.Second * time.Duration(h.config.CleanupInterval)
	if err := h.cleanupTimer.Start(cleanupInterval, h.cleanupSweep, false); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to start cleanup supervisor")
		return err
	}
	log.WithFields(h.LogTags).Infof(
		"Hub started. Max connections %d, heartbeat interval %s",
		h.config.MaxConnections, heartbeatInterval,
	)
	return nil
}

// Stop tear the hub down: supervisors first, then every open connection is
// notified and closed, then the registry and index are released. After Stop
// returns no supervisor tick can interleave with the teardown result.
func (h *Hub) Stop() error {
	_ = h.heartbeatTimer.Stop()
	_ = h.cleanupTimer.Stop()
	h.supervisorWG.Wait()

	h.lock.Lock()
	defer h.lock.Unlock()
	h.stopped = true
	notice := shutdownFrame{
		frameBase: newFrameBase(msgTypeShutdown), Message: "Server shutting down",
	}
	for _, conn := range h.conns {
		_ = conn.enqueue(notice)
		conn.state = connStateClosed
		conn.closeSend()
	}
	h.conns = make(map[string]*Connection)
	h.clients = make(map[string]*Connection)
	h.paymentSubs = make(map[string]map[string]struct{})
	log.WithFields(h.LogTags).Info("Hub shutdown completed")
	return nil
}

// ConnectionCount number of registered (authenticated) connections
func (h *Hub) ConnectionCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// SubscriptionCount number of payment IDs with at least one subscriber
func (h *Hub) SubscriptionCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.paymentSubs)
}

// ----------------------------------------------------------------------------------------
// Registry and index mutation

// register install an authenticated connection into the registry, replacing
// and closing any prior connection of the same identity. The caller performs
// credential verification before calling; no network call happens under the
// hub lock.
func (h *Hub) register(
	conn *Connection, identity string, account gateway.AccountContext,
) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.stopped || conn.state == connStateClosed {
		return ErrNotAuthenticated
	}
	// Re-authentication under a different identity releases everything held
	// under the old identity before the new one is installed. The connection
	// reverts to unauthenticated so a rejection below leaves no stale
	// registration behind.
	if conn.state == connStateAuthenticated && conn.identity != identity {
		h.releaseLocked(conn)
		log.WithFields(h.LogTags).Infof(
			"Re-keyed connection %s from '%s' to '%s'", conn.id, conn.identity, identity,
		)
		conn.state = connStateUnauthenticated
		conn.identity = ""
	}
	existing, replacing := h.clients[identity]
	if !replacing && len(h.clients) >= h.config.MaxConnections {
		return ErrMaxConnections
	}
	if replacing && existing != conn {
		h.dropLocked(existing)
		log.WithFields(h.LogTags).Infof(
			"Evicted prior connection %s of %s on re-authentication", existing.id, identity,
		)
	}
	conn.state = connStateAuthenticated
	conn.identity = identity
	conn.account = account
	conn.lastHeartbeatAt = time.Now()
	h.clients[identity] = conn
	log.WithFields(h.LogTags).Infof(
		"Authenticated %s on connection %s. Total connections %d",
		identity, conn.id, len(h.clients),
	)
	return nil
}

// releaseLocked strip a connection's registry entry and subscription index
// memberships under its current identity, leaving the subscription set
// empty. Hub lock must be held.
func (h *Hub) releaseLocked(conn *Connection) {
	if h.clients[conn.identity] == conn {
		delete(h.clients, conn.identity)
	}
	for paymentID := range conn.subscriptions {
		if subscribers, ok := h.paymentSubs[paymentID]; ok {
			delete(subscribers, conn.identity)
			if len(subscribers) == 0 {
				delete(h.paymentSubs, paymentID)
			}
		}
	}
	conn.subscriptions = make(map[string]struct{})
}

// dropLocked remove every trace of a connection from the registry and the
// subscription index, and seal its outbound path. Hub lock must be held;
// sealing under the lock guarantees an in-flight broadcast can not deliver
// to a connection after its removal completes.
func (h *Hub) dropLocked(conn *Connection) {
	delete(h.conns, conn.id)
	if conn.state == connStateAuthenticated {
		h.releaseLocked(conn)
	}
	conn.state = connStateClosed
	conn.closeSend()
}

// removeConnection synchronous removal on disconnect or eviction
func (h *Hub) removeConnection(conn *Connection) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, present := h.conns[conn.id]; !present {
		return
	}
	identity := conn.identity
	subscriptions := len(conn.subscriptions)
	h.dropLocked(conn)
	log.WithFields(h.LogTags).Infof(
		"Removed connection %s (identity '%s', %d subscriptions)",
		conn.id, identity, subscriptions,
	)
}

// ----------------------------------------------------------------------------------------
// Broadcast dispatch

// Dispatch fan one payment status update out to every connection subscribed
// to the payment. Safe to call concurrently from outside the connection
// handling path any time between New and Stop. Delivery is best-effort and
// fire-and-forget; a failing recipient is skipped, never mutating the
// subscription index.
func (h *Hub) Dispatch(paymentID string, status gateway.PaymentStatus) {
	h.lock.RLock()
	subscribers := h.paymentSubs[paymentID]
	targets := make([]*Connection, 0, len(subscribers))
	for identity := range subscribers {
		if conn, ok := h.clients[identity]; ok && !conn.isDead() {
			targets = append(targets, conn)
		}
	}
	h.lock.RUnlock()

	if len(targets) == 0 {
		return
	}

	frame := paymentUpdateFrame{
		frameBase:     newFrameBase(msgTypePaymentUpdate),
		PaymentID:     paymentID,
		Status:        status.Status,
		Confirmations: status.Confirmations,
		Paid:          status.Paid,
		Expired:       status.Expired,
	}
	delivered := 0
	for _, conn := range targets {
		if conn.enqueue(frame) {
			delivered++
		} else {
			log.WithFields(h.LogTags).Debugf(
				"Skipped update delivery to closed connection %s", conn.id,
			)
		}
	}
	log.WithFields(h.LogTags).Infof(
		"Payment %s update [%s] delivered to %d of %d subscribers",
		paymentID, status.Status, delivered, len(targets),
	)
}
