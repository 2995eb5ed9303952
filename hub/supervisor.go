package hub

import (
	"time"

	"github.com/apex/log"
)

// heartbeatSweep one heartbeat supervisor tick: evict connections idle past
// twice the heartbeat interval, probe the remainder. The probe is advisory;
// the client's own heartbeat messages are what refresh liveness.
func (h *Hub) heartbeatSweep() error {
	staleThreshold := 2 * time.Second * time.Duration(h.config.HeartbeatInterval)
	now := time.Now()

	var stale []*Connection
	var live []*Connection
	h.lock.Lock()
	for _, conn := range h.clients {
		if now.Sub(conn.lastHeartbeatAt) > staleThreshold {
			stale = append(stale, conn)
		} else if !conn.isDead() {
			live = append(live, conn)
		}
	}
	for _, conn := range stale {
		log.WithFields(conn.LogTags).Infof(
			"Heartbeat timeout for %s. Last heartbeat at %s",
			conn.identity, conn.lastHeartbeatAt.Format(time.RFC3339),
		)
		h.dropLocked(conn)
	}
	h.lock.Unlock()

	probe := heartbeatFrame{frameBase: newFrameBase(msgTypeHeartbeatPing)}
	for _, conn := range live {
		_ = conn.enqueue(probe)
	}
	return nil
}

// cleanupSweep one cleanup supervisor tick: reconcile connections whose
// transport failed without the disconnect handler observing it. Safety net
// behind the synchronous removal on close.
func (h *Hub) cleanupSweep() error {
	var defunct []*Connection
	h.lock.Lock()
	for _, conn := range h.conns {
		if conn.isDead() {
			defunct = append(defunct, conn)
		}
	}
	for _, conn := range defunct {
		log.WithFields(conn.LogTags).Infof(
			"Reconciling defunct connection of '%s'", conn.identity,
		)
		h.dropLocked(conn)
	}
	h.lock.Unlock()
	if len(defunct) > 0 {
		log.WithFields(h.LogTags).Infof("Cleanup sweep removed %d connections", len(defunct))
	}
	return nil
}
