package common

import (
	"github.com/apex/log"
)

// ConnectionParam is a helper object for logging a websocket connection's
// parameters into its context
type ConnectionParam struct {
	// ID is the connection ID assigned at accept time
	ID string `json:"id"`
	// RemoteAddr is the peer network address
	RemoteAddr string `json:"remote_addr"`
	// UserAgent is the client user agent, if reported
	UserAgent string `json:"user_agent"`
}

// UpdateLogTags updates Apex log.Fields map with the connection's parameters
func (c *ConnectionParam) UpdateLogTags(tags log.Fields) {
	tags["connection_id"] = c.ID
	tags["remote_addr"] = c.RemoteAddr
	if c.UserAgent != "" {
		tags["user_agent"] = c.UserAgent
	}
}
