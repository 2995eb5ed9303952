// Copyright 2022 The payhub Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"net/http"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oscash/payhub/common"
	"github.com/oscash/payhub/hub"
)

// APIWebsocketHandler handler for the websocket client endpoint
type APIWebsocketHandler struct {
	common.Component
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

// GetAPIWebsocketHandler define APIWebsocketHandler
func GetAPIWebsocketHandler(notificationHub *hub.Hub) (APIWebsocketHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "websocket-endpoint",
	}
	return APIWebsocketHandler{
		Component: common.Component{LogTags: logTags},
		hub:       notificationHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// ServeClient upgrade one HTTP request to a websocket and hand the
// connection to the hub. Blocks until the connection closes.
func (h APIWebsocketHandler) ServeClient(w http.ResponseWriter, r *http.Request) {
	param := common.ConnectionParam{
		ID:         uuid.New().String(),
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	localLogTags := log.Fields{}
	for lt, lv := range h.LogTags {
		localLogTags[lt] = lv
	}
	param.UpdateLogTags(localLogTags)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}
	log.WithFields(localLogTags).Debug("Websocket upgrade complete")
	h.hub.HandleConnection(conn, param)
}

// ServeClientHandler Wrapper around ServeClient
func (h APIWebsocketHandler) ServeClientHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeClient(w, r)
	}
}
