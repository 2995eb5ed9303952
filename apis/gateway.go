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
	"encoding/json"
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oscash/payhub/common"
	"github.com/oscash/payhub/events"
	"github.com/oscash/payhub/gateway"
	"github.com/oscash/payhub/hub"
)

// APIRestGatewayHandler REST handler for the payment gateway control surface
type APIRestGatewayHandler struct {
	goutils.RestAPIHandler
	hub      *hub.Hub
	validate *validator.Validate
}

// GetAPIRestGatewayHandler define APIRestGatewayHandler
func GetAPIRestGatewayHandler(
	notificationHub *hub.Hub, gatewayConfig *common.GatewayServerConfig,
) (APIRestGatewayHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "gateway-rest",
	}
	return APIRestGatewayHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &gatewayConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range gatewayConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		hub:      notificationHub,
		validate: validator.New(),
	}, nil
}

// Write logging support
func (h APIRestGatewayHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================
// Payment event ingestion

// DispatchPaymentUpdate godoc
// @Summary Push a payment status event
// @Description Fan a payment status update out to all websocket clients
// subscribed to the payment
// @tags Gateway
// @Accept json
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/events/payment [post]
func (h APIRestGatewayHandler) DispatchPaymentUpdate(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var event events.PaymentEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		msg := "Unable to parse payment event"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&event); err != nil {
		msg := "Payment event failed validation"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.hub.Dispatch(event.PaymentID, gateway.PaymentStatus{
		ID:            event.PaymentID,
		Status:        event.Status,
		Paid:          event.Paid,
		Expired:       event.Expired,
		Confirmations: event.Confirmations,
	})

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// DispatchPaymentUpdateHandler Wrapper around DispatchPaymentUpdate
func (h APIRestGatewayHandler) DispatchPaymentUpdateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DispatchPaymentUpdate(w, r)
	}
}

// =======================================================================
// Health Checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For gateway REST API liveness check
// @Description Will return success to indicate gateway REST API module is live
// @tags Gateway
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestGatewayHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestGatewayHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// connectionStats hub connection statistics within a readiness response
type connectionStats struct {
	Connections   int `json:"connections"`
	Subscriptions int `json:"subscriptions"`
}

// readyResponse response of the Ready endpoint
type readyResponse struct {
	goutils.RestAPIBaseResponse
	Stats connectionStats `json:"stats"`
}

// Ready godoc
// @Summary For gateway REST API readiness check
// @Description Will return success along with hub connection statistics if
// the gateway is ready for use
// @tags Gateway
// @Produce json
// @Success 200 {object} readyResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestGatewayHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := readyResponse{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Stats: connectionStats{
			Connections:   h.hub.ConnectionCount(),
			Subscriptions: h.hub.SubscriptionCount(),
		},
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestGatewayHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
