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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/oscash/payhub/apis"
	"github.com/oscash/payhub/common"
	"github.com/oscash/payhub/events"
	"github.com/oscash/payhub/gateway"
	"github.com/oscash/payhub/hub"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunGatewayServer assemble and run the payment gateway server until the
// runtime context is cancelled
func RunGatewayServer(
	config *common.SystemConfig,
	instance string,
	runTimeContext context.Context,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "gateway",
		"instance":  instance,
	}

	// -------------------------------------------------------------------
	// Define the core components

	btcpayClient, err := gateway.DefineClient(config.BTCPay)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define BTCPay client")
		return err
	}
	verifier, err := gateway.DefineCredentialVerifier(btcpayClient)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define credential verifier")
		return err
	}

	notificationHub, err := hub.New(config.Hub, btcpayClient, verifier, runTimeContext)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define notification hub")
		return err
	}
	if err := notificationHub.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start notification hub")
		return err
	}

	// Optional NATS payment event feed
	var eventSource events.EventSource
	if config.Events.ServerURI != "" {
		eventSource, err = events.DefineNATSEventSource(config.Events, notificationHub.Dispatch)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Failed to define event source with %s", config.Events.ServerURI,
			)
			return err
		}
		if err := eventSource.Start(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to start event source")
			return err
		}
	}

	// -------------------------------------------------------------------
	// Define the API handlers

	httpHandler, err := apis.GetAPIRestGatewayHandler(notificationHub, &config.Gateway)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define REST handler")
		return err
	}
	wsHandler, err := apis.GetAPIWebsocketHandler(notificationHub)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define websocket handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.Gateway.Endpoints.PathPrefix, nil)

	// Websocket clients
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/ws", map[string]http.HandlerFunc{
		"get": wsHandler.ServeClientHandler(),
	})

	// Payment event ingestion
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/events/payment", map[string]http.HandlerFunc{
		"post": httpHandler.DispatchPaymentUpdateHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.Gateway.Server.ListenOn, config.Gateway.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(config.Gateway.Server.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(config.Gateway.Server.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(config.Gateway.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Start the server
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started gateway server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server first so no new connections arrive during teardown
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	// Stop the event feed before the hub releases its structures
	if eventSource != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		eventSource.Stop(ctx)
	}

	if err := notificationHub.Stop(); err != nil {
		log.WithError(err).Error("Failure during hub shutdown")
	}

	return nil
}
