package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/oscash/payhub/common"
	"github.com/oscash/payhub/gateway"
)

// PaymentEvent one payment status event received from the message bus
type PaymentEvent struct {
	PaymentID     string `json:"paymentId" validate:"required"`
	Status        string `json:"status" validate:"required"`
	Confirmations int    `json:"confirmations"`
	Paid          bool   `json:"paid"`
	Expired       bool   `json:"expired"`
}

// DispatchFunc sink for decoded payment events
type DispatchFunc func(paymentID string, status gateway.PaymentStatus)

// EventSource subscribes to upstream payment events and feeds them into the
// hub's broadcast dispatcher
type EventSource interface {
	Start() error
	Stop(ctxt context.Context)
}

// natsEventSourceImpl implements EventSource against a NATS subject
type natsEventSourceImpl struct {
	common.Component
	nc           *nats.Conn
	subject      string
	subscription *nats.Subscription
	dispatch     DispatchFunc
	validate     *validator.Validate
}

// DefineNATSEventSource connect to NATS and define a payment event source.
// The connection retries per the reconnect config; state transitions are
// logged through the standard handlers.
func DefineNATSEventSource(
	eventConfig common.EventSourceConfig, dispatch DispatchFunc,
) (EventSource, error) {
	logTags := log.Fields{
		"module":    "events",
		"component": "nats-event-source",
		"instance":  eventConfig.ServerURI,
	}
	nc, err := nats.Connect(
		eventConfig.ServerURI,
		nats.Timeout(time.Second*time.Duration(eventConfig.ConnectTimeout)),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(eventConfig.MaxReconnectAttempts),
		nats.ReconnectWait(time.Second*time.Duration(eventConfig.ReconnectWait)),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).WithFields(logTags).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.WithFields(logTags).Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.WithFields(logTags).Info("NATS connection closed")
		}),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("NATS client connect failed")
		return nil, err
	}
	return &natsEventSourceImpl{
		Component: common.Component{LogTags: logTags},
		nc:        nc,
		subject:   eventConfig.Subject,
		dispatch:  dispatch,
		validate:  validator.New(),
	}, nil
}

// Start subscribe for payment events
func (s *natsEventSourceImpl) Start() error {
	subscription, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		event, err := parsePaymentEvent(msg.Data, s.validate)
		if err != nil {
			log.WithError(err).WithFields(s.LogTags).Warn("Discarding malformed payment event")
			return
		}
		s.dispatch(event.PaymentID, gateway.PaymentStatus{
			ID:            event.PaymentID,
			Status:        event.Status,
			Paid:          event.Paid,
			Expired:       event.Expired,
			Confirmations: event.Confirmations,
		})
	})
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Unable to subscribe for %s", s.subject,
		)
		return err
	}
	s.subscription = subscription
	log.WithFields(s.LogTags).Infof("Subscribed for payment events on %s", s.subject)
	return nil
}

// Stop unsubscribe and close the NATS connection
func (s *natsEventSourceImpl) Stop(ctxt context.Context) {
	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Error("Unsubscribe failed")
		}
	}
	if err := s.nc.FlushWithContext(ctxt); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("NATS flush failed")
	}
	s.nc.Close()
	log.WithFields(s.LogTags).Info("Payment event source stopped")
}

// parsePaymentEvent decode and validate one payment event
func parsePaymentEvent(data []byte, validate *validator.Validate) (PaymentEvent, error) {
	var event PaymentEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return PaymentEvent{}, err
	}
	if err := validate.Struct(&event); err != nil {
		return PaymentEvent{}, err
	}
	return event, nil
}
