package ingest

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/greenroof-monitor/internal/metrics"
	"github.com/ukydev/greenroof-monitor/internal/schema"
)

// MQTTMessage is the subset of a broker message the subscriber reads.
type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

// MessageHandler feeds broker messages into the same Service the HTTP
// endpoint uses. There is no reply channel, so outcomes are only logged.
type MessageHandler struct {
	Service *Service
}

// HandleMessage submits one message payload. Retained messages are skipped
// so a reconnect does not store the last reading a second time.
func (h *MessageHandler) HandleMessage(ctx context.Context, msg MQTTMessage) {
	entry := log.WithField("topic", msg.Topic())
	if msg.Retained() {
		entry.Debug("Ignoring retained reading")
		return
	}

	conf, err := h.Service.Submit(ctx, msg.Payload())
	if err != nil {
		metrics.ReadingsIngested.WithLabelValues("mqtt", Outcome(err)).Inc()
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			entry.WithField("fields", verr.Fields).Info("Rejected invalid reading")
			return
		}
		entry.WithError(err).Error("Failed to store reading")
		return
	}

	metrics.ReadingsIngested.WithLabelValues("mqtt", Outcome(nil)).Inc()
	entry.WithFields(log.Fields{
		"device_id": conf.DeviceID,
		"record_id": conf.RecordID,
	}).Info("Received reading")
}
