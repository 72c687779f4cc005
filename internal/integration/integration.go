// Package integration publishes device events to a message broker.
package integration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/internal/config"
	"github.com/lorawan-server/lorawan-device-simulator/internal/models"
)

// Publisher delivers device events. Failures are reported to the caller,
// which logs them and carries on.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
	Close() error
}

// New returns the publisher selected by cfg.Backend
func New(cfg config.IntegrationConfig) (Publisher, error) {
	switch cfg.Backend {
	case config.BackendNATS:
		return NewNATSPublisher(cfg.NATS)
	case config.BackendMQTT:
		return NewMQTTPublisher(cfg.MQTT)
	case config.BackendNone, "":
		return NoopPublisher{}, nil
	}
	return nil, fmt.Errorf("unknown integration backend %q", cfg.Backend)
}

// NoopPublisher discards every event
type NoopPublisher struct{}

// Publish implements Publisher
func (NoopPublisher) Publish(ctx context.Context, event models.Event) error {
	log.Debug().
		Str("type", string(event.Type)).
		Str("dev_eui", event.DevEUI.String()).
		Msg("integration disabled, event discarded")
	return nil
}

// Close implements Publisher
func (NoopPublisher) Close() error {
	return nil
}

func marshalEvent(event models.Event) ([]byte, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return b, nil
}
