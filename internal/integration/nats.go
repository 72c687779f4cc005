package integration

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/internal/config"
	"github.com/lorawan-server/lorawan-device-simulator/internal/models"
)

// NATSPublisher publishes events on <prefix>.device.<deveui>.<type>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to cfg.URL
func NewNATSPublisher(cfg config.NATSConfig) (*NATSPublisher, error) {
	log.Info().Str("url", cfg.URL).Msg("connecting to NATS")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("lorawan-device-simulator"),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}

	return &NATSPublisher{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Publish implements Publisher
func (p *NATSPublisher) Publish(ctx context.Context, event models.Event) error {
	b, err := marshalEvent(event)
	if err != nil {
		return err
	}

	subject := natsSubject(p.prefix, event)
	if err := p.nc.Publish(subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	log.Debug().Str("subject", subject).Int("size", len(b)).Msg("event published to NATS")
	return nil
}

// Conn returns the underlying connection, shared with the command subscriber
func (p *NATSPublisher) Conn() *nats.Conn {
	return p.nc
}

// Close flushes pending messages and closes the connection
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

func natsSubject(prefix string, event models.Event) string {
	subject := fmt.Sprintf("device.%s.%s", event.DevEUI, event.Type)
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}
