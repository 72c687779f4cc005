package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/internal/config"
	"github.com/lorawan-server/lorawan-device-simulator/internal/models"
)

const mqttPublishTimeout = 5 * time.Second

var (
	// ErrConnectTimeout is returned when the first connection is not
	// established within the configured timeout
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrPublishTimeout is returned when the broker does not confirm in time
	ErrPublishTimeout = errors.New("publish timeout")
)

// MQTTPublisher publishes events on <prefix>/device/<deveui>/<type>
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// NewMQTTPublisher connects to cfg.Server. The client reconnects on its own
// after the first successful connection.
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "lorawan-device-simulator-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Server)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("server", cfg.Server).Str("client_id", clientID).Msg("MQTT client connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("server", cfg.Server).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect MQTT %s: %w", cfg.Server, ErrConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect MQTT %s: %w", cfg.Server, err)
	}

	return &MQTTPublisher{client: client, prefix: cfg.TopicPrefix, qos: cfg.QoS}, nil
}

// Publish implements Publisher
func (p *MQTTPublisher) Publish(ctx context.Context, event models.Event) error {
	b, err := marshalEvent(event)
	if err != nil {
		return err
	}

	topic := mqttTopic(p.prefix, event)
	token := p.client.Publish(topic, p.qos, false, b)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("publish %s: %w", topic, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	log.Debug().Str("topic", topic).Int("size", len(b)).Msg("event published to MQTT")
	return nil
}

// Close disconnects, waiting up to 250ms for in-flight messages
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

func mqttTopic(prefix string, event models.Event) string {
	topic := fmt.Sprintf("device/%s/%s", event.DevEUI, event.Type)
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}
