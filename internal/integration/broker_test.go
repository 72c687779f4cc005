package integration

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-device-simulator/internal/config"
)

func TestNATSPublish(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	e := testEvent()
	s, err := sub.SubscribeSync(natsSubject("test", e))
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := NewNATSPublisher(config.NATSConfig{URL: url, SubjectPrefix: "test", ReconnectInterval: time.Second})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), e))

	msg, err := s.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &out))
	assert.Equal(t, e.ID.String(), out["id"])
	assert.Equal(t, "uplink", out["type"])
}

func TestMQTTPublish(t *testing.T) {
	server := os.Getenv("TEST_MQTT_SERVER")
	if server == "" {
		t.Skip("TEST_MQTT_SERVER not set")
	}

	e := testEvent()
	received := make(chan []byte, 1)

	opts := mqtt.NewClientOptions().AddBroker(server).SetClientID("device-simulator-test-sub")
	if u := os.Getenv("TEST_MQTT_USERNAME"); u != "" {
		opts.SetUsername(u)
		opts.SetPassword(os.Getenv("TEST_MQTT_PASSWORD"))
	}
	sub := mqtt.NewClient(opts)
	token := sub.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	defer sub.Disconnect(0)

	token = sub.Subscribe(mqttTopic("test", e), 1, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case received <- msg.Payload():
		default:
		}
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	p, err := NewMQTTPublisher(config.MQTTConfig{
		Server:         server,
		Username:       os.Getenv("TEST_MQTT_USERNAME"),
		Password:       os.Getenv("TEST_MQTT_PASSWORD"),
		TopicPrefix:    "test",
		QoS:            1,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), e))

	select {
	case b := <-received:
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(b, &out))
		assert.Equal(t, e.ID.String(), out["id"])
		assert.Equal(t, "0102030405060708", out["devEUI"])
	case <-time.After(5 * time.Second):
		t.Fatal("no MQTT message received")
	}
}

func TestMQTTConnectTimeout(t *testing.T) {
	start := time.Now()
	_, err := NewMQTTPublisher(config.MQTTConfig{
		Server:         "tcp://127.0.0.1:1",
		ConnectTimeout: 200 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.NotErrorIs(t, err, ErrPublishTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}
