package simulator

import (
	"math/rand"
	"time"

	"github.com/lorawan-server/lorawan-device-simulator/internal/integration"
	"github.com/lorawan-server/lorawan-device-simulator/internal/storage"
)

// PayloadGenerator returns the application payload of the next uplink
type PayloadGenerator func() []byte

// TimestampPayload is the default generator: the current UTC time in RFC 3339
func TimestampPayload() []byte {
	return []byte(time.Now().UTC().Format(time.RFC3339))
}

// TextPayload always returns text
func TextPayload(text string) PayloadGenerator {
	return func() []byte {
		return []byte(text)
	}
}

// Option configures a Simulator
type Option func(*Simulator)

// WithFPort sets the application port of periodic uplinks
func WithFPort(fPort uint8) Option {
	return func(s *Simulator) {
		s.fPort = fPort
	}
}

// WithUplinkInterval sets the period of the uplink timer
func WithUplinkInterval(d time.Duration) Option {
	return func(s *Simulator) {
		s.uplinkInterval = d
	}
}

// WithKeepaliveInterval sets the PULL_DATA period
func WithKeepaliveInterval(d time.Duration) Option {
	return func(s *Simulator) {
		s.keepaliveInterval = d
	}
}

// WithJoinRetryInterval resends the Join Request every d until a Join Accept
// is accepted. Zero disables it.
func WithJoinRetryInterval(d time.Duration) Option {
	return func(s *Simulator) {
		s.joinRetryInterval = d
	}
}

// WithPayloadGenerator replaces the timestamp payload
func WithPayloadGenerator(g PayloadGenerator) Option {
	return func(s *Simulator) {
		if g != nil {
			s.payload = g
		}
	}
}

// WithRadio sets the signal metadata reported in every rxpk
func WithRadio(rssi int, lsnr float64) Option {
	return func(s *Simulator) {
		s.rssi = rssi
		s.lsnr = lsnr
	}
}

// WithStore records every frame sent or accepted
func WithStore(store storage.Store) Option {
	return func(s *Simulator) {
		s.store = store
	}
}

// WithPublisher publishes device events
func WithPublisher(p integration.Publisher) Option {
	return func(s *Simulator) {
		s.publisher = p
	}
}

// WithRand sets the source of DevNonces and channel selection
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) {
		s.rand = r
	}
}

// WithDebugLoRa logs every PHYPayload as hex
func WithDebugLoRa(enabled bool) Option {
	return func(s *Simulator) {
		s.debugLoRa = enabled
	}
}
