// Package server serves simulator commands received over NATS
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/internal/device"
	"github.com/lorawan-server/lorawan-device-simulator/internal/simulator"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

const commandTimeout = 10 * time.Second

// Commands accepted on <prefix>.device.<deveui>.command.<name>
const (
	CommandJoin   = "join"
	CommandUplink = "uplink"
	CommandStatus = "status"
)

// Device is the part of the simulator driven by NATS requests
type Device interface {
	Status(ctx context.Context) (simulator.Status, error)
	Join(ctx context.Context) (uint16, error)
	Uplink(ctx context.Context, fPort uint8, payload []byte) (*simulator.UplinkResult, error)
}

// UplinkCommand is the body of an uplink request. Data is base64 in JSON;
// Text is used when Data is empty.
type UplinkCommand struct {
	FPort uint8  `json:"fPort"`
	Data  []byte `json:"data"`
	Text  string `json:"text"`
}

// Reply is sent back on the request inbox
type Reply struct {
	Error  string      `json:"error,omitempty"`
	Code   string      `json:"code,omitempty"`
	Result interface{} `json:"result,omitempty"`
}

// NATSSubscriber NATS subscriber
type NATSSubscriber struct {
	nc     *nats.Conn
	device Device
	prefix string
	subs   []*nats.Subscription
}

// NewNATSSubscriber creates a subscriber serving commands for devEUI
func NewNATSSubscriber(nc *nats.Conn, dev Device, subjectPrefix string, devEUI lorawan.EUI64) *NATSSubscriber {
	prefix := fmt.Sprintf("device.%s.command", devEUI)
	if subjectPrefix != "" {
		prefix = subjectPrefix + "." + prefix
	}
	return &NATSSubscriber{
		nc:     nc,
		device: dev,
		prefix: prefix,
	}
}

// Subject returns the subject of a command
func (s *NATSSubscriber) Subject(command string) string {
	return s.prefix + "." + command
}

// Start subscribes and blocks until ctx is cancelled
func (s *NATSSubscriber) Start(ctx context.Context) error {
	for _, command := range []string{CommandJoin, CommandUplink, CommandStatus} {
		command := command
		sub, err := s.nc.Subscribe(s.Subject(command), func(msg *nats.Msg) {
			s.handleMsg(ctx, command, msg)
		})
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", s.Subject(command), err)
		}
		s.subs = append(s.subs, sub)
	}

	log.Info().
		Str("subject", s.prefix+".*").
		Int("subscriptions", len(s.subs)).
		Msg("NATS command subscriber started")

	<-ctx.Done()
	s.unsubscribe()
	return ctx.Err()
}

func (s *NATSSubscriber) unsubscribe() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *NATSSubscriber) handleMsg(ctx context.Context, command string, msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("command received")

	reply := s.handle(ctx, command, msg.Data)
	if msg.Reply == "" {
		return
	}

	b, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Str("command", command).Msg("marshal reply")
		return
	}
	if err := msg.Respond(b); err != nil {
		log.Error().Err(err).Str("command", command).Msg("send reply")
	}
}

// handle runs one command against the device
func (s *NATSSubscriber) handle(ctx context.Context, command string, data []byte) Reply {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch command {
	case CommandStatus:
		st, err := s.device.Status(ctx)
		if err != nil {
			return errorReply(err)
		}
		return Reply{Result: st}

	case CommandJoin:
		devNonce, err := s.device.Join(ctx)
		if err != nil {
			return errorReply(err)
		}
		return Reply{Result: map[string]interface{}{"devNonce": devNonce}}

	case CommandUplink:
		var cmd UplinkCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return Reply{Error: "invalid request body", Code: "bad_request"}
		}
		payload := cmd.Data
		if len(payload) == 0 {
			payload = []byte(cmd.Text)
		}
		if len(payload) == 0 {
			return Reply{Error: "data or text is required", Code: "bad_request"}
		}

		res, err := s.device.Uplink(ctx, cmd.FPort, payload)
		if err != nil {
			return errorReply(err)
		}
		return Reply{Result: res}
	}

	return Reply{Error: fmt.Sprintf("unknown command %q", command), Code: "bad_request"}
}

func errorReply(err error) Reply {
	r := Reply{Error: err.Error(), Code: "internal"}
	switch {
	case errors.Is(err, device.ErrNotActivated):
		r.Code = "not_activated"
	case errors.Is(err, device.ErrUnsupportedFrame):
		r.Code = "bad_request"
	case errors.Is(err, simulator.ErrStopped):
		r.Code = "unavailable"
	}
	return r
}
