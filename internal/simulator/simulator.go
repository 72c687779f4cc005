// Package simulator drives one simulated end-device through OTAA and the
// periodic uplink cycle over a packet-forwarder transport.
package simulator

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/internal/device"
	"github.com/lorawan-server/lorawan-device-simulator/internal/gateway"
	"github.com/lorawan-server/lorawan-device-simulator/internal/integration"
	"github.com/lorawan-server/lorawan-device-simulator/internal/metrics"
	"github.com/lorawan-server/lorawan-device-simulator/internal/models"
	"github.com/lorawan-server/lorawan-device-simulator/internal/storage"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

const (
	eventBuffer    = 64
	frameBuffer    = 256
	storeTimeout   = 5 * time.Second
	publishTimeout = 10 * time.Second
)

// ErrStopped is returned by commands once Run has returned
var ErrStopped = errors.New("simulator stopped")

// State is the activation state of the simulated device
type State int

const (
	Idle State = iota
	Joining
	Activated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Joining:
		return "JOINING"
	case Activated:
		return "ACTIVATED"
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transport is the gateway side of the simulator
type Transport interface {
	SendPullData() (uint16, error)
	SendPushData(rxpk gateway.RXPK) (uint16, error)
	Downlinks() <-chan gateway.Downlink
	Tmst() uint32
}

// Status is a snapshot of the device state. Keys are never exposed.
type Status struct {
	State         State           `json:"state"`
	DevEUI        lorawan.EUI64   `json:"devEUI"`
	AppEUI        lorawan.EUI64   `json:"appEUI"`
	DevAddr       lorawan.DevAddr `json:"devAddr"`
	NetID         lorawan.NetID   `json:"netID"`
	DevNonce      uint16          `json:"devNonce"`
	FCntUp        uint32          `json:"fCntUp"`
	FCntDown      uint32          `json:"fCntDown"`
	Activated     bool            `json:"activated"`
	RX1Delay      int             `json:"rx1Delay"`
	RX2Delay      int             `json:"rx2Delay"`
	FrequencyPlan string          `json:"frequencyPlan"`
}

// UplinkResult describes a data uplink that was handed to the gateway
type UplinkResult struct {
	FCnt      uint32  `json:"fCnt"`
	FPort     uint8   `json:"fPort"`
	Frequency float64 `json:"frequency"`
	Token     uint16  `json:"token"`
}

// Simulator owns the device session. Only the Run goroutine touches it;
// other goroutines go through the command channel.
type Simulator struct {
	device    *device.Device
	transport Transport
	plan      *lorawan.FrequencyPlan

	fPort             uint8
	uplinkInterval    time.Duration
	keepaliveInterval time.Duration
	joinRetryInterval time.Duration
	payload           PayloadGenerator
	rssi              int
	lsnr              float64
	debugLoRa         bool
	store             storage.Store
	publisher         integration.Publisher
	rand              *rand.Rand

	state    State
	commands chan func()
	frames   chan *models.Frame
	events   chan models.Event
	done     chan struct{}
}

// New returns a simulator in the Idle state
func New(dev *device.Device, transport Transport, plan *lorawan.FrequencyPlan, opts ...Option) *Simulator {
	s := &Simulator{
		device:            dev,
		transport:         transport,
		plan:              plan,
		fPort:             1,
		uplinkInterval:    time.Minute,
		keepaliveInterval: 10 * time.Second,
		payload:           TimestampPayload,
		rssi:              -100,
		lsnr:              5.0,
		store:             storage.NewMemoryStore(1000),
		publisher:         integration.NoopPublisher{},
		rand:              rand.New(rand.NewSource(time.Now().UnixNano())),
		commands:          make(chan func()),
		events:            make(chan models.Event, eventBuffer),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sends the first keepalive and Join Request, then serves timers,
// downlinks and commands until ctx is cancelled. It must be called once.
func (s *Simulator) Run(ctx context.Context) error {
	defer close(s.done)

	s.logBanner()
	go s.recordLoop(ctx)
	go s.publishLoop(ctx)

	s.sendKeepalive()
	s.join()

	keepalive := time.NewTicker(s.keepaliveInterval)
	defer keepalive.Stop()
	uplink := time.NewTicker(s.uplinkInterval)
	defer uplink.Stop()

	var joinRetry <-chan time.Time
	if s.joinRetryInterval > 0 {
		t := time.NewTicker(s.joinRetryInterval)
		defer t.Stop()
		joinRetry = t.C
	}

	downlinks := s.transport.Downlinks()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("simulator stopped")
			return ctx.Err()
		case dl := <-downlinks:
			s.handleDownlink(dl)
		case <-keepalive.C:
			s.sendKeepalive()
		case <-uplink.C:
			if s.state != Activated {
				log.Debug().Str("state", s.state.String()).Msg("device not activated, uplink skipped")
				continue
			}
			s.uplink(s.fPort, s.payload())
		case <-joinRetry:
			if s.state != Activated {
				log.Info().Msg("no join accept received, retrying join")
				s.join()
			}
		case cmd := <-s.commands:
			cmd()
		}
	}
}

// Join sends a new Join Request and returns its DevNonce. The device stops
// sending uplinks until the matching Join Accept arrives.
func (s *Simulator) Join(ctx context.Context) (uint16, error) {
	var (
		devNonce uint16
		err      error
	)
	if e := s.do(ctx, func() { devNonce, err = s.join() }); e != nil {
		return 0, e
	}
	return devNonce, err
}

// Uplink sends payload immediately. fPort 0 selects the configured port.
// It fails with device.ErrNotActivated before activation.
func (s *Simulator) Uplink(ctx context.Context, fPort uint8, payload []byte) (*UplinkResult, error) {
	var (
		res *UplinkResult
		err error
	)
	if e := s.do(ctx, func() {
		if fPort == 0 {
			fPort = s.fPort
		}
		res, err = s.uplink(fPort, payload)
	}); e != nil {
		return nil, e
	}
	return res, err
}

// Status returns a snapshot of the session
func (s *Simulator) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.do(ctx, func() {
		id := s.device.Identity()
		sess := s.device.Session()
		st = Status{
			State:         s.state,
			DevEUI:        id.DevEUI,
			AppEUI:        id.AppEUI,
			DevAddr:       sess.DevAddr,
			NetID:         sess.NetID,
			DevNonce:      sess.DevNonce,
			FCntUp:        sess.FCntUp,
			FCntDown:      sess.FCntDown,
			Activated:     sess.Activated,
			RX1Delay:      sess.RX1Delay,
			RX2Delay:      sess.RX2Delay,
			FrequencyPlan: s.plan.Name,
		}
	})
	return st, err
}

// Frames lists the frame log
func (s *Simulator) Frames(ctx context.Context, filters storage.FrameFilters, limit, offset int) ([]*models.Frame, int64, error) {
	return s.store.ListFrames(ctx, filters, limit, offset)
}

func (s *Simulator) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	cmd := func() {
		fn()
		close(done)
	}

	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) setState(st State) {
	if st == s.state {
		return
	}
	log.Debug().Str("from", s.state.String()).Str("to", st.String()).Msg("state changed")
	s.state = st

	if st == Activated {
		metrics.Activated().Set(1)
	} else {
		metrics.Activated().Set(0)
	}
}

func (s *Simulator) logBanner() {
	id := s.device.Identity()
	log.Info().
		Str("dev_eui", id.DevEUI.String()).
		Str("app_eui", id.AppEUI.String()).
		Str("frequency_plan", s.plan.Name).
		Str("description", s.plan.Description).
		Float64("default_uplink_mhz", lorawan.MHz(s.plan.DefaultUplinkChannel)).
		Float64("rx2_mhz", lorawan.MHz(s.plan.RX2Frequency)).
		Int("rx1_offset", s.plan.RX1Offset).
		Int("uplink_channels", len(s.plan.UplinkChannels)).
		Str("data_rate", s.plan.DefaultDataRate).
		Uint8("fport", s.fPort).
		Dur("uplink_interval", s.uplinkInterval).
		Dur("keepalive_interval", s.keepaliveInterval).
		Msg("device simulator starting")
}

func (s *Simulator) sendKeepalive() {
	token, err := s.transport.SendPullData()
	if err != nil {
		log.Error().Err(err).Msg("send PULL_DATA")
		return
	}
	log.Debug().Uint16("token", token).Msg("PULL_DATA sent")
}
