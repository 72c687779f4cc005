package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-simulator/internal/device"
	"github.com/lorawan-server/lorawan-device-simulator/internal/gateway"
	"github.com/lorawan-server/lorawan-device-simulator/internal/metrics"
	"github.com/lorawan-server/lorawan-device-simulator/internal/models"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// transmit wraps phy in an rxpk on a random uplink channel
func (s *Simulator) transmit(phy []byte) (uint16, float64, error) {
	freq := lorawan.MHz(s.plan.RandomUplinkChannel(s.rand))
	rxpk := gateway.RXPK{
		Time: time.Now().UTC().Format(time.RFC3339Nano),
		Tmst: s.transport.Tmst(),
		Freq: freq,
		Stat: 1,
		Modu: "LORA",
		DatR: gateway.DataRate{LoRa: s.plan.DefaultDataRate},
		CodR: "4/5",
		RSSI: s.rssi,
		LSNR: s.lsnr,
		Size: uint16(len(phy)),
		Data: phy,
	}

	if s.debugLoRa {
		log.Debug().Hex("phy_payload", phy).Float64("freq", freq).Msg("lora tx")
	}

	token, err := s.transport.SendPushData(rxpk)
	if err != nil {
		return token, freq, fmt.Errorf("send PUSH_DATA: %w", err)
	}
	return token, freq, nil
}

// join sends a Join Request with a fresh random DevNonce
func (s *Simulator) join() (uint16, error) {
	id := s.device.Identity()
	devNonce := uint16(s.rand.Intn(1 << 16))
	phy := s.device.BuildJoinRequest(devNonce)

	token, freq, err := s.transmit(phy)
	if err != nil {
		metrics.FrameError("send").Inc()
		log.Error().Err(err).Uint16("dev_nonce", devNonce).Msg("join request not sent")
		return devNonce, err
	}

	s.setState(Joining)
	metrics.Frame(lorawan.Uplink.String(), lorawan.JoinRequest.String()).Inc()

	log.Info().
		Str("dev_eui", id.DevEUI.String()).
		Uint16("dev_nonce", devNonce).
		Float64("freq", freq).
		Uint16("token", token).
		Msg("join request sent")

	s.record(&models.Frame{
		DevEUI:     id.DevEUI,
		Direction:  models.FrameUp,
		MType:      lorawan.JoinRequest.String(),
		PHYPayload: phy,
		Frequency:  freq,
		DataRate:   s.plan.DefaultDataRate,
		Token:      token,
	})

	e := models.NewEvent(models.EventJoinRequest, id.DevEUI)
	e.Details = models.Variables{"devNonce": devNonce}
	s.publish(e)

	return devNonce, nil
}

// uplink sends one unconfirmed data frame
func (s *Simulator) uplink(fPort uint8, payload []byte) (*UplinkResult, error) {
	if s.state != Activated {
		log.Warn().Str("state", s.state.String()).Msg("device not activated, uplink refused")
		return nil, device.ErrNotActivated
	}

	up, err := s.device.BuildDataUplink(fPort, payload)
	if err != nil {
		metrics.FrameError(errorReason(err)).Inc()
		log.Error().Err(err).Uint8("fport", fPort).Msg("build uplink")
		return nil, err
	}

	token, freq, err := s.transmit(up.PHYPayload)
	if err != nil {
		metrics.FrameError("send").Inc()
		log.Error().Err(err).Uint32("fcnt", up.FCnt).Msg("uplink not sent")
		return nil, err
	}

	id := s.device.Identity()
	sess := s.device.Session()
	metrics.Frame(lorawan.Uplink.String(), lorawan.UnconfirmedDataUp.String()).Inc()
	metrics.FCntUp().Set(float64(sess.FCntUp))

	log.Info().
		Str("dev_addr", sess.DevAddr.String()).
		Uint32("fcnt", up.FCnt).
		Uint8("fport", up.FPort).
		Int("size", len(payload)).
		Float64("freq", freq).
		Uint16("token", token).
		Msg("uplink sent")

	s.record(&models.Frame{
		DevEUI:     id.DevEUI,
		DevAddr:    sess.DevAddr,
		Direction:  models.FrameUp,
		MType:      lorawan.UnconfirmedDataUp.String(),
		FCnt:       up.FCnt,
		FPort:      &up.FPort,
		PHYPayload: up.PHYPayload,
		Data:       payload,
		Frequency:  freq,
		DataRate:   s.plan.DefaultDataRate,
		Token:      token,
	})

	e := models.NewEvent(models.EventUplink, id.DevEUI)
	e.DevAddr = sess.DevAddr
	e.FCnt = up.FCnt
	e.FPort = &up.FPort
	e.Data = payload
	s.publish(e)

	return &UplinkResult{FCnt: up.FCnt, FPort: up.FPort, Frequency: freq, Token: token}, nil
}

// handleDownlink routes a PHYPayload by activation state: Join Accept while
// joining, data frames once activated.
func (s *Simulator) handleDownlink(dl gateway.Downlink) {
	if s.debugLoRa {
		log.Debug().Hex("phy_payload", dl.PHYPayload).Float64("freq", dl.TXPK.Freq).Msg("lora rx")
	}

	switch s.state {
	case Joining:
		s.handleJoinAccept(dl)
	case Activated:
		s.handleDataDownlink(dl)
	default:
		metrics.FrameError("unexpected").Inc()
		log.Warn().Int("size", len(dl.PHYPayload)).Msg("no join in progress, downlink dropped")
	}
}

func (s *Simulator) handleJoinAccept(dl gateway.Downlink) {
	ja, err := s.device.ProcessJoinAccept(dl.PHYPayload)
	if err != nil {
		s.frameError("join accept rejected", err)
		return
	}

	s.setState(Activated)
	id := s.device.Identity()
	sess := s.device.Session()
	metrics.Frame(lorawan.Downlink.String(), lorawan.JoinAccept.String()).Inc()
	metrics.FCntUp().Set(0)

	log.Info().
		Str("dev_addr", sess.DevAddr.String()).
		Str("net_id", sess.NetID.String()).
		Int("rx1_delay", sess.RX1Delay).
		Int("rx2_delay", sess.RX2Delay).
		Uint8("rx1_dr_offset", ja.DLSettings.RX1DROffset).
		Uint8("rx2_data_rate", ja.DLSettings.RX2DataRate).
		Msg("device activated")

	s.record(&models.Frame{
		DevEUI:     id.DevEUI,
		DevAddr:    sess.DevAddr,
		Direction:  models.FrameDown,
		MType:      lorawan.JoinAccept.String(),
		PHYPayload: dl.PHYPayload,
		Frequency:  dl.TXPK.Freq,
		DataRate:   dl.TXPK.DatR.LoRa,
		Token:      dl.Token,
	})

	e := models.NewEvent(models.EventJoin, id.DevEUI)
	e.DevAddr = sess.DevAddr
	e.Details = models.Variables{
		"netID":    sess.NetID.String(),
		"rx1Delay": sess.RX1Delay,
		"rx2Delay": sess.RX2Delay,
	}
	s.publish(e)
}

func (s *Simulator) handleDataDownlink(dl gateway.Downlink) {
	d, err := s.device.ProcessDataDownlink(dl.PHYPayload)
	if err != nil {
		s.frameError("downlink rejected", err)
		return
	}

	id := s.device.Identity()
	sess := s.device.Session()
	metrics.Frame(lorawan.Downlink.String(), d.MType.String()).Inc()

	if d.FCntBehind {
		log.Warn().
			Uint32("fcnt", d.FCnt).
			Msg("downlink frame counter is behind the expected value, accepted without replay check")
	}

	ev := log.Info().
		Str("dev_addr", sess.DevAddr.String()).
		Uint32("fcnt", d.FCnt).
		Bool("ack", d.FCtrl.ACK).
		Bool("fpending", d.FCtrl.FPending)
	if d.FPort != nil {
		ev = ev.Uint8("fport", *d.FPort)
	}
	if len(d.Data) > 0 {
		if isPrintable(d.Data) {
			ev = ev.Str("data", string(d.Data))
		} else {
			ev = ev.Hex("data", d.Data)
		}
	}
	if len(d.MACCommands) > 0 {
		cids := make([]string, len(d.MACCommands))
		for i, c := range d.MACCommands {
			cids[i] = c.CID.String()
		}
		ev = ev.Strs("mac_commands", cids)
	}
	ev.Msg("downlink received")

	s.record(&models.Frame{
		DevEUI:     id.DevEUI,
		DevAddr:    sess.DevAddr,
		Direction:  models.FrameDown,
		MType:      d.MType.String(),
		FCnt:       d.FCnt,
		FPort:      d.FPort,
		PHYPayload: dl.PHYPayload,
		Data:       d.Data,
		Frequency:  dl.TXPK.Freq,
		DataRate:   dl.TXPK.DatR.LoRa,
		Token:      dl.Token,
	})

	e := models.NewEvent(models.EventDownlink, id.DevEUI)
	e.DevAddr = sess.DevAddr
	e.FCnt = d.FCnt
	e.FPort = d.FPort
	e.Data = d.Data
	s.publish(e)
}

// frameError logs a rejected frame. The session is untouched.
func (s *Simulator) frameError(msg string, err error) {
	reason := errorReason(err)
	metrics.FrameError(reason).Inc()
	log.Warn().Err(err).Str("reason", reason).Str("state", s.state.String()).Msg(msg)

	e := models.NewEvent(models.EventError, s.device.Identity().DevEUI)
	e.DevAddr = s.device.Session().DevAddr
	e.Error = err.Error()
	e.Details = models.Variables{"reason": reason}
	s.publish(e)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, device.ErrMICMismatch):
		return "mic_mismatch"
	case errors.Is(err, device.ErrDevAddrMismatch):
		return "devaddr_mismatch"
	case errors.Is(err, device.ErrInvalidMType):
		return "invalid_mtype"
	case errors.Is(err, device.ErrMalformedFrame):
		return "malformed"
	case errors.Is(err, device.ErrUnsupportedFrame):
		return "unsupported"
	case errors.Is(err, device.ErrNotActivated):
		return "not_activated"
	}
	return "other"
}

func isPrintable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// record queues frame for the frame log, dropping it when the queue is full
func (s *Simulator) record(frame *models.Frame) {
	select {
	case s.frames <- frame:
	default:
		log.Warn().Str("mtype", frame.MType).Msg("frame log queue full, frame dropped")
	}
}

func (s *Simulator) recordLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.frames:
			sctx, cancel := context.WithTimeout(ctx, storeTimeout)
			if err := s.store.SaveFrame(sctx, frame); err != nil {
				log.Error().Err(err).Str("mtype", frame.MType).Msg("save frame")
			}
			cancel()
		}
	}
}

// publish queues e for the publisher goroutine, dropping it when the queue is full
func (s *Simulator) publish(e models.Event) {
	select {
	case s.events <- e:
	default:
		log.Warn().Str("type", string(e.Type)).Msg("event queue full, event dropped")
	}
}

func (s *Simulator) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.events:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := s.publisher.Publish(pctx, e); err != nil {
				log.Error().Err(err).Str("type", string(e.Type)).Msg("publish event")
			}
			cancel()
		}
	}
}
