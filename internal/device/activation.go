package device

import (
	"errors"
	"fmt"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// MaxFPort is the highest application port; 224-255 are reserved
const MaxFPort = 223

// Device builds and parses the frames of one simulated end-device
type Device struct {
	identity Identity
	session  Session
}

// New returns a device in the not-activated state
func New(identity Identity) *Device {
	return &Device{identity: identity}
}

// Identity returns the provisioned identifiers
func (d *Device) Identity() Identity {
	return d.identity
}

// Session returns a copy of the current session
func (d *Device) Session() Session {
	return d.session
}

// Uplink is a data frame ready for transmission
type Uplink struct {
	PHYPayload []byte
	FCnt       uint32
	FPort      uint8
}

// Downlink is a verified and decrypted data frame
type Downlink struct {
	MType lorawan.MType
	FCnt  uint32
	FCtrl lorawan.FCtrl
	FPort *uint8
	Data  []byte

	// MACCommands found in FOpts or in an FPort 0 payload. They are not acted on.
	MACCommands []lorawan.MACCommand

	// FCntBehind is set when the counter is lower than the next expected
	// value. The frame is still accepted.
	FCntBehind bool
}

// BuildJoinRequest builds a Join Request and records devNonce for the key
// derivation of the matching Join Accept.
func (d *Device) BuildJoinRequest(devNonce uint16) []byte {
	d.session.DevNonce = devNonce

	return lorawan.MarshalJoinRequest(d.identity.AppKey, lorawan.JoinRequestPayload{
		JoinEUI:  d.identity.AppEUI,
		DevEUI:   d.identity.DevEUI,
		DevNonce: devNonce,
	})
}

// ProcessJoinAccept verifies and decrypts a Join Accept. On success the
// session keys are derived, the session becomes activated and both frame
// counters restart at 0. On failure the session is left untouched.
func (d *Device) ProcessJoinAccept(phy []byte) (*lorawan.JoinAcceptPayload, error) {
	if len(phy) < 12 {
		return nil, fmt.Errorf("%w: join accept of %d bytes", ErrMalformedFrame, len(phy))
	}
	if mt := lorawan.ParseMHDR(phy[0]).MType; mt != lorawan.JoinAccept {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMType, mt)
	}

	plain, err := lorawan.DecryptJoinAccept(d.identity.AppKey, phy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var mic lorawan.MIC
	copy(mic[:], plain[len(plain)-4:])
	if !lorawan.EqualMIC(lorawan.ComputeJoinMIC(d.identity.AppKey, plain[:len(plain)-4]), mic) {
		return nil, ErrMICMismatch
	}

	var ja lorawan.JoinAcceptPayload
	if err := ja.UnmarshalBinary(plain[1 : len(plain)-4]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	nwkSKey, appSKey := lorawan.DeriveSessionKeys10(d.identity.AppKey, ja.AppNonce, ja.NetID, d.session.DevNonce)
	d.session.activate(&ja, nwkSKey, appSKey)

	return &ja, nil
}

// BuildDataUplink builds an unconfirmed data uplink and advances FCntUp.
// It refuses with ErrNotActivated before a successful join.
func (d *Device) BuildDataUplink(fPort uint8, payload []byte) (*Uplink, error) {
	if !d.session.Activated {
		return nil, ErrNotActivated
	}
	if fPort == 0 || fPort > MaxFPort {
		return nil, fmt.Errorf("%w: FPort %d", ErrUnsupportedFrame, fPort)
	}

	s := &d.session
	frame := lorawan.DataFrame{
		MHDR: lorawan.MHDR{MType: lorawan.UnconfirmedDataUp, Major: lorawan.LoRaWANR1},
		FHDR: lorawan.FHDR{
			DevAddr: s.DevAddr,
			FCnt:    uint16(s.FCntUp),
		},
		FPort:      &fPort,
		FRMPayload: payload,
	}
	frame.EncryptFRMPayload(s.AppSKey, s.FCntUp)
	if err := frame.SetMIC(s.NwkSKey, s.FCntUp); err != nil {
		return nil, fmt.Errorf("set MIC: %w", err)
	}

	b, err := frame.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal uplink: %w", err)
	}

	up := &Uplink{PHYPayload: b, FCnt: s.FCntUp, FPort: fPort}
	s.FCntUp++
	return up, nil
}

// ProcessDataDownlink verifies and decrypts a data downlink addressed to
// this device and sets FCntDown to the received counter + 1.
func (d *Device) ProcessDataDownlink(phy []byte) (*Downlink, error) {
	if !d.session.Activated {
		return nil, ErrNotActivated
	}

	var frame lorawan.DataFrame
	if err := frame.UnmarshalBinary(phy); err != nil {
		if errors.Is(err, lorawan.ErrInvalidMType) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMType, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.MHDR.MType {
	case lorawan.UnconfirmedDataDown:
	case lorawan.ConfirmedDataDown:
		return nil, fmt.Errorf("%w: confirmed downlink", ErrUnsupportedFrame)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMType, frame.MHDR.MType)
	}

	s := &d.session
	if frame.FHDR.DevAddr != s.DevAddr {
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrDevAddrMismatch, frame.FHDR.DevAddr, s.DevAddr)
	}

	fCnt := lorawan.GetFullFCnt(s.FCntDown, frame.FHDR.FCnt)
	if !lorawan.ValidateDataMIC(s.NwkSKey, lorawan.Downlink, s.DevAddr, fCnt, phy) {
		return nil, ErrMICMismatch
	}

	dl := &Downlink{
		MType:      frame.MHDR.MType,
		FCnt:       fCnt,
		FCtrl:      frame.FHDR.FCtrl,
		FPort:      frame.FPort,
		FCntBehind: fCnt < s.FCntDown,
	}

	if len(frame.FHDR.FOpts) > 0 {
		cmds, _ := lorawan.ParseDownlinkMACCommands(frame.FHDR.FOpts)
		dl.MACCommands = append(dl.MACCommands, cmds...)
	}

	if frame.FPort != nil && len(frame.FRMPayload) > 0 {
		key := s.AppSKey
		if *frame.FPort == 0 {
			key = s.NwkSKey
		}
		dl.Data = lorawan.EncryptFRMPayload(key, lorawan.Downlink, s.DevAddr, fCnt, frame.FRMPayload)

		if *frame.FPort == 0 {
			cmds, _ := lorawan.ParseDownlinkMACCommands(dl.Data)
			dl.MACCommands = append(dl.MACCommands, cmds...)
		}
	}

	s.FCntDown = fCnt + 1
	return dl, nil
}
