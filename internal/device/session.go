package device

import (
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// Identity holds the provisioned OTAA parameters of the device
type Identity struct {
	DevEUI lorawan.EUI64
	AppEUI lorawan.EUI64
	AppKey lorawan.AES128Key
}

// Session is the activation record of the device. It is owned by a single
// goroutine; the Device methods do not lock.
type Session struct {
	DevAddr lorawan.DevAddr
	NetID   lorawan.NetID
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key

	// DevNonce of the last Join Request sent
	DevNonce uint16

	// FCntUp is the counter of the next uplink. FCntDown is the next
	// expected downlink counter.
	FCntUp   uint32
	FCntDown uint32

	Activated bool

	DLSettings lorawan.DLSettings
	RX1Delay   int
	RX2Delay   int
}

// activate installs a fresh session, replacing any previous one
func (s *Session) activate(ja *lorawan.JoinAcceptPayload, nwkSKey, appSKey lorawan.AES128Key) {
	s.DevAddr = ja.DevAddr
	s.NetID = ja.NetID
	s.NwkSKey = nwkSKey
	s.AppSKey = appSKey
	s.DLSettings = ja.DLSettings
	s.RX1Delay = ja.RX1Delay()
	s.RX2Delay = s.RX1Delay + 1
	s.FCntUp = 0
	s.FCntDown = 0
	s.Activated = true
}
