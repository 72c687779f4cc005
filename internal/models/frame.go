package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// FrameDirection is UP for frames the device sent and DOWN for accepted downlinks
type FrameDirection string

const (
	FrameUp   FrameDirection = "UP"
	FrameDown FrameDirection = "DOWN"
)

// Frame is one entry of the device frame log
type Frame struct {
	ID      uuid.UUID       `json:"id" db:"id"`
	DevEUI  lorawan.EUI64   `json:"devEUI" db:"dev_eui"`
	DevAddr lorawan.DevAddr `json:"devAddr" db:"dev_addr"`

	Direction FrameDirection `json:"direction" db:"direction"`
	MType     string         `json:"mType" db:"m_type"`
	FCnt      uint32         `json:"fCnt" db:"f_cnt"`
	FPort     *uint8         `json:"fPort,omitempty" db:"f_port"`

	PHYPayload []byte `json:"phyPayload" db:"phy_payload"`
	// Data is the decrypted FRMPayload
	Data []byte `json:"data,omitempty" db:"data"`

	Frequency float64   `json:"frequency" db:"frequency"`
	DataRate  string    `json:"dataRate" db:"data_rate"`
	Token     uint16    `json:"token" db:"token"`
	Metadata  Variables `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
