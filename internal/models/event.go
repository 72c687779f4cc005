package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// EventType names a device event published to the integration
type EventType string

const (
	EventJoinRequest EventType = "join_request"
	EventJoin        EventType = "join"
	EventUplink      EventType = "uplink"
	EventDownlink    EventType = "downlink"
	EventError       EventType = "error"
)

// Event is published for every frame the device sends or accepts
type Event struct {
	ID      uuid.UUID       `json:"id"`
	Type    EventType       `json:"type"`
	DevEUI  lorawan.EUI64   `json:"devEUI"`
	DevAddr lorawan.DevAddr `json:"devAddr"`
	FCnt    uint32          `json:"fCnt"`
	FPort   *uint8          `json:"fPort,omitempty"`
	Data    []byte          `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details Variables       `json:"details,omitempty"`
	Time    time.Time       `json:"time"`
}

// NewEvent stamps a new event with an ID and the current time
func NewEvent(typ EventType, devEUI lorawan.EUI64) Event {
	return Event{
		ID:     uuid.New(),
		Type:   typ,
		DevEUI: devEUI,
		Time:   time.Now().UTC(),
	}
}
