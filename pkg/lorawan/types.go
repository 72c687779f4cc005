package lorawan

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidLength = errors.New("invalid length")
	ErrInvalidHex    = errors.New("invalid hex string")
)

// EUI64 represents an 8-byte Extended Unique Identifier.
// The value is kept in display (MSB first) order and reversed on the wire.
type EUI64 [8]byte

// ParseEUI64 decodes a 16 digit hex string
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64
	if err := decodeHex(s, e[:]); err != nil {
		return e, fmt.Errorf("parse EUI64: %w", err)
	}
	return e, nil
}

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalText implements encoding.TextMarshaler
func (e EUI64) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (e *EUI64) UnmarshalText(text []byte) error {
	v, err := ParseEUI64(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// MarshalBinary returns the little-endian wire form
func (e EUI64) MarshalBinary() ([]byte, error) {
	return reversed(e[:]), nil
}

// UnmarshalBinary decodes the little-endian wire form
func (e *EUI64) UnmarshalBinary(data []byte) error {
	if len(data) != len(e) {
		return fmt.Errorf("EUI64: %w: %d", ErrInvalidLength, len(data))
	}
	copy(e[:], reversed(data))
	return nil
}

// DevAddr represents a 4-byte device address
type DevAddr [4]byte

// ParseDevAddr decodes an 8 digit hex string
func ParseDevAddr(s string) (DevAddr, error) {
	var a DevAddr
	if err := decodeHex(s, a[:]); err != nil {
		return a, fmt.Errorf("parse DevAddr: %w", err)
	}
	return a, nil
}

// String returns hex string representation
func (a DevAddr) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler
func (a DevAddr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// MarshalBinary returns the little-endian wire form
func (a DevAddr) MarshalBinary() ([]byte, error) {
	return reversed(a[:]), nil
}

// UnmarshalBinary decodes the little-endian wire form
func (a *DevAddr) UnmarshalBinary(data []byte) error {
	if len(data) != len(a) {
		return fmt.Errorf("DevAddr: %w: %d", ErrInvalidLength, len(data))
	}
	copy(a[:], reversed(data))
	return nil
}

// NetID represents the 3-byte network identifier
type NetID [3]byte

// ParseNetID decodes a 6 digit hex string
func ParseNetID(s string) (NetID, error) {
	var n NetID
	if err := decodeHex(s, n[:]); err != nil {
		return n, fmt.Errorf("parse NetID: %w", err)
	}
	return n, nil
}

// String returns hex string representation
func (n NetID) String() string {
	return hex.EncodeToString(n[:])
}

// MarshalText implements encoding.TextMarshaler
func (n NetID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// ParseAES128Key decodes a 32 digit hex string
func ParseAES128Key(s string) (AES128Key, error) {
	var k AES128Key
	if err := decodeHex(s, k[:]); err != nil {
		return k, fmt.Errorf("parse AES128Key: %w", err)
	}
	return k, nil
}

// String returns hex string representation
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *AES128Key) UnmarshalText(text []byte) error {
	v, err := ParseAES128Key(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// MIC is the 4-byte message integrity code
type MIC [4]byte

// String returns hex string representation
func (m MIC) String() string {
	return hex.EncodeToString(m[:])
}

// MType represents the message type
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RFU
	Proprietary
)

var mtypeNames = [...]string{
	"JoinRequest",
	"JoinAccept",
	"UnconfirmedDataUp",
	"UnconfirmedDataDown",
	"ConfirmedDataUp",
	"ConfirmedDataDown",
	"RFU",
	"Proprietary",
}

func (m MType) String() string {
	if int(m) < len(mtypeNames) {
		return mtypeNames[m]
	}
	return fmt.Sprintf("MType(%d)", byte(m))
}

// IsUplink reports whether frames of this type travel device to network
func (m MType) IsUplink() bool {
	switch m {
	case JoinRequest, UnconfirmedDataUp, ConfirmedDataUp:
		return true
	}
	return false
}

// Major represents the LoRaWAN major version
type Major byte

const (
	LoRaWANR1 Major = 0
)

// MHDR represents the MAC header
type MHDR struct {
	MType MType
	Major Major
}

// Byte returns the encoded header
func (h MHDR) Byte() byte {
	return byte(h.MType)<<5 | byte(h.Major)&0x03
}

// ParseMHDR decodes a header byte
func ParseMHDR(b byte) MHDR {
	return MHDR{
		MType: MType(b >> 5),
		Major: Major(b & 0x03),
	}
}

// Direction of a data frame, as encoded in the B0 and Ai blocks
type Direction byte

const (
	Uplink   Direction = 0
	Downlink Direction = 1
)

func (d Direction) String() string {
	if d == Downlink {
		return "DOWN"
	}
	return "UP"
}

// DLSettings represents downlink settings
type DLSettings struct {
	RX1DROffset uint8
	RX2DataRate uint8
}

// Byte returns the encoded settings
func (s DLSettings) Byte() byte {
	return (s.RX1DROffset&0x07)<<4 | s.RX2DataRate&0x0F
}

// ParseDLSettings decodes a settings byte
func ParseDLSettings(b byte) DLSettings {
	return DLSettings{
		RX1DROffset: (b >> 4) & 0x07,
		RX2DataRate: b & 0x0F,
	}
}

func decodeHex(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidLength, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
