package lorawan

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidMType = errors.New("invalid message type")
	ErrInvalidMIC   = errors.New("invalid MIC")
)

// MaxFOptsLen is the largest FOpts field FCtrl can describe
const MaxFOptsLen = 15

// FCtrl represents the frame control byte
type FCtrl struct {
	ADR       bool
	ADRACKReq bool
	ACK       bool
	ClassB    bool
	FPending  bool
}

// Byte encodes the control bits together with the FOpts length
func (c FCtrl) Byte(dir Direction, fOptsLen int) byte {
	b := byte(0)
	if c.ADR {
		b |= 0x80
	}
	if dir == Uplink {
		if c.ADRACKReq {
			b |= 0x40
		}
		if c.ACK {
			b |= 0x20
		}
		if c.ClassB {
			b |= 0x10
		}
	} else {
		if c.ACK {
			b |= 0x20
		}
		if c.FPending {
			b |= 0x10
		}
	}
	return b | byte(fOptsLen)&0x0F
}

// ParseFCtrl decodes the control bits and returns the FOpts length
func ParseFCtrl(b byte, dir Direction) (FCtrl, int) {
	c := FCtrl{ADR: b&0x80 != 0}
	if dir == Uplink {
		c.ADRACKReq = b&0x40 != 0
		c.ACK = b&0x20 != 0
		c.ClassB = b&0x10 != 0
	} else {
		c.ACK = b&0x20 != 0
		c.FPending = b&0x10 != 0
	}
	return c, int(b & 0x0F)
}

// FHDR represents the frame header. Only the 16 least significant bits of
// the frame counter are transmitted.
type FHDR struct {
	DevAddr DevAddr
	FCtrl   FCtrl
	FCnt    uint16
	FOpts   []byte
}

// DataFrame is a data PHYPayload: MHDR | FHDR | [FPort | FRMPayload] | MIC
type DataFrame struct {
	MHDR       MHDR
	FHDR       FHDR
	FPort      *uint8
	FRMPayload []byte
	MIC        MIC
}

// Direction returns the link direction implied by the MType
func (f *DataFrame) Direction() Direction {
	if f.MHDR.MType.IsUplink() {
		return Uplink
	}
	return Downlink
}

// marshalMessage returns everything covered by the MIC
func (f *DataFrame) marshalMessage() ([]byte, error) {
	switch f.MHDR.MType {
	case UnconfirmedDataUp, UnconfirmedDataDown, ConfirmedDataUp, ConfirmedDataDown:
	default:
		return nil, fmt.Errorf("%w: %s is not a data frame", ErrInvalidMType, f.MHDR.MType)
	}
	if len(f.FHDR.FOpts) > MaxFOptsLen {
		return nil, fmt.Errorf("FOpts: %w: %d", ErrInvalidLength, len(f.FHDR.FOpts))
	}
	if f.FPort == nil && len(f.FRMPayload) > 0 {
		return nil, errors.New("FRMPayload requires FPort")
	}

	data := make([]byte, 0, 8+len(f.FHDR.FOpts)+1+len(f.FRMPayload))
	data = append(data, f.MHDR.Byte())
	addr, _ := f.FHDR.DevAddr.MarshalBinary()
	data = append(data, addr...)
	data = append(data, f.FHDR.FCtrl.Byte(f.Direction(), len(f.FHDR.FOpts)))
	data = binary.LittleEndian.AppendUint16(data, f.FHDR.FCnt)
	data = append(data, f.FHDR.FOpts...)

	if f.FPort != nil {
		data = append(data, *f.FPort)
		data = append(data, f.FRMPayload...)
	}

	return data, nil
}

// MarshalBinary returns the wire form of the frame
func (f *DataFrame) MarshalBinary() ([]byte, error) {
	data, err := f.marshalMessage()
	if err != nil {
		return nil, err
	}
	return append(data, f.MIC[:]...), nil
}

// UnmarshalBinary decodes a data frame from its wire form
func (f *DataFrame) UnmarshalBinary(data []byte) error {
	// MHDR + DevAddr + FCtrl + FCnt + MIC
	if len(data) < 12 {
		return fmt.Errorf("data frame: %w: %d bytes", ErrInvalidLength, len(data))
	}

	f.MHDR = ParseMHDR(data[0])
	switch f.MHDR.MType {
	case UnconfirmedDataUp, UnconfirmedDataDown, ConfirmedDataUp, ConfirmedDataDown:
	default:
		return fmt.Errorf("%w: %s is not a data frame", ErrInvalidMType, f.MHDR.MType)
	}

	mac := data[1 : len(data)-4]
	copy(f.MIC[:], data[len(data)-4:])

	if err := f.FHDR.DevAddr.UnmarshalBinary(mac[0:4]); err != nil {
		return err
	}
	var fOptsLen int
	f.FHDR.FCtrl, fOptsLen = ParseFCtrl(mac[4], f.Direction())
	f.FHDR.FCnt = binary.LittleEndian.Uint16(mac[5:7])

	pos := 7
	if pos+fOptsLen > len(mac) {
		return fmt.Errorf("FOpts: %w: %d", ErrInvalidLength, fOptsLen)
	}
	f.FHDR.FOpts = nil
	if fOptsLen > 0 {
		f.FHDR.FOpts = append([]byte(nil), mac[pos:pos+fOptsLen]...)
	}
	pos += fOptsLen

	f.FPort = nil
	f.FRMPayload = nil
	if pos < len(mac) {
		fPort := mac[pos]
		f.FPort = &fPort
		pos++
		if pos < len(mac) {
			f.FRMPayload = append([]byte(nil), mac[pos:]...)
		}
	}

	return nil
}

// SetMIC computes and stores the MIC. fCnt is the full 32-bit counter whose
// low 16 bits are carried in FHDR.FCnt.
func (f *DataFrame) SetMIC(nwkSKey AES128Key, fCnt uint32) error {
	msg, err := f.marshalMessage()
	if err != nil {
		return err
	}
	f.MIC = ComputeDataMIC(nwkSKey, f.Direction(), f.FHDR.DevAddr, fCnt, msg)
	return nil
}

// ValidateMIC reports whether the stored MIC matches the frame contents
func (f *DataFrame) ValidateMIC(nwkSKey AES128Key, fCnt uint32) (bool, error) {
	msg, err := f.marshalMessage()
	if err != nil {
		return false, err
	}
	expected := ComputeDataMIC(nwkSKey, f.Direction(), f.FHDR.DevAddr, fCnt, msg)
	return EqualMIC(expected, f.MIC), nil
}

// EncryptFRMPayload encrypts (or decrypts) the FRMPayload in place
func (f *DataFrame) EncryptFRMPayload(key AES128Key, fCnt uint32) {
	f.FRMPayload = EncryptFRMPayload(key, f.Direction(), f.FHDR.DevAddr, fCnt, f.FRMPayload)
}

// EncryptFRMPayload applies the LoRaWAN keystream to payload. The transform
// is its own inverse.
func EncryptFRMPayload(key AES128Key, dir Direction, devAddr DevAddr, fCnt uint32, payload []byte) []byte {
	if len(payload) == 0 {
		return payload
	}

	block := newCipher(key)
	out := make([]byte, len(payload))
	var s [BlockSize]byte

	for i := 0; i*BlockSize < len(payload); i++ {
		ai := dataBlock(0x01, dir, devAddr, fCnt, byte(i+1))
		block.Encrypt(s[:], ai[:])

		for j := 0; j < BlockSize && i*BlockSize+j < len(payload); j++ {
			out[i*BlockSize+j] = payload[i*BlockSize+j] ^ s[j]
		}
	}

	return out
}

// GetFullFCnt reconstructs the 32-bit counter from the 16 bits on the wire,
// given the next expected counter value.
func GetFullFCnt(expected uint32, fCnt uint16) uint32 {
	upperBits := expected & 0xFFFF0000

	if uint16(expected) > fCnt && (uint16(expected)-fCnt) > 0x8000 {
		upperBits += 0x10000
	}

	return upperBits | uint32(fCnt)
}
