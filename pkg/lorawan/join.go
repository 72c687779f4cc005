package lorawan

import (
	"encoding/binary"
	"fmt"
)

const (
	// JoinRequestLength is MHDR + JoinEUI + DevEUI + DevNonce + MIC
	JoinRequestLength = 23

	joinAcceptBodyLength = 12
	cfListLength         = 16
)

// JoinRequestPayload represents join request
type JoinRequestPayload struct {
	JoinEUI  EUI64
	DevEUI   EUI64
	DevNonce uint16
}

// MarshalBinary returns the 18 byte wire body
func (p JoinRequestPayload) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, 18)
	b, _ := p.JoinEUI.MarshalBinary()
	data = append(data, b...)
	b, _ = p.DevEUI.MarshalBinary()
	data = append(data, b...)
	data = binary.LittleEndian.AppendUint16(data, p.DevNonce)
	return data, nil
}

// UnmarshalBinary decodes the 18 byte wire body
func (p *JoinRequestPayload) UnmarshalBinary(data []byte) error {
	if len(data) != 18 {
		return fmt.Errorf("join request: %w: expected 18, got %d", ErrInvalidLength, len(data))
	}
	if err := p.JoinEUI.UnmarshalBinary(data[0:8]); err != nil {
		return err
	}
	if err := p.DevEUI.UnmarshalBinary(data[8:16]); err != nil {
		return err
	}
	p.DevNonce = binary.LittleEndian.Uint16(data[16:18])
	return nil
}

// MarshalJoinRequest builds the complete 23 byte Join Request PHYPayload
func MarshalJoinRequest(appKey AES128Key, p JoinRequestPayload) []byte {
	body, _ := p.MarshalBinary()

	data := make([]byte, 0, JoinRequestLength)
	data = append(data, MHDR{MType: JoinRequest, Major: LoRaWANR1}.Byte())
	data = append(data, body...)

	mic := ComputeJoinMIC(appKey, data)
	return append(data, mic[:]...)
}

// ParseJoinRequest decodes a Join Request PHYPayload and verifies its MIC
func ParseJoinRequest(appKey AES128Key, data []byte) (JoinRequestPayload, error) {
	var p JoinRequestPayload
	if len(data) != JoinRequestLength {
		return p, fmt.Errorf("join request: %w: %d bytes", ErrInvalidLength, len(data))
	}
	if mt := ParseMHDR(data[0]).MType; mt != JoinRequest {
		return p, fmt.Errorf("%w: %s", ErrInvalidMType, mt)
	}

	var mic MIC
	copy(mic[:], data[19:])
	if !EqualMIC(ComputeJoinMIC(appKey, data[:19]), mic) {
		return p, ErrInvalidMIC
	}

	return p, p.UnmarshalBinary(data[1:19])
}

// JoinAcceptPayload represents join accept
type JoinAcceptPayload struct {
	// AppNonce is kept in wire byte order
	AppNonce   [3]byte
	NetID      NetID
	DevAddr    DevAddr
	DLSettings DLSettings
	RxDelay    uint8
	CFList     []byte
}

// RX1Delay returns the RX1 window delay in seconds. A zero RxDelay means one second.
func (p JoinAcceptPayload) RX1Delay() int {
	d := int(p.RxDelay & 0x0F)
	if d == 0 {
		d = 1
	}
	return d
}

// MarshalBinary returns the plaintext body (without MHDR and MIC)
func (p JoinAcceptPayload) MarshalBinary() ([]byte, error) {
	if len(p.CFList) != 0 && len(p.CFList) != cfListLength {
		return nil, fmt.Errorf("CFList: %w: %d", ErrInvalidLength, len(p.CFList))
	}

	data := make([]byte, 0, joinAcceptBodyLength+len(p.CFList))
	data = append(data, p.AppNonce[:]...)
	data = append(data, reversed(p.NetID[:])...)
	addr, _ := p.DevAddr.MarshalBinary()
	data = append(data, addr...)
	data = append(data, p.DLSettings.Byte(), p.RxDelay)
	data = append(data, p.CFList...)
	return data, nil
}

// UnmarshalBinary decodes the plaintext body
func (p *JoinAcceptPayload) UnmarshalBinary(data []byte) error {
	if len(data) != joinAcceptBodyLength && len(data) != joinAcceptBodyLength+cfListLength {
		return fmt.Errorf("join accept: %w: %d", ErrInvalidLength, len(data))
	}

	copy(p.AppNonce[:], data[0:3])
	copy(p.NetID[:], reversed(data[3:6]))
	if err := p.DevAddr.UnmarshalBinary(data[6:10]); err != nil {
		return err
	}
	p.DLSettings = ParseDLSettings(data[10])
	p.RxDelay = data[11]

	p.CFList = nil
	if len(data) > joinAcceptBodyLength {
		p.CFList = append([]byte(nil), data[joinAcceptBodyLength:]...)
	}
	return nil
}

// EncryptJoinAccept builds an encrypted Join Accept PHYPayload, as the network
// server does. The body and MIC are encrypted with the AES decrypt operation so
// that the device only needs the encrypt operation.
func EncryptJoinAccept(appKey AES128Key, p JoinAcceptPayload) ([]byte, error) {
	body, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}

	mhdr := MHDR{MType: JoinAccept, Major: LoRaWANR1}.Byte()
	plain := append([]byte{mhdr}, body...)
	mic := ComputeJoinMIC(appKey, plain)

	enc := append(body, mic[:]...)
	block := newCipher(appKey)
	for i := 0; i < len(enc); i += BlockSize {
		block.Decrypt(enc[i:i+BlockSize], enc[i:i+BlockSize])
	}

	return append([]byte{mhdr}, enc...), nil
}

// DecryptJoinAccept recovers MHDR | body | MIC from an encrypted Join Accept.
// It does not verify the MIC.
func DecryptJoinAccept(appKey AES128Key, data []byte) ([]byte, error) {
	if len(data) < 1+joinAcceptBodyLength+4 {
		return nil, fmt.Errorf("join accept: %w: %d bytes", ErrInvalidLength, len(data))
	}
	if (len(data)-1)%BlockSize != 0 {
		return nil, fmt.Errorf("join accept: %w: encrypted part of %d bytes is not block aligned", ErrInvalidLength, len(data)-1)
	}

	out := make([]byte, len(data))
	out[0] = data[0]

	block := newCipher(appKey)
	for i := 1; i < len(data); i += BlockSize {
		block.Encrypt(out[i:i+BlockSize], data[i:i+BlockSize])
	}

	return out, nil
}
