package gateway

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

// Semtech UDP protocol constants
const ProtocolVersion = 2

// PacketType is the identifier byte of a packet-forwarder message
type PacketType byte

const (
	PushData PacketType = 0x00
	PushAck  PacketType = 0x01
	PullData PacketType = 0x02
	PullResp PacketType = 0x03
	PullAck  PacketType = 0x04
	TxAck    PacketType = 0x05
)

func (t PacketType) String() string {
	switch t {
	case PushData:
		return "PUSH_DATA"
	case PushAck:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullAck:
		return "PULL_ACK"
	case TxAck:
		return "TX_ACK"
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
}

const (
	headerLength = 4
	eui64Length  = 8
)

var (
	ErrPacketTooShort       = errors.New("packet too short")
	ErrUnexpectedPacketType = errors.New("unexpected packet type")
	ErrMissingTXPK          = errors.New("txpk missing")
)

// Header is the fixed 4-byte envelope. The token is written big-endian.
type Header struct {
	Version uint8
	Token   uint16
	Type    PacketType
}

func (h Header) append(b []byte) []byte {
	b = append(b, h.Version, 0, 0, byte(h.Type))
	binary.BigEndian.PutUint16(b[len(b)-3:len(b)-1], h.Token)
	return b
}

// ParseHeader decodes the envelope of any packet-forwarder message. The
// version byte is returned as received and not checked.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < headerLength {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(data))
	}
	h := Header{
		Version: data[0],
		Token:   binary.BigEndian.Uint16(data[1:3]),
		Type:    PacketType(data[3]),
	}
	return h, nil
}

func expectType(data []byte, t PacketType, minLen int) (Header, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return h, err
	}
	if h.Type != t {
		return h, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedPacketType, t, h.Type)
	}
	if len(data) < minLen {
		return h, fmt.Errorf("%s: %w: %d bytes", t, ErrPacketTooShort, len(data))
	}
	return h, nil
}

// DataRate is a LoRa data rate identifier ("SF7BW125") or an FSK bit rate
type DataRate struct {
	LoRa    string
	BitRate uint32
}

// MarshalJSON implements json.Marshaler
func (d DataRate) MarshalJSON() ([]byte, error) {
	if d.LoRa != "" {
		return json.Marshal(d.LoRa)
	}
	return []byte(strconv.FormatUint(uint64(d.BitRate), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DataRate) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &d.LoRa)
	}
	return json.Unmarshal(data, &d.BitRate)
}

// RXPK is one received radio packet. Data is base64 in JSON.
type RXPK struct {
	Time string   `json:"time,omitempty"`
	Tmst uint32   `json:"tmst"`
	Chan uint8    `json:"chan"`
	RFCh uint8    `json:"rfch"`
	Freq float64  `json:"freq"`
	Stat int8     `json:"stat"`
	Modu string   `json:"modu"`
	DatR DataRate `json:"datr"`
	CodR string   `json:"codr,omitempty"`
	RSSI int      `json:"rssi"`
	LSNR float64  `json:"lsnr"`
	Size uint16   `json:"size"`
	Data []byte   `json:"data"`
}

// TXPK is a transmission request from the network server
type TXPK struct {
	Imme bool     `json:"imme,omitempty"`
	Tmst *uint32  `json:"tmst,omitempty"`
	Tmms *int64   `json:"tmms,omitempty"`
	Freq float64  `json:"freq"`
	RFCh uint8    `json:"rfch"`
	Powe uint8    `json:"powe"`
	Modu string   `json:"modu"`
	DatR DataRate `json:"datr"`
	CodR string   `json:"codr,omitempty"`
	FDev uint16   `json:"fdev,omitempty"`
	IPol bool     `json:"ipol"`
	Prea uint16   `json:"prea,omitempty"`
	Size uint16   `json:"size"`
	NCRC bool     `json:"ncrc,omitempty"`
	Data []byte   `json:"data"`
}

// PushDataPayload is the JSON body of PUSH_DATA
type PushDataPayload struct {
	RXPK []RXPK `json:"rxpk,omitempty"`
}

// PushDataPacket carries received radio packets to the server
type PushDataPacket struct {
	Token      uint16
	GatewayEUI lorawan.EUI64
	Payload    PushDataPayload
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p PushDataPacket) MarshalBinary() ([]byte, error) {
	body, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal PUSH_DATA json: %w", err)
	}
	out := make([]byte, 0, headerLength+eui64Length+len(body))
	out = Header{Version: ProtocolVersion, Token: p.Token, Type: PushData}.append(out)
	out = append(out, p.GatewayEUI[:]...)
	return append(out, body...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *PushDataPacket) UnmarshalBinary(data []byte) error {
	h, err := expectType(data, PushData, headerLength+eui64Length)
	if err != nil {
		return err
	}
	p.Token = h.Token
	copy(p.GatewayEUI[:], data[4:12])
	p.Payload = PushDataPayload{}
	if err := json.Unmarshal(data[12:], &p.Payload); err != nil {
		return fmt.Errorf("unmarshal PUSH_DATA json: %w", err)
	}
	return nil
}

// PullDataPacket is the keepalive that opens the downlink path
type PullDataPacket struct {
	Token      uint16
	GatewayEUI lorawan.EUI64
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p PullDataPacket) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, headerLength+eui64Length)
	out = Header{Version: ProtocolVersion, Token: p.Token, Type: PullData}.append(out)
	return append(out, p.GatewayEUI[:]...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *PullDataPacket) UnmarshalBinary(data []byte) error {
	h, err := expectType(data, PullData, headerLength+eui64Length)
	if err != nil {
		return err
	}
	p.Token = h.Token
	copy(p.GatewayEUI[:], data[4:12])
	return nil
}

// PullRespPayload is the JSON body of PULL_RESP
type PullRespPayload struct {
	TXPK *TXPK `json:"txpk"`
}

// PullRespPacket asks the gateway to transmit a downlink. The JSON body
// starts right after the header; there is no gateway EUI.
type PullRespPacket struct {
	Token   uint16
	Payload PullRespPayload
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p PullRespPacket) MarshalBinary() ([]byte, error) {
	body, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal PULL_RESP json: %w", err)
	}
	out := make([]byte, 0, headerLength+len(body))
	out = Header{Version: ProtocolVersion, Token: p.Token, Type: PullResp}.append(out)
	return append(out, body...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *PullRespPacket) UnmarshalBinary(data []byte) error {
	h, err := expectType(data, PullResp, headerLength)
	if err != nil {
		return err
	}
	p.Token = h.Token
	p.Payload = PullRespPayload{}
	if err := json.Unmarshal(data[headerLength:], &p.Payload); err != nil {
		return fmt.Errorf("unmarshal PULL_RESP json: %w", err)
	}
	if p.Payload.TXPK == nil {
		return ErrMissingTXPK
	}
	return nil
}

// TxAckError values of txpk_ack.error
const (
	TxAckNone = "NONE"
)

// TxAckPayload is the JSON body of TX_ACK
type TxAckPayload struct {
	TXPKACK struct {
		Error string `json:"error"`
	} `json:"txpk_ack"`
}

// TxAckPacket acknowledges a PULL_RESP, echoing its token
type TxAckPacket struct {
	Token      uint16
	GatewayEUI lorawan.EUI64
	Payload    TxAckPayload
}

// NewTxAckPacket returns a successful acknowledgement for token
func NewTxAckPacket(token uint16, gatewayEUI lorawan.EUI64) TxAckPacket {
	p := TxAckPacket{Token: token, GatewayEUI: gatewayEUI}
	p.Payload.TXPKACK.Error = TxAckNone
	return p
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p TxAckPacket) MarshalBinary() ([]byte, error) {
	body, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal TX_ACK json: %w", err)
	}
	out := make([]byte, 0, headerLength+eui64Length+len(body))
	out = Header{Version: ProtocolVersion, Token: p.Token, Type: TxAck}.append(out)
	out = append(out, p.GatewayEUI[:]...)
	return append(out, body...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (p *TxAckPacket) UnmarshalBinary(data []byte) error {
	h, err := expectType(data, TxAck, headerLength+eui64Length)
	if err != nil {
		return err
	}
	p.Token = h.Token
	copy(p.GatewayEUI[:], data[4:12])
	p.Payload = TxAckPayload{}
	if len(data) > headerLength+eui64Length {
		if err := json.Unmarshal(data[12:], &p.Payload); err != nil {
			return fmt.Errorf("unmarshal TX_ACK json: %w", err)
		}
	}
	return nil
}

// AckPacket is a PUSH_ACK or PULL_ACK: a bare header
type AckPacket struct {
	Token uint16
	Type  PacketType
}

// MarshalBinary implements encoding.BinaryMarshaler
func (p AckPacket) MarshalBinary() ([]byte, error) {
	if p.Type != PushAck && p.Type != PullAck {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedPacketType, p.Type)
	}
	return Header{Version: ProtocolVersion, Token: p.Token, Type: p.Type}.append(nil), nil
}
