package lorawan

import "fmt"

// CID is a MAC command identifier
type CID byte

const (
	LinkCheck     CID = 0x02
	LinkADR       CID = 0x03
	DutyCycle     CID = 0x04
	RXParamSetup  CID = 0x05
	DevStatus     CID = 0x06
	NewChannel    CID = 0x07
	RXTimingSetup CID = 0x08
	TxParamSetup  CID = 0x09
	DlChannel     CID = 0x0A
	DeviceTime    CID = 0x0D
)

var cidNames = map[CID]string{
	LinkCheck:     "LinkCheck",
	LinkADR:       "LinkADR",
	DutyCycle:     "DutyCycle",
	RXParamSetup:  "RXParamSetup",
	DevStatus:     "DevStatus",
	NewChannel:    "NewChannel",
	RXTimingSetup: "RXTimingSetup",
	TxParamSetup:  "TxParamSetup",
	DlChannel:     "DlChannel",
	DeviceTime:    "DeviceTime",
}

func (c CID) String() string {
	if n, ok := cidNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CID(0x%02x)", byte(c))
}

// MACCommand is one command found in FOpts or in an FPort 0 FRMPayload.
// The simulated device does not act on them.
type MACCommand struct {
	CID     CID
	Payload []byte
}

// downlinkPayloadLen holds the payload sizes of network-to-device commands
var downlinkPayloadLen = map[CID]int{
	LinkCheck:     2,
	LinkADR:       4,
	DutyCycle:     1,
	RXParamSetup:  4,
	DevStatus:     0,
	NewChannel:    5,
	RXTimingSetup: 1,
	TxParamSetup:  1,
	DlChannel:     4,
	DeviceTime:    5,
}

// ParseDownlinkMACCommands splits a downlink command sequence
func ParseDownlinkMACCommands(data []byte) ([]MACCommand, error) {
	var commands []MACCommand

	for i := 0; i < len(data); {
		cid := CID(data[i])
		i++

		n, ok := downlinkPayloadLen[cid]
		if !ok {
			return commands, fmt.Errorf("unknown MAC command: %s", cid)
		}
		if i+n > len(data) {
			return commands, fmt.Errorf("MAC command %s: %w", cid, ErrInvalidLength)
		}

		commands = append(commands, MACCommand{CID: cid, Payload: data[i : i+n]})
		i += n
	}

	return commands, nil
}
