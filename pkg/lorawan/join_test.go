package lorawan

import (
	"testing"

	brocaar "github.com/brocaar/lorawan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAppKey  = AES128Key{0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6, 0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c}
	testJoinEUI = EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	testDevEUI  = EUI64{8, 7, 6, 5, 4, 3, 2, 1}
)

func TestJoinRequestAcceptedByLoRaWANStack(t *testing.T) {
	assert := require.New(t)

	b := MarshalJoinRequest(testAppKey, JoinRequestPayload{
		JoinEUI:  testJoinEUI,
		DevEUI:   testDevEUI,
		DevNonce: 258,
	})
	assert.Len(b, JoinRequestLength)
	assert.Equal(byte(0x00), b[0])

	var phy brocaar.PHYPayload
	assert.NoError(phy.UnmarshalBinary(b))
	ok, err := phy.ValidateUplinkJoinMIC(brocaar.AES128Key(testAppKey))
	assert.NoError(err)
	assert.True(ok)

	jr, ok := phy.MACPayload.(*brocaar.JoinRequestPayload)
	assert.True(ok)
	assert.Equal(brocaar.EUI64(testJoinEUI), jr.JoinEUI)
	assert.Equal(brocaar.EUI64(testDevEUI), jr.DevEUI)
	assert.EqualValues(258, jr.DevNonce)

	// and back through our own parser
	p, err := ParseJoinRequest(testAppKey, b)
	assert.NoError(err)
	assert.Equal(testJoinEUI, p.JoinEUI)
	assert.Equal(testDevEUI, p.DevEUI)
	assert.EqualValues(258, p.DevNonce)

	b[len(b)-1] ^= 0x01
	_, err = ParseJoinRequest(testAppKey, b)
	assert.ErrorIs(err, ErrInvalidMIC)
}

func TestJoinRequestZeroKeyVector(t *testing.T) {
	assert := require.New(t)

	eui, err := ParseEUI64("0000000000000001")
	assert.NoError(err)
	appKey, err := ParseAES128Key("00000000000000000000000000000000")
	assert.NoError(err)

	b := MarshalJoinRequest(appKey, JoinRequestPayload{JoinEUI: eui, DevEUI: eui, DevNonce: 36383})
	assert.Len(b, 23)
	assert.Equal(byte(0x00), b[0])

	// EUIs and DevNonce are little-endian on the wire
	assert.Equal([]byte{1, 0, 0, 0, 0, 0, 0, 0}, b[1:9])
	assert.Equal([]byte{1, 0, 0, 0, 0, 0, 0, 0}, b[9:17])
	assert.Equal([]byte{0x1f, 0x8e}, b[17:19])

	tag := CMAC(appKey, b[:19])
	assert.Equal(tag[:4], b[19:])
}

func TestDecryptJoinAcceptFromLoRaWANStack(t *testing.T) {
	assert := require.New(t)

	phy := brocaar.PHYPayload{
		MHDR: brocaar.MHDR{MType: brocaar.JoinAccept, Major: brocaar.LoRaWANR1},
		MACPayload: &brocaar.JoinAcceptPayload{
			JoinNonce:  197121,
			HomeNetID:  brocaar.NetID{0x00, 0x00, 0x13},
			DLSettings: brocaar.DLSettings{RX2DataRate: 2, RX1DROffset: 1},
			DevAddr:    brocaar.DevAddr{0x26, 0x01, 0x1b, 0xda},
			RXDelay:    3,
		},
	}
	assert.NoError(phy.SetDownlinkJoinMIC(brocaar.JoinRequestType, brocaar.EUI64(testJoinEUI), brocaar.DevNonce(258), brocaar.AES128Key(testAppKey)))
	assert.NoError(phy.EncryptJoinAcceptPayload(brocaar.AES128Key(testAppKey)))
	b, err := phy.MarshalBinary()
	assert.NoError(err)
	assert.Len(b, 17)

	plain, err := DecryptJoinAccept(testAppKey, b)
	assert.NoError(err)

	var mic MIC
	copy(mic[:], plain[len(plain)-4:])
	assert.True(EqualMIC(ComputeJoinMIC(testAppKey, plain[:len(plain)-4]), mic))

	var p JoinAcceptPayload
	assert.NoError(p.UnmarshalBinary(plain[1 : len(plain)-4]))
	assert.Equal([3]byte{0x01, 0x02, 0x03}, p.AppNonce)
	assert.Equal(NetID{0x00, 0x00, 0x13}, p.NetID)
	assert.Equal(DevAddr{0x26, 0x01, 0x1b, 0xda}, p.DevAddr)
	assert.Equal(DLSettings{RX1DROffset: 1, RX2DataRate: 2}, p.DLSettings)
	assert.Equal(3, p.RX1Delay())
	assert.Nil(p.CFList)
}

func TestJoinAcceptWithCFListRoundTrip(t *testing.T) {
	assert := require.New(t)

	in := JoinAcceptPayload{
		AppNonce: [3]byte{0xaa, 0xbb, 0xcc},
		NetID:    NetID{0x01, 0x02, 0x03},
		DevAddr:  DevAddr{0x01, 0x02, 0x03, 0x04},
		RxDelay:  0,
		CFList:   []byte{0x18, 0x4f, 0x84, 0xe8, 0x56, 0x84, 0xb8, 0x5e, 0x84, 0x88, 0x66, 0x84, 0x58, 0x6e, 0x84, 0x00},
	}
	b, err := EncryptJoinAccept(testAppKey, in)
	assert.NoError(err)
	assert.Len(b, 33)

	plain, err := DecryptJoinAccept(testAppKey, b)
	assert.NoError(err)

	var mic MIC
	copy(mic[:], plain[29:])
	assert.True(EqualMIC(ComputeJoinMIC(testAppKey, plain[:29]), mic))

	var out JoinAcceptPayload
	assert.NoError(out.UnmarshalBinary(plain[1:29]))
	assert.Equal(in, out)
	assert.Equal(1, out.RX1Delay())
}

func TestEncryptJoinAcceptAcceptedByLoRaWANStack(t *testing.T) {
	assert := require.New(t)

	b, err := EncryptJoinAccept(testAppKey, JoinAcceptPayload{
		AppNonce:   [3]byte{0x01, 0x02, 0x03},
		NetID:      NetID{0x00, 0x00, 0x13},
		DevAddr:    DevAddr{0x26, 0x01, 0x1b, 0xda},
		DLSettings: DLSettings{RX2DataRate: 2},
		RxDelay:    1,
	})
	assert.NoError(err)
	assert.Len(b, 17)

	var phy brocaar.PHYPayload
	assert.NoError(phy.UnmarshalBinary(b))
	assert.NoError(phy.DecryptJoinAcceptPayload(brocaar.AES128Key(testAppKey)))

	ok, err := phy.ValidateDownlinkJoinMIC(brocaar.JoinRequestType, brocaar.EUI64(testJoinEUI), brocaar.DevNonce(258), brocaar.AES128Key(testAppKey))
	assert.NoError(err)
	assert.True(ok)

	ja, ok := phy.MACPayload.(*brocaar.JoinAcceptPayload)
	assert.True(ok)
	assert.EqualValues(197121, ja.JoinNonce)
	assert.Equal(brocaar.NetID{0x00, 0x00, 0x13}, ja.HomeNetID)
	assert.Equal(brocaar.DevAddr{0x26, 0x01, 0x1b, 0xda}, ja.DevAddr)
}

func TestDecryptJoinAcceptLength(t *testing.T) {
	_, err := DecryptJoinAccept(testAppKey, make([]byte, 11))
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = DecryptJoinAccept(testAppKey, make([]byte, 20))
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDeriveSessionKeys10(t *testing.T) {
	assert := require.New(t)

	appNonce := [3]byte{0x01, 0x02, 0x03}
	netID := NetID{0x00, 0x00, 0x13}
	nwkSKey, appSKey := DeriveSessionKeys10(testAppKey, appNonce, netID, 258)
	assert.NotEqual(nwkSKey, appSKey)

	// decrypting a session key under the AppKey recovers the derivation block
	expected := [BlockSize]byte{0x01, 0x01, 0x02, 0x03, 0x13, 0x00, 0x00, 0x02, 0x01}
	assert.Equal(expected, DecryptBlock(testAppKey, [BlockSize]byte(nwkSKey)))

	expected[0] = 0x02
	assert.Equal(expected, DecryptBlock(testAppKey, [BlockSize]byte(appSKey)))

	again, _ := DeriveSessionKeys10(testAppKey, appNonce, netID, 259)
	assert.NotEqual(nwkSKey, again)
}
