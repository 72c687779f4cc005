package device

import (
	"testing"

	brocaar "github.com/brocaar/lorawan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

type ActivationTestSuite struct {
	suite.Suite

	identity Identity
	device   *Device
	accept   lorawan.JoinAcceptPayload
}

func (ts *ActivationTestSuite) SetupTest() {
	ts.identity = Identity{
		DevEUI: lorawan.EUI64{0, 0, 0, 0, 0, 0, 0, 1},
		AppEUI: lorawan.EUI64{0, 0, 0, 0, 0, 0, 0, 2},
		AppKey: lorawan.AES128Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}
	ts.device = New(ts.identity)
	ts.accept = lorawan.JoinAcceptPayload{
		AppNonce:   [3]byte{0x0a, 0x0b, 0x0c},
		NetID:      lorawan.NetID{0x00, 0x00, 0x13},
		DevAddr:    lorawan.DevAddr{0x26, 0x01, 0x1b, 0xda},
		DLSettings: lorawan.DLSettings{RX2DataRate: 0},
		RxDelay:    1,
	}
}

func (ts *ActivationTestSuite) join() {
	ts.device.BuildJoinRequest(4660)
	b, err := lorawan.EncryptJoinAccept(ts.identity.AppKey, ts.accept)
	ts.Require().NoError(err)
	_, err = ts.device.ProcessJoinAccept(b)
	ts.Require().NoError(err)
}

func (ts *ActivationTestSuite) downlink(mtype brocaar.MType, devAddr lorawan.DevAddr, fCnt uint32, fPort uint8, data []byte) []byte {
	s := ts.device.Session()
	phy := brocaar.PHYPayload{
		MHDR: brocaar.MHDR{MType: mtype, Major: brocaar.LoRaWANR1},
		MACPayload: &brocaar.MACPayload{
			FHDR: brocaar.FHDR{
				DevAddr: brocaar.DevAddr(devAddr),
				FCnt:    fCnt,
			},
			FPort:      &fPort,
			FRMPayload: []brocaar.Payload{&brocaar.DataPayload{Bytes: data}},
		},
	}
	ts.Require().NoError(phy.EncryptFRMPayload(brocaar.AES128Key(s.AppSKey)))
	ts.Require().NoError(phy.SetDownlinkDataMIC(brocaar.LoRaWAN1_0, 0, brocaar.AES128Key(s.NwkSKey)))
	b, err := phy.MarshalBinary()
	ts.Require().NoError(err)
	return b
}

func (ts *ActivationTestSuite) TestJoinRequest() {
	b := ts.device.BuildJoinRequest(4660)
	ts.Len(b, lorawan.JoinRequestLength)
	ts.Equal(byte(0x00), b[0])
	ts.EqualValues(4660, ts.device.Session().DevNonce)

	jr, err := lorawan.ParseJoinRequest(ts.identity.AppKey, b)
	ts.NoError(err)
	ts.Equal(ts.identity.DevEUI, jr.DevEUI)
	ts.Equal(ts.identity.AppEUI, jr.JoinEUI)
	ts.False(ts.device.Session().Activated)
}

func (ts *ActivationTestSuite) TestProcessJoinAccept() {
	ts.device.BuildJoinRequest(4660)
	b, err := lorawan.EncryptJoinAccept(ts.identity.AppKey, ts.accept)
	ts.Require().NoError(err)

	ja, err := ts.device.ProcessJoinAccept(b)
	ts.Require().NoError(err)
	ts.Equal(ts.accept.DevAddr, ja.DevAddr)

	nwkSKey, appSKey := lorawan.DeriveSessionKeys10(ts.identity.AppKey, ts.accept.AppNonce, ts.accept.NetID, 4660)
	s := ts.device.Session()
	ts.True(s.Activated)
	ts.Equal(ts.accept.DevAddr, s.DevAddr)
	ts.Equal(nwkSKey, s.NwkSKey)
	ts.Equal(appSKey, s.AppSKey)
	ts.Equal(1, s.RX1Delay)
	ts.Equal(2, s.RX2Delay)
	ts.Zero(s.FCntUp)
	ts.Zero(s.FCntDown)
}

func (ts *ActivationTestSuite) TestProcessJoinAcceptFailures() {
	ts.device.BuildJoinRequest(1)
	valid, err := lorawan.EncryptJoinAccept(ts.identity.AppKey, ts.accept)
	ts.Require().NoError(err)

	ts.Run("too short", func() {
		_, err := ts.device.ProcessJoinAccept(valid[:11])
		ts.ErrorIs(err, ErrMalformedFrame)
	})

	ts.Run("not block aligned", func() {
		_, err := ts.device.ProcessJoinAccept(valid[:15])
		ts.ErrorIs(err, ErrMalformedFrame)
	})

	ts.Run("wrong message type", func() {
		b := append([]byte(nil), valid...)
		b[0] = 0x60
		_, err := ts.device.ProcessJoinAccept(b)
		ts.ErrorIs(err, ErrInvalidMType)
	})

	ts.Run("wrong key", func() {
		b, err := lorawan.EncryptJoinAccept(lorawan.AES128Key{}, ts.accept)
		ts.Require().NoError(err)
		_, err = ts.device.ProcessJoinAccept(b)
		ts.ErrorIs(err, ErrMICMismatch)
	})

	ts.Run("tampered", func() {
		b := append([]byte(nil), valid...)
		b[5] ^= 0x01
		_, err := ts.device.ProcessJoinAccept(b)
		ts.ErrorIs(err, ErrMICMismatch)
	})

	ts.False(ts.device.Session().Activated)
}

func (ts *ActivationTestSuite) TestUplinkRefusedWhenNotActivated() {
	up, err := ts.device.BuildDataUplink(1, []byte("hello"))
	ts.ErrorIs(err, ErrNotActivated)
	ts.Nil(up)
	ts.Zero(ts.device.Session().FCntUp)

	_, err = ts.device.ProcessDataDownlink(make([]byte, 20))
	ts.ErrorIs(err, ErrNotActivated)
}

func (ts *ActivationTestSuite) TestUplinkIncrementsFCnt() {
	ts.join()

	for i := 0; i < 5; i++ {
		up, err := ts.device.BuildDataUplink(1, []byte("hello"))
		ts.Require().NoError(err)
		ts.EqualValues(i, up.FCnt)
		ts.EqualValues(i+1, ts.device.Session().FCntUp)
	}

	_, err := ts.device.BuildDataUplink(0, []byte("mac"))
	ts.ErrorIs(err, ErrUnsupportedFrame)
	_, err = ts.device.BuildDataUplink(224, []byte("reserved"))
	ts.ErrorIs(err, ErrUnsupportedFrame)
	ts.EqualValues(5, ts.device.Session().FCntUp)
}

func (ts *ActivationTestSuite) TestUplinkAcceptedByNetworkServer() {
	ts.join()
	s := ts.device.Session()

	up, err := ts.device.BuildDataUplink(5, []byte("temperature=21.5"))
	ts.Require().NoError(err)
	ts.Equal(byte(0x40), up.PHYPayload[0])
	ts.Equal(byte(0x00), up.PHYPayload[5])

	var phy brocaar.PHYPayload
	ts.Require().NoError(phy.UnmarshalBinary(up.PHYPayload))
	ok, err := phy.ValidateUplinkDataMIC(brocaar.LoRaWAN1_0, 0, 0, 0, brocaar.AES128Key(s.NwkSKey), brocaar.AES128Key(s.NwkSKey))
	ts.NoError(err)
	ts.True(ok)

	ts.Require().NoError(phy.DecryptFRMPayload(brocaar.AES128Key(s.AppSKey)))
	macPL := phy.MACPayload.(*brocaar.MACPayload)
	ts.Equal([]byte("temperature=21.5"), macPL.FRMPayload[0].(*brocaar.DataPayload).Bytes)
}

func (ts *ActivationTestSuite) TestProcessDataDownlink() {
	ts.join()
	s := ts.device.Session()

	b := ts.downlink(brocaar.UnconfirmedDataDown, s.DevAddr, 7, 3, []byte{1, 2, 3})
	dl, err := ts.device.ProcessDataDownlink(b)
	ts.Require().NoError(err)
	ts.EqualValues(7, dl.FCnt)
	ts.EqualValues(3, *dl.FPort)
	ts.Equal([]byte{1, 2, 3}, dl.Data)
	ts.False(dl.FCntBehind)
	ts.EqualValues(8, ts.device.Session().FCntDown)

	// an older counter is still accepted
	b = ts.downlink(brocaar.UnconfirmedDataDown, s.DevAddr, 2, 3, []byte{4})
	dl, err = ts.device.ProcessDataDownlink(b)
	ts.Require().NoError(err)
	ts.True(dl.FCntBehind)
	ts.EqualValues(3, ts.device.Session().FCntDown)
}

func (ts *ActivationTestSuite) TestProcessDataDownlinkFailures() {
	ts.join()
	s := ts.device.Session()

	ts.Run("other device", func() {
		b := ts.downlink(brocaar.UnconfirmedDataDown, lorawan.DevAddr{1, 2, 3, 4}, 1, 1, []byte{1})
		_, err := ts.device.ProcessDataDownlink(b)
		ts.ErrorIs(err, ErrDevAddrMismatch)
	})

	ts.Run("uplink type", func() {
		b := ts.downlink(brocaar.UnconfirmedDataDown, s.DevAddr, 1, 1, []byte{1})
		b[0] = 0x40
		_, err := ts.device.ProcessDataDownlink(b)
		ts.ErrorIs(err, ErrInvalidMType)
	})

	ts.Run("join accept", func() {
		b, err := lorawan.EncryptJoinAccept(ts.identity.AppKey, ts.accept)
		ts.Require().NoError(err)
		_, err = ts.device.ProcessDataDownlink(b)
		ts.ErrorIs(err, ErrInvalidMType)
	})

	ts.Run("confirmed", func() {
		b := ts.downlink(brocaar.ConfirmedDataDown, s.DevAddr, 1, 1, []byte{1})
		_, err := ts.device.ProcessDataDownlink(b)
		ts.ErrorIs(err, ErrUnsupportedFrame)
	})

	ts.Run("too short", func() {
		_, err := ts.device.ProcessDataDownlink([]byte{0x60, 1, 2})
		ts.ErrorIs(err, ErrMalformedFrame)
	})

	ts.Run("every bit flip is rejected", func() {
		b := ts.downlink(brocaar.UnconfirmedDataDown, s.DevAddr, 1, 1, []byte("payload"))
		for i := range b {
			for bit := 0; bit < 8; bit++ {
				flipped := append([]byte(nil), b...)
				flipped[i] ^= 1 << bit
				_, err := ts.device.ProcessDataDownlink(flipped)
				ts.Error(err, "byte %d bit %d", i, bit)
			}
		}
	})

	ts.Zero(ts.device.Session().FCntDown)
}

func (ts *ActivationTestSuite) TestRejoinResetsCounters() {
	ts.join()
	_, err := ts.device.BuildDataUplink(1, []byte("x"))
	ts.Require().NoError(err)
	ts.EqualValues(1, ts.device.Session().FCntUp)

	ts.accept.DevAddr = lorawan.DevAddr{0x26, 0x00, 0x00, 0x01}
	ts.join()
	s := ts.device.Session()
	ts.Zero(s.FCntUp)
	ts.Equal(lorawan.DevAddr{0x26, 0x00, 0x00, 0x01}, s.DevAddr)
}

func TestActivation(t *testing.T) {
	suite.Run(t, new(ActivationTestSuite))
}

func TestJoinRequestZeroKey(t *testing.T) {
	eui, err := lorawan.ParseEUI64("0000000000000001")
	require.NoError(t, err)

	d := New(Identity{DevEUI: eui, AppEUI: eui})
	b := d.BuildJoinRequest(36383)
	require.Len(t, b, 23)
	assert.Equal(t, byte(0x00), b[0])

	mic := lorawan.ComputeJoinMIC(lorawan.AES128Key{}, b[:19])
	assert.Equal(t, mic[:], b[19:])
}
