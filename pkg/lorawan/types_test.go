package lorawan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEUI64(t *testing.T) {
	assert := require.New(t)

	e, err := ParseEUI64("0102030405060708")
	assert.NoError(err)
	assert.Equal(EUI64{1, 2, 3, 4, 5, 6, 7, 8}, e)
	assert.Equal("0102030405060708", e.String())

	b, err := e.MarshalBinary()
	assert.NoError(err)
	assert.Equal([]byte{8, 7, 6, 5, 4, 3, 2, 1}, b)

	var e2 EUI64
	assert.NoError(e2.UnmarshalBinary(b))
	assert.Equal(e, e2)

	_, err = ParseEUI64("01020304")
	assert.ErrorIs(err, ErrInvalidLength)
	_, err = ParseEUI64("zz02030405060708")
	assert.ErrorIs(err, ErrInvalidHex)
}

func TestAES128KeyText(t *testing.T) {
	var k AES128Key
	require.NoError(t, k.UnmarshalText([]byte("2b7e151628aed2a6abf7158809cf4f3c")))
	assert.Equal(t, "2b7e151628aed2a6abf7158809cf4f3c", k.String())
	assert.Error(t, k.UnmarshalText([]byte("2b7e")))
}

func TestMHDR(t *testing.T) {
	assert.Equal(t, byte(0x00), MHDR{MType: JoinRequest}.Byte())
	assert.Equal(t, byte(0x20), MHDR{MType: JoinAccept}.Byte())
	assert.Equal(t, byte(0x40), MHDR{MType: UnconfirmedDataUp}.Byte())
	assert.Equal(t, byte(0x60), MHDR{MType: UnconfirmedDataDown}.Byte())
	assert.Equal(t, MHDR{MType: ConfirmedDataDown}, ParseMHDR(0xa0))
	assert.True(t, ConfirmedDataUp.IsUplink())
	assert.False(t, UnconfirmedDataDown.IsUplink())
}

func TestParseDownlinkMACCommands(t *testing.T) {
	cmds, err := ParseDownlinkMACCommands([]byte{0x02, 0x0a, 0x03, 0x06})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, LinkCheck, cmds[0].CID)
	assert.Equal(t, []byte{0x0a, 0x03}, cmds[0].Payload)
	assert.Equal(t, DevStatus, cmds[1].CID)

	_, err = ParseDownlinkMACCommands([]byte{0x03, 0x01})
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = ParseDownlinkMACCommands([]byte{0x7f})
	assert.Error(t, err)
}
