package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/crypto"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

const testAppKey = "2b7e151628aed2a6abf7158809cf4f3c"

func TestDerive(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"derive",
		"-app-key", testAppKey,
		"-app-nonce", "010203",
		"-net-id", "000013",
		"-dev-nonce", "0x0102",
	}, &out)
	require.NoError(t, err)

	appKey, _ := lorawan.ParseAES128Key(testAppKey)
	nwkSKey, appSKey := lorawan.DeriveSessionKeys10(appKey, [3]byte{1, 2, 3}, lorawan.NetID{0, 0, 0x13}, 258)
	assert.Equal(t, "NwkSKey: "+nwkSKey.String()+"\nAppSKey: "+appSKey.String()+"\n", out.String())
}

func TestDeriveErrors(t *testing.T) {
	tests := [][]string{
		{"derive", "-app-key", "zz", "-app-nonce", "010203", "-dev-nonce", "1"},
		{"derive", "-app-key", testAppKey, "-app-nonce", "0102", "-dev-nonce", "1"},
		{"derive", "-app-key", testAppKey, "-app-nonce", "010203", "-dev-nonce", "70000"},
		{"derive", "-app-key", testAppKey, "-app-nonce", "010203", "-net-id", "1", "-dev-nonce", "1"},
		{"bogus"},
		{},
	}
	for _, args := range tests {
		assert.Error(t, run(args, &bytes.Buffer{}), strings.Join(args, " "))
	}
}

func TestJoinAccept(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"join-accept",
		"-app-key", testAppKey,
		"-app-nonce", "aabbcc",
		"-net-id", "000001",
		"-dev-addr", "01020304",
		"-rx-delay", "2",
	}, &out)
	require.NoError(t, err)

	phy, err := hex.DecodeString(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, phy, 17)

	appKey, _ := lorawan.ParseAES128Key(testAppKey)
	plain, err := lorawan.DecryptJoinAccept(appKey, phy)
	require.NoError(t, err)

	var ja lorawan.JoinAcceptPayload
	require.NoError(t, ja.UnmarshalBinary(plain[1:len(plain)-4]))
	assert.Equal(t, lorawan.DevAddr{1, 2, 3, 4}, ja.DevAddr)
	assert.Equal(t, [3]byte{0xaa, 0xbb, 0xcc}, ja.AppNonce)
	assert.Equal(t, 2, ja.RX1Delay())
}

func TestHashPassword(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"hash-password", "-password", "secret"}, &out))

	hash := strings.TrimPrefix(strings.TrimSpace(out.String()), "hash: ")
	assert.True(t, crypto.VerifyPassword("secret", hash))

	out.Reset()
	require.NoError(t, run([]string{"hash-password"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	password := strings.TrimPrefix(lines[0], "password: ")
	assert.True(t, crypto.VerifyPassword(password, strings.TrimPrefix(lines[1], "hash: ")))
}
