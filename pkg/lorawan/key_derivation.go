package lorawan

import "encoding/binary"

// DeriveSessionKeys10 derives session keys according to LoRaWAN 1.0.x:
//
//	NwkSKey = aes128_encrypt(AppKey, 0x01 | AppNonce | NetID | DevNonce | pad16)
//	AppSKey = aes128_encrypt(AppKey, 0x02 | AppNonce | NetID | DevNonce | pad16)
//
// All fields are in wire (little-endian) order.
func DeriveSessionKeys10(appKey AES128Key, appNonce [3]byte, netID NetID, devNonce uint16) (nwkSKey, appSKey AES128Key) {
	return deriveSessionKey(0x01, appKey, appNonce, netID, devNonce),
		deriveSessionKey(0x02, appKey, appNonce, netID, devNonce)
}

func deriveSessionKey(typ byte, appKey AES128Key, appNonce [3]byte, netID NetID, devNonce uint16) AES128Key {
	var msg [BlockSize]byte
	msg[0] = typ
	copy(msg[1:4], appNonce[:])
	copy(msg[4:7], reversed(netID[:]))
	binary.LittleEndian.PutUint16(msg[7:9], devNonce)

	return AES128Key(EncryptBlock(appKey, msg))
}
