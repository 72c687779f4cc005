package lorawan

import (
	"crypto/subtle"
	"encoding/binary"
)

// dataBlock builds the B0 (flag 0x49) and Ai (flag 0x01) blocks shared by
// the data MIC and the FRMPayload keystream.
func dataBlock(flag byte, dir Direction, devAddr DevAddr, fCnt uint32, last byte) [BlockSize]byte {
	var b [BlockSize]byte
	b[0] = flag
	b[5] = byte(dir)
	addr, _ := devAddr.MarshalBinary()
	copy(b[6:10], addr)
	binary.LittleEndian.PutUint32(b[10:14], fCnt)
	b[15] = last
	return b
}

// ComputeDataMIC calculates the MIC of a data frame.
// msg is MHDR | FHDR | FPort | FRMPayload exactly as sent on the wire and
// fCnt is the full 32-bit frame counter.
func ComputeDataMIC(nwkSKey AES128Key, dir Direction, devAddr DevAddr, fCnt uint32, msg []byte) MIC {
	b0 := dataBlock(0x49, dir, devAddr, fCnt, byte(len(msg)))

	data := make([]byte, 0, BlockSize+len(msg))
	data = append(data, b0[:]...)
	data = append(data, msg...)

	return truncateMIC(CMAC(nwkSKey, data))
}

// ComputeJoinMIC calculates cmac(appKey, msg)[0:4], used for both the
// Join Request (MHDR | JoinEUI | DevEUI | DevNonce) and the decrypted
// Join Accept (MHDR | AppNonce | NetID | DevAddr | DLSettings | RxDelay | CFList).
func ComputeJoinMIC(appKey AES128Key, msg []byte) MIC {
	return truncateMIC(CMAC(appKey, msg))
}

// EqualMIC compares two MICs in constant time
func EqualMIC(a, b MIC) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func truncateMIC(tag [BlockSize]byte) MIC {
	var mic MIC
	copy(mic[:], tag[:4])
	return mic
}

// ValidateDataMIC verifies the trailing MIC of a data frame exactly as it
// was received, so bits the decoder ignores are still authenticated.
func ValidateDataMIC(nwkSKey AES128Key, dir Direction, devAddr DevAddr, fCnt uint32, phy []byte) bool {
	if len(phy) < 12 {
		return false
	}
	var mic MIC
	copy(mic[:], phy[len(phy)-4:])
	return EqualMIC(ComputeDataMIC(nwkSKey, dir, devAddr, fCnt, phy[:len(phy)-4]), mic)
}
