package lorawan

import (
	"crypto/aes"
	"crypto/cipher"
)

// BlockSize is the AES block size in bytes
const BlockSize = aes.BlockSize

// rb is the RFC 4493 constant for 128-bit block subkey generation
const rb = 0x87

func newCipher(key AES128Key) cipher.Block {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		// aes.NewCipher only fails on key sizes other than 16, 24 or 32
		panic(err)
	}
	return block
}

// EncryptBlock encrypts a single 16-byte block with AES-128 (ECB, no padding)
func EncryptBlock(key AES128Key, in [BlockSize]byte) [BlockSize]byte {
	var out [BlockSize]byte
	newCipher(key).Encrypt(out[:], in[:])
	return out
}

// DecryptBlock is the inverse of EncryptBlock
func DecryptBlock(key AES128Key, in [BlockSize]byte) [BlockSize]byte {
	var out [BlockSize]byte
	newCipher(key).Decrypt(out[:], in[:])
	return out
}

// CMAC computes the AES-CMAC tag of data according to RFC 4493
func CMAC(key AES128Key, data []byte) [BlockSize]byte {
	block := newCipher(key)
	k1, k2 := generateSubkeys(block)

	// an empty message counts as one incomplete block
	n := (len(data) + BlockSize - 1) / BlockSize
	complete := len(data) > 0 && len(data)%BlockSize == 0
	if n == 0 {
		n = 1
	}

	var last [BlockSize]byte
	tail := data[(n-1)*BlockSize:]
	copy(last[:], tail)
	if complete {
		xorBlock(last[:], k1[:])
	} else {
		last[len(tail)] = 0x80
		xorBlock(last[:], k2[:])
	}

	var x, y [BlockSize]byte
	for i := 0; i < n-1; i++ {
		for j := 0; j < BlockSize; j++ {
			y[j] = x[j] ^ data[i*BlockSize+j]
		}
		block.Encrypt(x[:], y[:])
	}
	for j := 0; j < BlockSize; j++ {
		y[j] = x[j] ^ last[j]
	}
	block.Encrypt(x[:], y[:])

	return x
}

// generateSubkeys generates K1 and K2 for AES-CMAC
func generateSubkeys(block cipher.Block) (k1, k2 [BlockSize]byte) {
	var l [BlockSize]byte
	block.Encrypt(l[:], l[:])

	k1 = leftShift(l)
	if l[0]&0x80 != 0 {
		k1[BlockSize-1] ^= rb
	}

	k2 = leftShift(k1)
	if k1[0]&0x80 != 0 {
		k2[BlockSize-1] ^= rb
	}

	return k1, k2
}

// leftShift shifts the 128-bit value left by one bit
func leftShift(b [BlockSize]byte) [BlockSize]byte {
	var result [BlockSize]byte
	overflow := byte(0)

	for i := BlockSize - 1; i >= 0; i-- {
		result[i] = b[i]<<1 | overflow
		overflow = (b[i] & 0x80) >> 7
	}

	return result
}

func xorBlock(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
