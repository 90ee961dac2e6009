// Package crypt implements the fixed-key AES-256-CFB layers used by
// Rocksmith 2014 archives. Two independent layers exist: the TOC layer,
// applied to the table-of-contents region of an otherwise plain file,
// and the archive layer, applied to a whole archive blob. Both are
// length-preserving and keyed by format constants rather than user
// input, so every function here is a pure []byte transform.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
)

var (
	arcKey = mustHex("C53DB23870A1A2F71CAE64061FDD0E1157309DC85204D4C5BFDF25090DF2572C")
	arcIV  = mustHex("E915AA018FEF71FC508132E4BB4CEB42")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("crypt: bad key constant: " + err.Error())
	}
	return b
}

func newBlock() cipher.Block {
	block, err := aes.NewCipher(arcKey)
	if err != nil {
		panic("crypt: bad key length: " + err.Error())
	}
	return block
}

func encrypt(data []byte) []byte {
	out := make([]byte, len(data))
	cipher.NewCFBEncrypter(newBlock(), arcIV).XORKeyStream(out, data)
	return out
}

func decrypt(data []byte) []byte {
	out := make([]byte, len(data))
	cipher.NewCFBDecrypter(newBlock(), arcIV).XORKeyStream(out, data)
	return out
}

// DecryptTOC decrypts the table-of-contents blob that follows the
// 32-byte header when the header's flags mark the TOC as encrypted.
func DecryptTOC(data []byte) []byte {
	return decrypt(data)
}

// EncryptTOC is the inverse of DecryptTOC.
func EncryptTOC(data []byte) []byte {
	return encrypt(data)
}

// DecryptArchive decrypts a fully-encrypted archive blob. The decrypted
// output starts with the usual plain header.
func DecryptArchive(data []byte) []byte {
	return decrypt(data)
}

// EncryptArchive is the inverse of DecryptArchive.
func EncryptArchive(data []byte) []byte {
	return encrypt(data)
}
