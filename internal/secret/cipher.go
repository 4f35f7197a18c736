// Package secret provides symmetric encryption for small stored secrets
// (private keys, webhook secrets).
package secret

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Cipher encrypts and decrypts strings with AES-256-CBC. Ciphertext is
// base64(iv || encrypted) with a fresh random IV per call.
type Cipher struct {
	key []byte // 32 bytes.
}

// New creates a Cipher. key must be 32 bytes for AES-256.
func New(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cipher key must be 32 bytes, got %d", len(key))
	}
	return &Cipher{key: key}, nil
}

// Encrypt encrypts plaintext and returns base64(iv || ciphertext). An empty
// plaintext encrypts to the empty string so absent secrets stay absent at
// rest.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("rand iv: %w", err)
	}

	padded := pad([]byte(plaintext))
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any failure (bad base64, short input, bad
// padding, wrong key) returns the empty string rather than an error: the
// caller decides whether an unreadable secret means the record needs repair.
func (c *Cipher) Decrypt(encoded string) string {
	if encoded == "" {
		return ""
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	if len(data) < 2*aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return ""
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return ""
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	unpadded, err := unpad(plain)
	if err != nil {
		return ""
	}
	return string(unpadded)
}

// pad applies PKCS#7 padding to a whole number of AES blocks.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding, rejecting malformed pad bytes.
func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("bad padding length")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("bad padding byte")
		}
	}
	return b[:len(b)-n], nil
}
