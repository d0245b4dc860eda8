package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

var ErrShortCiphertext = errors.New("ciphertext size is less than nonce size")

// Key is an AES key, 16, 24 or 32 bytes long.
type Key []byte

// ParseKey decodes a standard base64 encoded AES key.
func ParseKey(keyBase64 string) (Key, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, errors.Wrap(err, "decoding key")
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, errors.Errorf("invalid key size %d", len(key))
}

func (k Key) gcm() (cipher.AEAD, error) {
	c, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(c)
}

// Encrypt seals data with AES-GCM, the random nonce is prepended to the ciphertext.
func Encrypt(data []byte, key Key) (ciphertext []byte, err error) {
	gcm, err := key.gcm()
	if err != nil {
		return
	}
	nonce := make([]byte, gcm.NonceSize())
	_, err = io.ReadFull(rand.Reader, nonce)
	if err != nil {
		return
	}
	ciphertext = gcm.Seal(nonce, nonce, data, nil)
	return
}

func Decrypt(ciphertextAndNonce []byte, key Key) (data []byte, err error) {
	gcm, err := key.gcm()
	if err != nil {
		return
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertextAndNonce) < nonceSize {
		err = ErrShortCiphertext
		return
	}
	nonce, ciphertext := ciphertextAndNonce[:nonceSize], ciphertextAndNonce[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// SimpleHash is a url safe sha3 hash of text, used where keys need a bounded size.
func SimpleHash(text string) (out string) {
	b := sha3.Sum512([]byte(text))
	out = base64.StdEncoding.EncodeToString(b[:])
	out = strings.TrimRight(out, "=")
	out = strings.ReplaceAll(out, "+", "-")
	out = strings.ReplaceAll(out, "/", "_")
	return
}
