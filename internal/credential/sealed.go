package credential

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	sealMagic      = "SMBD1"
	saltSize       = 16
	kdfIterations  = 600_000
	minPassphrase  = 8
	sealHeaderSize = len(sealMagic) + saltSize + chacha20poly1305.NonceSizeX
)

// ErrBadPassphrase is returned when a sealed file does not decrypt.
var ErrBadPassphrase = errors.New("wrong passphrase or corrupted credential file")

type sealedBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain,omitempty"`
}

// IsSealed reports whether data starts with the sealed-file magic.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(sealMagic))
}

// Seal encrypts c with a key derived from passphrase.
// Layout: magic | salt | nonce | ciphertext.
func Seal(c Credential, passphrase string) ([]byte, error) {
	if len(passphrase) < minPassphrase {
		return nil, fmt.Errorf("passphrase must be at least %d characters", minPassphrase)
	}
	plain, err := json.Marshal(sealedBody(c))
	if err != nil {
		return nil, err
	}

	out := make([]byte, sealHeaderSize, sealHeaderSize+len(plain)+chacha20poly1305.Overhead)
	copy(out, sealMagic)
	salt := out[len(sealMagic) : len(sealMagic)+saltSize]
	nonce := out[len(sealMagic)+saltSize : sealHeaderSize]
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	return aead.Seal(out, nonce, plain, []byte(sealMagic)), nil
}

// Open decrypts a sealed credential file.
func Open(data []byte, passphrase string) (*Credential, error) {
	if !IsSealed(data) {
		return nil, errors.New("not a sealed credential file")
	}
	if len(data) < sealHeaderSize+chacha20poly1305.Overhead {
		return nil, errors.New("sealed credential file is truncated")
	}
	salt := data[len(sealMagic) : len(sealMagic)+saltSize]
	nonce := data[len(sealMagic)+saltSize : sealHeaderSize]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, data[sealHeaderSize:], []byte(sealMagic))
	if err != nil {
		return nil, ErrBadPassphrase
	}

	var body sealedBody
	if err := json.Unmarshal(plain, &body); err != nil {
		return nil, fmt.Errorf("decoding sealed credential: %w", err)
	}
	c := Credential(body)
	return &c, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, chacha20poly1305.KeySize, sha256.New)
}
