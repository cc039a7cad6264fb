package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"migration-guard/internal/errors"
)

// Encrypted artifacts are self-describing envelopes:
//
//	magic "MGENC1" | 32-byte salt | GCM nonce | ciphertext
//
// The salt is regenerated per artifact so the same passphrase never yields
// the same key twice.
var encryptionMagic = []byte("MGENC1")

const (
	saltSize         = 32
	pbkdf2Iterations = 100000
	keySize          = 32
)

// Encryptor seals and opens backup artifact payloads with AES-256-GCM using
// a passphrase-derived key
type Encryptor struct {
	passphrase string
}

// NewEncryptor creates an encryptor. An empty passphrase is rejected at
// config validation, not here.
func NewEncryptor(passphrase string) *Encryptor {
	return &Encryptor{passphrase: passphrase}
}

// Encrypt seals a payload into the MGENC1 envelope
func (e *Encryptor) Encrypt(payload []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.NewBackupFailed("failed to generate encryption salt", err)
	}

	gcm, err := e.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.NewBackupFailed("failed to generate encryption nonce", err)
	}

	envelope := make([]byte, 0, len(encryptionMagic)+saltSize+len(nonce)+len(payload)+gcm.Overhead())
	envelope = append(envelope, encryptionMagic...)
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = gcm.Seal(envelope, nonce, payload, nil)
	return envelope, nil
}

// Decrypt opens an MGENC1 envelope
func (e *Encryptor) Decrypt(envelope []byte) ([]byte, error) {
	if !IsEncrypted(envelope) {
		return nil, errors.NewBackupFailed("payload is not an encrypted backup envelope", nil)
	}

	body := envelope[len(encryptionMagic):]
	if len(body) < saltSize {
		return nil, errors.NewBackupFailed("encrypted payload truncated", nil)
	}
	salt, body := body[:saltSize], body[saltSize:]

	gcm, err := e.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(body) < nonceSize {
		return nil, errors.NewBackupFailed("encrypted payload truncated", nil)
	}
	nonce, ciphertext := body[:nonceSize], body[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to decrypt backup payload: wrong passphrase or corrupted artifact", err)
	}
	return plaintext, nil
}

// cipherFor derives the AES-256-GCM AEAD for one salt
func (e *Encryptor) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(e.passphrase), salt, pbkdf2Iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to create GCM cipher", err)
	}
	return gcm, nil
}

// IsEncrypted reports whether a payload carries the encryption envelope magic
func IsEncrypted(payload []byte) bool {
	return bytes.HasPrefix(payload, encryptionMagic)
}
