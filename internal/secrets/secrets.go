package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// ErrCiphertextInvalid marks a blob that cannot be opened with the
// configured master key.
var ErrCiphertextInvalid = errors.New("secrets: ciphertext invalid")

// Resolver encrypts and decrypts provider credential blobs. Keys are
// derived per tenant from the master key, so one tenant's ciphertext is
// useless under another tenant's key.
type Resolver struct {
	masterKey []byte
}

// NewResolver builds a resolver from the configured master key string.
func NewResolver(masterKey string) (*Resolver, error) {
	if masterKey == "" {
		return nil, errors.New("secrets: master key is empty")
	}
	return &Resolver{masterKey: []byte(masterKey)}, nil
}

// Encrypt seals plaintext for one tenant, returning base64 with the
// nonce prepended.
func (r *Resolver) Encrypt(tenantID string, plaintext []byte) (string, error) {
	gcm, err := r.aead(tenantID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt for the same tenant.
func (r *Resolver) Decrypt(tenantID string, encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	gcm, err := r.aead(tenantID)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrCiphertextInvalid
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	return plaintext, nil
}

func (r *Resolver) aead(tenantID string) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, r.masterKey, []byte("gateway-credentials"), []byte(tenantID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
