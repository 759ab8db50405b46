// Package sealing encrypts sensitive identifiers for the canonical document.
package sealing

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/pitabwire/eapp/model"
)

const (
	valuePrefix  = "v1."
	minMasterKey = 32
	infoEncrypt  = "eapp/sealing/encrypt"
	infoNonce    = "eapp/sealing/nonce"
	hintLength   = 4
)

// ErrMalformed is returned by Open for values this sealer did not produce.
var ErrMalformed = errors.New("sealing: malformed value")

// AEADSealer seals with XChaCha20-Poly1305. The nonce is an HMAC of the
// plaintext, so sealing is deterministic: the same identifier under the same
// key always yields the same ciphertext.
type AEADSealer struct {
	aead   cipher.AEAD
	macKey []byte
	keyID  string
}

// NewAEADSealer derives the encryption and nonce keys from masterKey with
// HKDF-SHA256. masterKey must be at least 32 bytes.
func NewAEADSealer(masterKey []byte, keyID string) (*AEADSealer, error) {
	if len(masterKey) < minMasterKey {
		return nil, fmt.Errorf("sealing: master key must be at least %d bytes, got %d", minMasterKey, len(masterKey))
	}
	encKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(infoEncrypt)), encKey); err != nil {
		return nil, fmt.Errorf("sealing: deriving encryption key: %w", err)
	}
	macKey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(infoNonce)), macKey); err != nil {
		return nil, fmt.Errorf("sealing: deriving nonce key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("sealing: %w", err)
	}
	return &AEADSealer{aead: aead, macKey: macKey, keyID: keyID}, nil
}

// Seal encrypts plaintext. The key id is bound as associated data.
func (s *AEADSealer) Seal(plaintext string) model.EncryptedValue {
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write([]byte(plaintext))
	nonce := mac.Sum(nil)[:chacha20poly1305.NonceSizeX]

	out := make([]byte, 0, len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, nonce...)
	out = s.aead.Seal(out, nonce, []byte(plaintext), []byte(s.keyID))

	return model.EncryptedValue{
		IsEncrypted: true,
		Value:       valuePrefix + base64.RawURLEncoding.EncodeToString(out),
		Hint:        Hint(plaintext),
		KeyID:       s.keyID,
	}
}

// Open decrypts a value produced by Seal.
func (s *AEADSealer) Open(v model.EncryptedValue) (string, error) {
	if !v.IsEncrypted || !strings.HasPrefix(v.Value, valuePrefix) {
		return "", ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(v.Value, valuePrefix))
	if err != nil || len(raw) < chacha20poly1305.NonceSizeX+s.aead.Overhead() {
		return "", ErrMalformed
	}
	nonce, ciphertext := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	keyID := v.KeyID
	if keyID == "" {
		keyID = s.keyID
	}
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(keyID))
	if err != nil {
		return "", fmt.Errorf("sealing: open: %w", err)
	}
	return string(plaintext), nil
}

// Hint returns the last four digits of plaintext's digits, or all of them
// when there are fewer.
func Hint(plaintext string) string {
	digits := make([]byte, 0, len(plaintext))
	for i := 0; i < len(plaintext); i++ {
		if c := plaintext[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) > hintLength {
		digits = digits[len(digits)-hintLength:]
	}
	return string(digits)
}

// KeyFromEnv reads a base64-encoded master key from the named environment
// variable.
func KeyFromEnv(name string) ([]byte, error) {
	encoded := strings.TrimSpace(os.Getenv(name))
	if encoded == "" {
		return nil, fmt.Errorf("sealing: environment variable %s is not set", name)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("sealing: %s is not valid base64: %w", name, err)
	}
	return key, nil
}
