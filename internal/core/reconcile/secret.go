package reconcile

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

const (
	fingerprintInfo = "warmstart/secret-fingerprint/v1"
	markerHexLen    = 12
)

// Fingerprinter derives keyed fingerprints of secret values.
// The key lives only in process memory; it survives a restore because the
// process image does.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter derives the HMAC key from seed with HKDF-SHA256.
func NewFingerprinter(seed []byte) (*Fingerprinter, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("fingerprint seed is empty")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(fingerprintInfo)), key); err != nil {
		return nil, fmt.Errorf("derive fingerprint key: %w", err)
	}
	return &Fingerprinter{key: key}, nil
}

// NewRandomFingerprinter seeds a Fingerprinter from crypto/rand.
func NewRandomFingerprinter() (*Fingerprinter, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("read fingerprint seed: %w", err)
	}
	return NewFingerprinter(seed)
}

// Fingerprint returns the hex HMAC-SHA256 of value bound to key.
func (f *Fingerprinter) Fingerprint(key, value string) string {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(key))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Marker returns the log-visible form of a fingerprint. It has a fixed
// length regardless of the secret length.
func Marker(fingerprint string) string {
	if len(fingerprint) > markerHexLen {
		fingerprint = fingerprint[:markerHexLen]
	}
	return logger.MarkerPrefix + fingerprint + "]"
}

// IsSecret reports whether key holds a secret, either because it is listed
// explicitly or because its name matches a sensitive pattern.
func IsSecret(key string, listed map[string]bool) bool {
	return listed[key] || logger.IsSensitiveKey(key)
}
