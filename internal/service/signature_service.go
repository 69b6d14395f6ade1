package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"signing-relay/internal/core/domain"
)

// SignatureLen is the length of a hex-encoded HMAC-SHA256 digest.
const SignatureLen = 2 * sha256.Size

// HMACSigner signs canonical strings with the exchange secret.
// The secret is owned by the signer for its lifetime and never leaves it.
type HMACSigner struct {
	secret domain.Secret
}

// NewHMACSigner creates a signer holding secret. The caller must not
// reuse or wipe the slice while the signer is in use.
func NewHMACSigner(secret domain.Secret) *HMACSigner {
	return &HMACSigner{secret: secret}
}

// Sign computes HMAC-SHA256 of payload and returns the lowercase hex digest.
func (s *HMACSigner) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Close wipes the held secret. The signer must not be used afterwards.
func (s *HMACSigner) Close() {
	s.secret.Wipe()
}
