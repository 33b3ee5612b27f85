package service

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"strings"
)

// HMACSignatureService implements ports.SignatureService with a configurable
// HMAC hash. Signatures are lowercase hex.
type HMACSignatureService struct {
	newHash func() hash.Hash
}

// NewHMACSignatureService creates a signature service over newHash.
func NewHMACSignatureService(newHash func() hash.Hash) *HMACSignatureService {
	return &HMACSignatureService{newHash: newHash}
}

// NewSHA512SignatureService matches the Paystack webhook scheme.
func NewSHA512SignatureService() *HMACSignatureService {
	return NewHMACSignatureService(sha512.New)
}

// Sign computes HMAC(secret, payload) over the exact bytes given.
func (s *HMACSignatureService) Sign(secret string, payload []byte) string {
	return hex.EncodeToString(s.mac(secret, payload))
}

// Verify checks signature against HMAC(secret, payload).
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureService) Verify(secret string, payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(s.mac(secret, payload), got)
}

func (s *HMACSignatureService) mac(secret string, payload []byte) []byte {
	m := hmac.New(s.newHash, []byte(secret))
	m.Write(payload)
	return m.Sum(nil)
}
