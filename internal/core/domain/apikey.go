package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxActiveAPIKeys caps the simultaneously active keys per user.
const DefaultMaxActiveAPIKeys = 5

// ExpiryClass is a coarse key lifetime chosen at creation.
type ExpiryClass string

const (
	ExpiryHour  ExpiryClass = "1H"
	ExpiryDay   ExpiryClass = "1D"
	ExpiryMonth ExpiryClass = "1M"
	ExpiryYear  ExpiryClass = "1Y"
)

var expiryDurations = map[ExpiryClass]time.Duration{
	ExpiryHour:  time.Hour,
	ExpiryDay:   24 * time.Hour,
	ExpiryMonth: 30 * 24 * time.Hour,
	ExpiryYear:  365 * 24 * time.Hour,
}

func ParseExpiryClass(s string) (ExpiryClass, error) {
	e := ExpiryClass(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := expiryDurations[e]; !ok {
		return "", fmt.Errorf("unknown expiry %q (want 1H, 1D, 1M or 1Y)", s)
	}
	return e, nil
}

func (e ExpiryClass) Duration() time.Duration {
	return expiryDurations[e]
}

// ExpiresAt computes the expiry instant relative to now.
func (e ExpiryClass) ExpiresAt(now time.Time) time.Time {
	return now.Add(e.Duration()).UTC()
}

// APIKey is a stored credential. Only the digest of the secret is kept.
type APIKey struct {
	ID          uuid.UUID     `json:"id"`
	UserID      string        `json:"-"`
	Name        string        `json:"name"`
	Prefix      string        `json:"prefix"`
	KeyHash     string        `json:"-"`
	Permissions PermissionSet `json:"permissions"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Revoked     bool          `json:"revoked"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// IsExpired is true once now has reached expires_at.
func (k *APIKey) IsExpired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// IsActive is true when the key is neither revoked nor expired.
func (k *APIKey) IsActive(now time.Time) bool {
	return !k.Revoked && !k.IsExpired(now)
}

// IssuedAPIKey is returned once, at creation. Secret is never stored.
type IssuedAPIKey struct {
	Key    *APIKey
	Secret string
}
