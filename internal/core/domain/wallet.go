package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Wallet holds a user's balance in minor units. Every user has exactly one.
type Wallet struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	WalletNumber string    `json:"wallet_number"`
	Balance      int64     `json:"balance"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsOwnedBy reports whether userID owns the wallet.
func (w *Wallet) IsOwnedBy(userID string) bool {
	return w.UserID == userID
}

// CanDebit reports whether amount can be withdrawn without going negative.
func (w *Wallet) CanDebit(amount int64) bool {
	return amount > 0 && w.Balance >= amount
}

// CanCredit reports whether amount can be added without overflowing.
func (w *Wallet) CanCredit(amount int64) bool {
	return amount > 0 && w.Balance <= math.MaxInt64-amount
}
