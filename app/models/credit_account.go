package models

import "time"

// CreditAccount tracks the remaining premium-generation credits for a user.
// Rows are created implicitly on the first award; Remaining is kept
// non-negative by the conditional decrement in the ledger repository.
type CreditAccount struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:ux_credit_accounts_user" json:"user_id"`
	Remaining uint      `gorm:"not null;default:0" json:"remaining"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
