package models

import "time"

// CreditEvent records one processed payment confirmation, keyed by the
// provider's checkout-session reference. The unique index on PaymentRef is
// the idempotency guard: a webhook delivery and an inline verification of
// the same session insert at most one row between them, and only the
// inserting caller increments the credit balance.
type CreditEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PaymentRef string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_credit_events_payment_ref" json:"payment_ref"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	Credits    uint      `gorm:"not null" json:"credits"`
	AwardedAt  time.Time `gorm:"autoCreateTime" json:"awarded_at"`
}
