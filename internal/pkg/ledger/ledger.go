package ledger

import (
	"context"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/Skeyelab/annualreview.com/app/models"
	"github.com/Skeyelab/annualreview.com/internal/pkg/env"
)

// DefaultBundleSize is the number of premium credits granted per purchased
// checkout session. Overridable via CREDITS_PER_PURCHASE for staging.
const DefaultBundleSize = 5

// Service is the durable, idempotent credit ledger. All returned errors are
// infrastructure failures (store unreachable); "no credits" and "already
// awarded" are normal results, never errors.
type Service struct {
	repo Repository
}

// NewService creates a ledger service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a ledger service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// BundleSize resolves the configured credits-per-purchase bundle size.
func BundleSize() uint {
	raw := strings.TrimSpace(env.GetEnv("CREDITS_PER_PURCHASE", ""))
	if raw == "" {
		return DefaultBundleSize
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		return DefaultBundleSize
	}
	return uint(n)
}

// Award credits count credits to userID for the given payment reference.
// Calling it again with the same reference is a no-op: the CreditEvent row
// keyed by paymentRef is the sole idempotency guard, so a webhook delivery
// and an inline verification racing on the same session increment the
// balance exactly once between them.
func (s *Service) Award(ctx context.Context, userID uint, paymentRef string, count uint) error {
	_ = ctx
	if count == 0 {
		count = BundleSize()
	}
	event := &models.CreditEvent{
		PaymentRef: strings.TrimSpace(paymentRef),
		UserID:     userID,
		Credits:    count,
	}
	_, err := s.repo.AwardOnce(event)
	return err
}

// Balance returns the remaining credit count; unknown users read as 0.
func (s *Service) Balance(ctx context.Context, userID uint) (uint, error) {
	_ = ctx
	return s.repo.Balance(userID)
}

// Deduct consumes exactly one credit if the balance is positive. A false
// result means zero balance, which is a normal outcome for the caller to
// map, not a failure.
func (s *Service) Deduct(ctx context.Context, userID uint) (bool, error) {
	_ = ctx
	return s.repo.DecrementIfPositive(userID)
}

// Reset clears all ledger state. Test isolation only.
func (s *Service) Reset(ctx context.Context) error {
	_ = ctx
	return s.repo.Reset()
}
