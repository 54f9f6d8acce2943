package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/Skeyelab/annualreview.com/internal/pkg/env"
	"github.com/Skeyelab/annualreview.com/internal/pkg/payments"
	"github.com/Skeyelab/annualreview.com/internal/pkg/usercontext"
)

// CreditLedger is the slice of the ledger the billing controller consumes.
type CreditLedger interface {
	Award(ctx context.Context, userID uint, paymentRef string, count uint) error
	Balance(ctx context.Context, userID uint) (uint, error)
}

// CheckoutClient creates checkout sessions for credit bundle purchases.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, userID uint, successURL, cancelURL string) (*payments.CheckoutSession, error)
}

// BillingController serves credit balance reads, checkout creation and the
// Stripe webhook that settles purchases into the ledger.
type BillingController struct {
	ledger CreditLedger
	stripe CheckoutClient
}

func NewBillingController(ledger CreditLedger, stripe CheckoutClient) *BillingController {
	return &BillingController{ledger: ledger, stripe: stripe}
}

// HandleGetCredits returns the caller's remaining premium credits.
func (bc *BillingController) HandleGetCredits(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	remaining, err := bc.ledger.Balance(c.Context(), userID)
	if err != nil {
		log.Errorf("[Billing] Balance lookup failed for user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "ledger_unavailable", "could not read credit balance")
	}

	return c.JSON(fiber.Map{
		"credits_remaining": remaining,
	})
}

// HandleCreateCheckout opens a Stripe checkout session for one credit bundle
// and returns the hosted payment URL.
func (bc *BillingController) HandleCreateCheckout(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	domain := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:3000")
	successURL := domain + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
	cancelURL := domain + "/billing/cancel"

	ctx, cancel := context.WithTimeout(c.Context(), 15*time.Second)
	defer cancel()

	session, err := bc.stripe.CreateCheckoutSession(ctx, userID, successURL, cancelURL)
	if err != nil {
		log.Errorf("[Billing] Checkout creation failed for user %d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "checkout_failed", "could not create checkout session")
	}

	return c.JSON(fiber.Map{
		"session_id":   session.ID,
		"checkout_url": session.URL,
	})
}

// HandleStripeWebhook processes checkout.session.completed events. The award
// is idempotent on the session id, so redeliveries and a race with the
// inline verification path credit the purchase exactly once.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := make([]byte, len(c.BodyRaw()))
	copy(payload, c.BodyRaw())

	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	signature := c.Get("Stripe-Signature")
	if !payments.VerifyStripeWebhookSignature(payload, signature, secret) {
		log.Warnf("[Billing] Webhook signature rejected")
		return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
	}

	event, err := payments.ParseWebhookEvent(payload)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "could not parse webhook event")
	}

	if event.Type != payments.EventCheckoutSessionCompleted {
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	session, err := event.CheckoutSession()
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "could not parse checkout session")
	}

	if !session.Paid() {
		log.Infof("[Billing] Ignoring unpaid session %s (payment_status=%s)", session.ID, session.PaymentStatus)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	ownerID := session.OwnerUserID()
	if ownerID == 0 {
		log.Warnf("[Billing] Session %s carries no client_reference_id, cannot attribute", session.ID)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := bc.ledger.Award(ctx, ownerID, session.ID, 0); err != nil {
		// Non-2xx makes Stripe redeliver; the award stays idempotent.
		log.Errorf("[Billing] Failed to award credits for session %s: %v", session.ID, err)
		return jsonError(c, fiber.StatusInternalServerError, "ledger_unavailable", "could not record purchase")
	}

	log.Infof("[Billing] Credited purchase %s to user %d", session.ID, ownerID)
	return c.JSON(fiber.Map{"status": "ok"})
}
