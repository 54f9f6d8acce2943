package gate

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/Skeyelab/annualreview.com/internal/pkg/payments"
)

// Control fields callers may attach to the generation payload. They are
// request routing data, not evidence, and are stripped before the payload
// reaches validation or the pipeline.
const (
	FieldPaymentSessionID = "_payment_session_id"
	FieldPremium          = "_premium"
)

// DefaultVerifyTimeout bounds the single slow-path network round trip.
const DefaultVerifyTimeout = 10 * time.Second

// CreditLedger is the slice of the ledger service the gate consumes.
type CreditLedger interface {
	Award(ctx context.Context, userID uint, paymentRef string, count uint) error
	Balance(ctx context.Context, userID uint) (uint, error)
	Deduct(ctx context.Context, userID uint) (bool, error)
}

// SessionVerifier retrieves a checkout session from the payment provider.
type SessionVerifier interface {
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*payments.CheckoutSession, error)
}

// Request carries the payment-related control fields of one generation call.
type Request struct {
	SessionRef  string
	PremiumFlag bool
}

// PremiumRequested reports whether the caller asked for the premium tier,
// either explicitly or by supplying a checkout-session reference.
func (r Request) PremiumRequested() bool {
	return r.PremiumFlag || r.SessionRef != ""
}

// ExtractControlFields pulls the control fields out of the payload and
// deletes them so downstream consumers never see them.
func ExtractControlFields(payload map[string]interface{}) Request {
	var req Request
	if raw, ok := payload[FieldPaymentSessionID]; ok {
		if s, ok := raw.(string); ok {
			req.SessionRef = strings.TrimSpace(s)
		}
		delete(payload, FieldPaymentSessionID)
	}
	if raw, ok := payload[FieldPremium]; ok {
		if b, ok := raw.(bool); ok {
			req.PremiumFlag = b
		}
		delete(payload, FieldPremium)
	}
	return req
}

// Outcome is the terminal state of the authorization state machine.
type Outcome int

const (
	// OutcomeFree runs the standard pipeline; the ledger is never touched.
	OutcomeFree Outcome = iota
	// OutcomePremium runs the premium pipeline; exactly one credit was spent.
	OutcomePremium
	// OutcomeLoginRequired rejects with 401: premium asked for anonymously.
	OutcomeLoginRequired
	// OutcomePaymentRequired rejects with 402: unpaid, not found, owner
	// mismatch or exhausted balance. The sub-cases are deliberately not
	// distinguishable by the caller.
	OutcomePaymentRequired
)

// Decision is the gate's verdict for one request.
type Decision struct {
	Outcome   Outcome
	Remaining uint // populated on OutcomePremium
}

// Gate decides standard vs. premium execution per request. It performs at
// most one network round trip (the slow-path session verification) and
// fails closed: any verifier error or timeout reads as "not verified".
type Gate struct {
	ledger        CreditLedger
	verifier      SessionVerifier
	verifyTimeout time.Duration
}

func New(ledger CreditLedger, verifier SessionVerifier) *Gate {
	return &Gate{
		ledger:        ledger,
		verifier:      verifier,
		verifyTimeout: DefaultVerifyTimeout,
	}
}

// Authorize walks the decision states for a request. userID zero means the
// caller is not authenticated. A non-nil error is an infrastructure failure
// (ledger store unreachable); every business denial is an Outcome.
func (g *Gate) Authorize(ctx context.Context, userID uint, req Request) (Decision, error) {
	if !req.PremiumRequested() {
		return Decision{Outcome: OutcomeFree}, nil
	}
	if userID == 0 {
		return Decision{Outcome: OutcomeLoginRequired}, nil
	}

	// Fast path: a stored balance authorizes premium without a verifier
	// round trip. Ownership was already bound when the balance was awarded.
	ok, err := g.ledger.Deduct(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if ok {
		return g.premiumDecision(ctx, userID)
	}

	return g.verifyAndDeduct(ctx, userID, req)
}

// verifyAndDeduct is the slow path: one bounded verifier call, then award
// and re-deduct. Runs only when the fast-path deduct found a zero balance.
func (g *Gate) verifyAndDeduct(ctx context.Context, userID uint, req Request) (Decision, error) {
	if req.SessionRef == "" {
		return Decision{Outcome: OutcomePaymentRequired}, nil
	}

	vctx, cancel := context.WithTimeout(ctx, g.verifyTimeout)
	defer cancel()

	session, err := g.verifier.RetrieveCheckoutSession(vctx, req.SessionRef)
	if err != nil {
		log.Warnf("[Gate] session verification failed for user %d: %v", userID, err)
		return Decision{Outcome: OutcomePaymentRequired}, nil
	}
	if !session.Paid() {
		return Decision{Outcome: OutcomePaymentRequired}, nil
	}

	// A checkout-session reference is bearer data. Without this binding one
	// user's paid reference could be replayed by another authenticated user
	// to steal the credit.
	owner := session.OwnerUserID()
	if owner == 0 || owner != userID {
		log.Warnf("[Gate] checkout session %s owner mismatch: owner=%d caller=%d", req.SessionRef, owner, userID)
		return Decision{Outcome: OutcomePaymentRequired}, nil
	}

	if err := g.ledger.Award(ctx, userID, req.SessionRef, 0); err != nil {
		return Decision{}, err
	}

	ok, err := g.ledger.Deduct(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		// The award was consumed by concurrent requests (or had already
		// been spent in a previous run of this reference).
		return Decision{Outcome: OutcomePaymentRequired}, nil
	}
	return g.premiumDecision(ctx, userID)
}

func (g *Gate) premiumDecision(ctx context.Context, userID uint) (Decision, error) {
	remaining, err := g.ledger.Balance(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Outcome: OutcomePremium, Remaining: remaining}, nil
}
