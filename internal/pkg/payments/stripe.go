package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Skeyelab/annualreview.com/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

// CheckoutSession is the subset of Stripe's checkout session object the
// authorization gate and the billing controller care about.
type CheckoutSession struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	Status            string `json:"status"`
	PaymentStatus     string `json:"payment_status"`
	ClientReferenceID string `json:"client_reference_id"`
}

// Paid reports whether the session's payment settled. "no_payment_required"
// covers 100%-off promotion codes, which Stripe still marks complete.
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

// OwnerUserID resolves the purchasing user recorded at checkout-creation
// time (client_reference_id). Zero means the session carries no owner.
func (s *CheckoutSession) OwnerUserID() uint {
	id, err := strconv.ParseUint(strings.TrimSpace(s.ClientReferenceID), 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

type StripeClient struct {
	SecretKey  string
	PriceID    string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		PriceID:    strings.TrimSpace(env.GetEnv("STRIPE_PRICE_ID", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// RetrieveCheckoutSession fetches a checkout session by reference. Callers
// treat any error as "not verified"; the gate fails closed on it.
func (c *StripeClient) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, errors.New("checkout session id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.APIBaseURL+"/checkout/sessions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	return c.doSession(req)
}

// CreateCheckoutSession opens a new checkout for one credit bundle, binding
// the session to the purchasing user via client_reference_id so the webhook
// and the inline verification path can attribute the award.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, userID uint, successURL, cancelURL string) (*CheckoutSession, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	if strings.TrimSpace(c.PriceID) == "" {
		return nil, errors.New("STRIPE_PRICE_ID is not configured")
	}
	if userID == 0 {
		return nil, errors.New("user id is required")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", strconv.FormatUint(uint64(userID), 10))
	form.Set("line_items[0][price]", c.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.APIBaseURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.doSession(req)
}

func (c *StripeClient) doSession(req *http.Request) (*CheckoutSession, error) {
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("stripe request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out CheckoutSession
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
