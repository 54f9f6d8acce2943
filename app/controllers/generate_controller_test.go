package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skeyelab/annualreview.com/internal/pkg/gate"
	"github.com/Skeyelab/annualreview.com/internal/pkg/jobqueue"
	"github.com/Skeyelab/annualreview.com/internal/pkg/payments"
	"github.com/Skeyelab/annualreview.com/internal/pkg/usercontext"
)

// fakeCreditStore is an in-memory ledger with the same idempotency and
// conditional-decrement semantics as the GORM repository.
type fakeCreditStore struct {
	mu       sync.Mutex
	balances map[uint]uint
	refs     map[string]bool
	deducts  int
	failAll  bool
}

func newFakeCreditStore() *fakeCreditStore {
	return &fakeCreditStore{
		balances: map[uint]uint{},
		refs:     map[string]bool{},
	}
}

func (f *fakeCreditStore) Award(_ context.Context, userID uint, paymentRef string, count uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("store unreachable")
	}
	if f.refs[paymentRef] {
		return nil
	}
	f.refs[paymentRef] = true
	if count == 0 {
		count = 5
	}
	f.balances[userID] += count
	return nil
}

func (f *fakeCreditStore) Balance(_ context.Context, userID uint) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return 0, fmt.Errorf("store unreachable")
	}
	return f.balances[userID], nil
}

func (f *fakeCreditStore) Deduct(_ context.Context, userID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deducts++
	if f.failAll {
		return false, fmt.Errorf("store unreachable")
	}
	if f.balances[userID] == 0 {
		return false, nil
	}
	f.balances[userID]--
	return true, nil
}

func (f *fakeCreditStore) deductCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deducts
}

type fakeSessionVerifier struct {
	sessions map[string]*payments.CheckoutSession
}

func (f *fakeSessionVerifier) RetrieveCheckoutSession(_ context.Context, id string) (*payments.CheckoutSession, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no such session")
}

// captureDispatcher records enqueued jobs instead of touching Redis.
type captureDispatcher struct {
	mu   sync.Mutex
	jobs []*jobqueue.Job
}

func (d *captureDispatcher) EnqueueJob(jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job := &jobqueue.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Status:  jobqueue.JobStatusPending,
		Payload: payload,
	}
	d.jobs = append(d.jobs, job)
	return job, nil
}

func (d *captureDispatcher) GetJob(_ context.Context, jobID string) (*jobqueue.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, job := range d.jobs {
		if job.ID == jobID {
			return job, nil
		}
	}
	return nil, redis.Nil
}

func (d *captureDispatcher) GetJobStats(_ context.Context) (map[jobqueue.JobStatus]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := map[jobqueue.JobStatus]int64{}
	for _, job := range d.jobs {
		stats[job.Status]++
	}
	return stats, nil
}

func (d *captureDispatcher) GetQueueSize(_ context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var pending int64
	for _, job := range d.jobs {
		if job.Status == jobqueue.JobStatusPending {
			pending++
		}
	}
	return pending, nil
}

func (d *captureDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

// newGenerateApp wires the controller behind a fiber app. The test
// middleware resolves the principal from the X-Test-User header so each
// request can impersonate a different user.
func newGenerateApp(store *fakeCreditStore, verifier *fakeSessionVerifier, dispatcher *captureDispatcher) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if raw := c.Get("X-Test-User"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 32); err == nil && id > 0 {
				c.Locals(usercontext.ContextKey, usercontext.UserContext{
					UserID:     uint(id),
					IsLoggedIn: true,
				})
			}
		}
		return c.Next()
	})

	gc := NewGenerateController(gate.New(store, verifier), dispatcher)
	app.Post("/api/v1/generate", gc.HandleGenerate)
	app.Get("/api/v1/jobs/:id", gc.HandleJobStatus)
	app.Get("/api/v1/queue/stats", gc.HandleQueueStats)
	return app
}

func validEvidence() map[string]interface{} {
	return map[string]interface{}{
		"subject":    "Jordan Smith",
		"role":       "Senior Engineer",
		"period":     "2025",
		"highlights": []string{"Shipped the billing rework", "Mentored two new hires"},
	}
}

func postGenerate(t *testing.T, app *fiber.App, userID uint, payload map[string]interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set("X-Test-User", strconv.FormatUint(uint64(userID), 10))
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestGenerateFreeRunNeverTouchesLedger(t *testing.T) {
	store := newFakeCreditStore()
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	resp := postGenerate(t, app, 0, validEvidence())
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, false, body["premium"])
	assert.NotEmpty(t, body["job_id"])
	assert.NotContains(t, body, "credits_remaining")
	assert.Equal(t, 0, store.deductCalls())
	assert.Equal(t, 1, dispatcher.count())
}

func TestGeneratePremiumAnonymousRejected(t *testing.T) {
	store := newFakeCreditStore()
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	payload := validEvidence()
	payload["_premium"] = true

	resp := postGenerate(t, app, 0, payload)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, dispatcher.count())
}

func TestGenerateInvalidEvidenceRejectedBeforeGate(t *testing.T) {
	store := newFakeCreditStore()
	store.balances[7] = 1
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	payload := map[string]interface{}{
		"subject":  "Jordan Smith",
		"_premium": true,
		// highlights missing
	}

	resp := postGenerate(t, app, 7, payload)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// The 400 must not burn the credit.
	assert.Equal(t, 0, store.deductCalls())
	balance, _ := store.Balance(context.Background(), 7)
	assert.Equal(t, uint(1), balance)
	assert.Equal(t, 0, dispatcher.count())
}

func TestGenerateStripsControlFieldsFromEvidence(t *testing.T) {
	store := newFakeCreditStore()
	store.balances[7] = 1
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	payload := validEvidence()
	payload["_premium"] = true
	payload["_payment_session_id"] = "cs_ignore"

	resp := postGenerate(t, app, 7, payload)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.Equal(t, 1, dispatcher.count())

	evidenceMap, ok := dispatcher.jobs[0].Payload["evidence"].(map[string]interface{})
	require.True(t, ok)
	assert.NotContains(t, evidenceMap, "_premium")
	assert.NotContains(t, evidenceMap, "_payment_session_id")
	assert.Equal(t, "Jordan Smith", evidenceMap["subject"])
}

func TestGenerateSlowPathAwardsBundleAndDeducts(t *testing.T) {
	store := newFakeCreditStore()
	verifier := &fakeSessionVerifier{sessions: map[string]*payments.CheckoutSession{
		"cs_1": {ID: "cs_1", PaymentStatus: "paid", ClientReferenceID: "7"},
	}}
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, verifier, dispatcher)

	payload := validEvidence()
	payload["_payment_session_id"] = "cs_1"

	resp := postGenerate(t, app, 7, payload)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["premium"])
	assert.Equal(t, float64(4), body["credits_remaining"])
}

func TestGenerateOwnerMismatchRejected(t *testing.T) {
	store := newFakeCreditStore()
	verifier := &fakeSessionVerifier{sessions: map[string]*payments.CheckoutSession{
		"cs_1": {ID: "cs_1", PaymentStatus: "paid", ClientReferenceID: "8"},
	}}
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, verifier, dispatcher)

	payload := validEvidence()
	payload["_payment_session_id"] = "cs_1"

	resp := postGenerate(t, app, 7, payload)
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, 0, dispatcher.count())
}

func TestGenerateConcurrentPremiumSpendsSingleCredit(t *testing.T) {
	store := newFakeCreditStore()
	store.balances[7] = 1
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	const requests = 5
	statuses := make([]int, requests)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := validEvidence()
			payload["_premium"] = true
			resp := postGenerate(t, app, 7, payload)
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	accepted, denied := 0, 0
	for _, status := range statuses {
		switch status {
		case fiber.StatusAccepted:
			accepted++
		case fiber.StatusPaymentRequired:
			denied++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, requests-1, denied)
	assert.Equal(t, 1, dispatcher.count())
}

func TestGenerateFastPathExhaustsBalance(t *testing.T) {
	store := newFakeCreditStore()
	require.NoError(t, store.Award(context.Background(), 9, "cs_bob", 0))
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	for i := 0; i < 5; i++ {
		payload := validEvidence()
		payload["_premium"] = true
		resp := postGenerate(t, app, 9, payload)
		require.Equal(t, fiber.StatusAccepted, resp.StatusCode, "run %d", i)
	}

	payload := validEvidence()
	payload["_premium"] = true
	resp := postGenerate(t, app, 9, payload)
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, 5, dispatcher.count())
}

func TestGenerateLedgerFailureReturns500(t *testing.T) {
	store := newFakeCreditStore()
	store.failAll = true
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	payload := validEvidence()
	payload["_premium"] = true

	resp := postGenerate(t, app, 7, payload)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ledger_unavailable", body["error"])
	assert.Equal(t, 0, dispatcher.count())
}

func TestJobStatusReturnsResult(t *testing.T) {
	store := newFakeCreditStore()
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	job, err := dispatcher.EnqueueJob(jobqueue.JobTypeGeneration, map[string]interface{}{})
	require.NoError(t, err)
	job.MarkAsCompleted("Jordan had a strong year.")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, string(jobqueue.JobStatusCompleted), body["status"])
	assert.Equal(t, "Jordan had a strong year.", body["result"])
}

func TestQueueStats(t *testing.T) {
	store := newFakeCreditStore()
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	_, err := dispatcher.EnqueueJob(jobqueue.JobTypeGeneration, map[string]interface{}{})
	require.NoError(t, err)
	done, err := dispatcher.EnqueueJob(jobqueue.JobTypeGeneration, map[string]interface{}{})
	require.NoError(t, err)
	done.MarkAsCompleted("review text")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["pending_size"])
	statuses, ok := body["statuses"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), statuses[string(jobqueue.JobStatusPending)])
	assert.Equal(t, float64(1), statuses[string(jobqueue.JobStatusCompleted)])
}

func TestJobStatusUnknownJob(t *testing.T) {
	store := newFakeCreditStore()
	dispatcher := &captureDispatcher{}
	app := newGenerateApp(store, &fakeSessionVerifier{}, dispatcher)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
