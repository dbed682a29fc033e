package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cravvr/internal/apperr"

	"github.com/google/uuid"
)

// SandboxProvider is an in-memory provider used when no Stripe key is configured.
// Idempotency keys are honored the same way the real provider honors them.
type SandboxProvider struct {
	mu          sync.Mutex
	intents     map[string]*Intent
	refunds     map[string]*Refund
	accounts    map[string]string
	failures    map[string]error
	lastIntent  IntentRequest
	lastRefund  RefundRequest
	IntentCalls int
	RefundCalls int
}

// NewSandboxProvider creates an empty sandbox
func NewSandboxProvider() *SandboxProvider {
	return &SandboxProvider{
		intents:  make(map[string]*Intent),
		refunds:  make(map[string]*Refund),
		accounts: make(map[string]string),
		failures: make(map[string]error),
	}
}

// FailNext makes the next call of the named operation fail with a provider error.
// Operations: "account", "link", "intent", "refund".
func (s *SandboxProvider) FailNext(op, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = apperr.Provider(op+" failed", fmt.Errorf("%s", message))
}

func (s *SandboxProvider) takeFailure(op string) error {
	err := s.failures[op]
	delete(s.failures, op)
	return err
}

func (s *SandboxProvider) CreateConnectedAccount(ctx context.Context, truckID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("account"); err != nil {
		return "", err
	}
	if id, ok := s.accounts[truckID.String()]; ok {
		return id, nil
	}
	id := "acct_sandbox_" + uuid.NewString()[:8]
	s.accounts[truckID.String()] = id
	return id, nil
}

func (s *SandboxProvider) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("link"); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://connect.sandbox.local/setup/%s?return=%s", accountID, returnURL), nil
}

func (s *SandboxProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IntentCalls++
	s.lastIntent = req
	if err := s.takeFailure("intent"); err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if in, ok := s.intents[req.IdempotencyKey]; ok {
			return in, nil
		}
	}
	id := "pi_sandbox_" + uuid.NewString()[:12]
	in := &Intent{ID: id, ClientSecret: id + "_secret"}
	if req.IdempotencyKey != "" {
		s.intents[req.IdempotencyKey] = in
	}
	return in, nil
}

func (s *SandboxProvider) RefundPayment(ctx context.Context, req RefundRequest) (*Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RefundCalls++
	s.lastRefund = req
	if err := s.takeFailure("refund"); err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if r, ok := s.refunds[req.IdempotencyKey]; ok {
			return r, nil
		}
	}
	r := &Refund{ID: "re_sandbox_" + uuid.NewString()[:12], Status: "succeeded"}
	if req.IdempotencyKey != "" {
		s.refunds[req.IdempotencyKey] = r
	}
	return r, nil
}

// ParseWebhook accepts unsigned JSON-encoded WebhookEvent payloads
func (s *SandboxProvider) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, apperr.New(apperr.Invalid, "invalid webhook payload")
	}
	return &ev, nil
}

// Calls returns the number of intent and refund calls made so far
func (s *SandboxProvider) Calls() (intents, refunds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.IntentCalls, s.RefundCalls
}

// LastRequests returns the most recent intent and refund requests
func (s *SandboxProvider) LastRequests() (IntentRequest, RefundRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIntent, s.lastRefund
}
