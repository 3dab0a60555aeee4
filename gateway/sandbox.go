package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"splitpay-api/money"

	"github.com/google/uuid"
)

// Sandbox is an in-process processor for local development and tests.
// Payments are only visible to the access token that created their preference.
type Sandbox struct {
	mu              sync.Mutex
	checkoutBaseURL string
	processorFeeBps int64
	preferences     map[string]sandboxPreference
	payments        map[string]sandboxPayment
}

type sandboxPreference struct {
	request     IntentRequest
	accessToken string
}

type sandboxPayment struct {
	payment     VerifiedPayment
	accessToken string
}

func NewSandbox(checkoutBaseURL string, processorFeeBps int64) *Sandbox {
	return &Sandbox{
		checkoutBaseURL: strings.TrimRight(checkoutBaseURL, "/"),
		processorFeeBps: processorFeeBps,
		preferences:     map[string]sandboxPreference{},
		payments:        map[string]sandboxPayment{},
	}
}

func (s *Sandbox) CreateIntent(ctx context.Context, cred Credential, req IntentRequest) (*Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("sandbox: amount must be positive")
	}
	id := "sbx-pref-" + uuid.NewString()
	s.mu.Lock()
	s.preferences[id] = sandboxPreference{request: req, accessToken: cred.AccessToken}
	s.mu.Unlock()
	return &Intent{ID: id, PaymentURL: s.checkoutBaseURL + "/sandbox/checkout/" + id}, nil
}

func (s *Sandbox) FetchPayment(ctx context.Context, cred Credential, paymentID string) (*VerifiedPayment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if p.accessToken != cred.AccessToken {
		return nil, ErrPaymentNotFound
	}
	out := p.payment
	return &out, nil
}

// Pay simulates the diner completing the checkout for preferenceID
func (s *Sandbox) Pay(preferenceID string, status VerifiedStatus) (*VerifiedPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pref, ok := s.preferences[preferenceID]
	if !ok {
		return nil, fmt.Errorf("sandbox: unknown preference %s", preferenceID)
	}
	payment := VerifiedPayment{
		PaymentID:         "sbx-pay-" + uuid.NewString(),
		Status:            status,
		RawStatus:         string(status),
		Amount:            pref.request.Amount,
		Currency:          pref.request.Currency,
		ExternalReference: pref.request.ExternalReference,
		MerchantOrderID:   preferenceID,
	}
	if status == StatusApproved {
		payment.ProcessorFee = money.MarketplaceFee(pref.request.Amount, s.processorFeeBps)
		payment.MarketplaceFee = pref.request.MarketplaceFee
	}
	payment.Raw, _ = json.Marshal(map[string]any{
		"id":                 payment.PaymentID,
		"status":             payment.RawStatus,
		"transaction_amount": payment.Amount,
		"external_reference": payment.ExternalReference,
	})
	s.payments[payment.PaymentID] = sandboxPayment{payment: payment, accessToken: pref.accessToken}
	out := payment
	return &out, nil
}

// SetStatus moves an existing sandbox payment to a new status, e.g. a refund
func (s *Sandbox) SetStatus(paymentID string, status VerifiedStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	p.payment.Status = status
	p.payment.RawStatus = string(status)
	s.payments[paymentID] = p
	return nil
}

// Preference exposes a created preference's request, for tests and the dev checkout page
func (s *Sandbox) Preference(preferenceID string) (IntentRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.preferences[preferenceID]
	return p.request, ok
}
