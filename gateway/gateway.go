// Package gateway is the boundary to third-party payment processors.
//
// Processors are black boxes exposing two calls: create a payment intent and
// fetch the verified status of a payment by id. Nothing a notification or a
// redirect claims about a payment is trusted until FetchPayment confirms it.
package gateway

//go:generate mockgen -destination=gatewaymock/mock_gateway.go -package=gatewaymock splitpay-api/gateway Gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"splitpay-api/models"
)

var (
	ErrUnsupported     = errors.New("payment processor has no adapter")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrUnauthorized    = errors.New("processor rejected credentials")
	ErrTransient       = errors.New("processor temporarily unavailable")
	ErrUnresolved      = errors.New("no active credential resolved the payment")
	ErrNoCredential    = errors.New("organization has no active processor credential")
)

// Gateway is implemented by every processor adapter
type Gateway interface {
	CreateIntent(ctx context.Context, cred Credential, req IntentRequest) (*Intent, error)
	FetchPayment(ctx context.Context, cred Credential, paymentID string) (*VerifiedPayment, error)
}

// Credential is an opened ProcessorCredential
type Credential struct {
	ID             uint
	OrganizationID uint
	Processor      models.ProcessorType
	AccessToken    string
	PublicKey      string
}

// IntentRequest describes the payment the diner is sent to complete
type IntentRequest struct {
	Title             string
	Amount            int64 // minor units, the authoritative server-side total
	Currency          string
	ExternalReference string
	MarketplaceFee    int64
	Metadata          map[string]any
	NotificationURL   string
	SuccessURL        string
	FailureURL        string
	PendingURL        string
}

// Intent is the processor's handle on a created payment intent
type Intent struct {
	ID         string `json:"id"`
	PaymentURL string `json:"payment_url"`
}

// VerifiedPayment is a payment record as reported by the processor itself
type VerifiedPayment struct {
	PaymentID         string          `json:"payment_id"`
	Status            VerifiedStatus  `json:"status"`
	RawStatus         string          `json:"raw_status"`
	Amount            int64           `json:"amount"`
	Currency          string          `json:"currency"`
	ProcessorFee      int64           `json:"processor_fee"`
	MarketplaceFee    int64           `json:"marketplace_fee"`
	ExternalReference string          `json:"external_reference"`
	MerchantOrderID   string          `json:"merchant_order_id"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// VerifiedStatus is the closed set of payment outcomes the core acts on
type VerifiedStatus string

const (
	StatusApproved    VerifiedStatus = "approved"
	StatusPending     VerifiedStatus = "pending"
	StatusInProcess   VerifiedStatus = "in_process"
	StatusRejected    VerifiedStatus = "rejected"
	StatusCancelled   VerifiedStatus = "cancelled"
	StatusRefunded    VerifiedStatus = "refunded"
	StatusChargedBack VerifiedStatus = "charged_back"
)

// ParseVerifiedStatus maps processor status strings onto VerifiedStatus
func ParseVerifiedStatus(raw string) (VerifiedStatus, error) {
	switch raw {
	case "approved":
		return StatusApproved, nil
	case "pending":
		return StatusPending, nil
	case "in_process", "in_mediation", "authorized":
		return StatusInProcess, nil
	case "rejected":
		return StatusRejected, nil
	case "cancelled":
		return StatusCancelled, nil
	case "refunded":
		return StatusRefunded, nil
	case "charged_back":
		return StatusChargedBack, nil
	default:
		return "", fmt.Errorf("unknown payment status %q", raw)
	}
}

// IsFailure reports outcomes that release a reservation
func (s VerifiedStatus) IsFailure() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusRefunded, StatusChargedBack:
		return true
	}
	return false
}

// IsPending reports outcomes still awaiting the processor
func (s VerifiedStatus) IsPending() bool {
	return s == StatusPending || s == StatusInProcess
}

// Registry maps processor types to adapters
type Registry struct {
	adapters map[models.ProcessorType]Gateway
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[models.ProcessorType]Gateway{}}
}

func (r *Registry) Register(processor models.ProcessorType, g Gateway) {
	r.adapters[processor] = g
}

// Get returns the adapter for processor or ErrUnsupported
func (r *Registry) Get(processor models.ProcessorType) (Gateway, error) {
	g, ok := r.adapters[processor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, processor)
	}
	return g, nil
}
