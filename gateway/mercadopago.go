package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"splitpay-api/money"

	"github.com/shopspring/decimal"
)

// MercadoPago talks to the Checkout Pro preferences and payments APIs
type MercadoPago struct {
	baseURL  string
	decimals int32
	client   *http.Client
}

func NewMercadoPago(baseURL string, currencyDecimals int32, client *http.Client) *MercadoPago {
	if client == nil {
		client = http.DefaultClient
	}
	return &MercadoPago{baseURL: strings.TrimRight(baseURL, "/"), decimals: currencyDecimals, client: client}
}

type mpItem struct {
	ID         string      `json:"id,omitempty"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id"`
}

type mpBackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type mpPreferenceRequest struct {
	Items             []mpItem       `json:"items"`
	ExternalReference string         `json:"external_reference"`
	NotificationURL   string         `json:"notification_url,omitempty"`
	BackURLs          mpBackURLs     `json:"back_urls"`
	AutoReturn        string         `json:"auto_return,omitempty"`
	MarketplaceFee    json.Number    `json:"marketplace_fee"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpFeeDetail struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

type mpPayment struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	ExternalReference string          `json:"external_reference"`
	FeeDetails        []mpFeeDetail   `json:"fee_details"`
	Order             struct {
		ID json.Number `json:"id"`
	} `json:"order"`
}

func (m *MercadoPago) CreateIntent(ctx context.Context, cred Credential, req IntentRequest) (*Intent, error) {
	body := mpPreferenceRequest{
		Items: []mpItem{{
			ID:         req.ExternalReference,
			Title:      req.Title,
			Quantity:   1,
			UnitPrice:  json.Number(money.ToMajor(req.Amount, m.decimals).String()),
			CurrencyID: req.Currency,
		}},
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
		BackURLs: mpBackURLs{
			Success: req.SuccessURL,
			Failure: req.FailureURL,
			Pending: req.PendingURL,
		},
		AutoReturn:     "approved",
		MarketplaceFee: json.Number(money.ToMajor(req.MarketplaceFee, m.decimals).String()),
		Metadata:       req.Metadata,
	}
	var resp mpPreferenceResponse
	if err := m.do(ctx, cred, http.MethodPost, "/checkout/preferences", body, &resp); err != nil {
		return nil, fmt.Errorf("create preference: %w", err)
	}
	paymentURL := resp.InitPoint
	if paymentURL == "" {
		paymentURL = resp.SandboxInitPoint
	}
	return &Intent{ID: resp.ID, PaymentURL: paymentURL}, nil
}

func (m *MercadoPago) FetchPayment(ctx context.Context, cred Credential, paymentID string) (*VerifiedPayment, error) {
	var raw json.RawMessage
	if err := m.do(ctx, cred, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	var p mpPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", paymentID, err)
	}
	status, err := ParseVerifiedStatus(p.Status)
	if err != nil {
		return nil, err
	}
	verified := &VerifiedPayment{
		PaymentID:         p.ID.String(),
		Status:            status,
		RawStatus:         p.Status,
		Amount:            money.FromMajor(p.TransactionAmount, m.decimals),
		Currency:          p.CurrencyID,
		ExternalReference: p.ExternalReference,
		MerchantOrderID:   p.Order.ID.String(),
		Raw:               raw,
	}
	for _, fee := range p.FeeDetails {
		switch fee.Type {
		case "mercadopago_fee":
			verified.ProcessorFee += money.FromMajor(fee.Amount, m.decimals)
		case "application_fee":
			verified.MarketplaceFee += money.FromMajor(fee.Amount, m.decimals)
		}
	}
	return verified, nil
}

func (m *MercadoPago) do(ctx context.Context, cred Credential, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrPaymentNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("processor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}
