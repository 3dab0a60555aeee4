// Package checkout creates gateway payment intents for claims and full bills.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"splitpay-api/claims"
	"splitpay-api/gateway"
	"splitpay-api/ledger"
	"splitpay-api/models"
	"splitpay-api/money"
	"splitpay-api/statemachine"

	"gorm.io/gorm"
)

var (
	ErrQRNotFound             = errors.New("table not found")
	ErrClaimNotFound          = errors.New("claim not found")
	ErrClaimNotReserved       = errors.New("claim is no longer awaiting payment")
	ErrClaimExpired           = errors.New("claim reservation has expired")
	ErrProcessorNotConfigured = errors.New("online payments are not set up for this venue, please ask a member of staff")
	ErrProcessorUnsupported   = errors.New("the venue's payment processor is not supported yet, please ask a member of staff")
	ErrInvalidCart            = errors.New("invalid cart")
)

// Credentials looks up the processor credential a venue charges with
type Credentials interface {
	ForOrganization(ctx context.Context, orgID uint) (gateway.Credential, error)
}

type Options struct {
	PublicBaseURL     string
	Currency          string
	MarketplaceFeeBps int64
	Timeout           time.Duration
	Logger            *slog.Logger
}

type Initiator struct {
	db       *gorm.DB
	claims   *claims.Store
	ledger   *ledger.Ledger
	creds    Credentials
	registry *gateway.Registry
	opts     Options
}

func NewInitiator(db *gorm.DB, store *claims.Store, l *ledger.Ledger, creds Credentials, registry *gateway.Registry, opts Options) *Initiator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Initiator{db: db, claims: store, ledger: l, creds: creds, registry: registry, opts: opts}
}

// Result is what the diner needs to complete payment off-site
type Result struct {
	Success       bool                 `json:"success"`
	PaymentURL    string               `json:"paymentUrl"`
	PreferenceID  string               `json:"preferenceId"`
	ClaimID       string               `json:"claimId,omitempty"`
	OrderID       string               `json:"orderId,omitempty"`
	ProcessorType models.ProcessorType `json:"processorType"`
	Amount        int64                `json:"amount"`
}

type CartItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

// Cart is a full bill paid in one payment
type Cart struct {
	Items     []CartItem `json:"items"`
	Total     int64      `json:"total"`
	TipAmount int64      `json:"tipAmount"`
}

// Validate checks the cart and returns its item subtotal
func (c Cart) Validate() (int64, error) {
	if len(c.Items) == 0 {
		return 0, fmt.Errorf("%w: at least one item is required", ErrInvalidCart)
	}
	var subtotal int64
	for i, item := range c.Items {
		if strings.TrimSpace(item.Name) == "" {
			return 0, fmt.Errorf("%w: item %d has no name", ErrInvalidCart, i)
		}
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			return 0, fmt.Errorf("%w: item %q needs a positive quantity and price", ErrInvalidCart, item.Name)
		}
		subtotal += int64(item.Quantity) * item.UnitPrice
	}
	if c.TipAmount < 0 {
		return 0, fmt.Errorf("%w: tip cannot be negative", ErrInvalidCart)
	}
	if c.Total != subtotal+c.TipAmount {
		return 0, fmt.Errorf("%w: total %d does not match items %d plus tip %d", ErrInvalidCart, c.Total, subtotal, c.TipAmount)
	}
	return subtotal, nil
}

// ForClaim sends a reserved claim to the venue's processor for claim.totalToPay
func (i *Initiator) ForClaim(ctx context.Context, qrCode, claimID string) (*Result, error) {
	table, err := i.table(ctx, qrCode)
	if err != nil {
		return nil, err
	}
	claim, err := i.claims.Get(ctx, claimID)
	if errors.Is(err, claims.ErrClaimNotFound) {
		return nil, ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	var order models.Order
	if err := i.db.WithContext(ctx).First(&order, "id = ?", claim.OrderID).Error; err != nil {
		return nil, fmt.Errorf("load order of claim %s: %w", claim.ID, err)
	}
	if order.TableID != table.ID {
		return nil, ErrClaimNotFound
	}

	switch claim.Status {
	case models.ClaimReserved:
	case models.ClaimExpired:
		return nil, ErrClaimExpired
	default:
		return nil, fmt.Errorf("%w: claim is %s", ErrClaimNotReserved, claim.Status)
	}
	if claim.PreferenceID != "" && claim.PaymentURL != "" {
		return claimResult(claim), nil
	}

	cred, g, err := i.processor(ctx, order.OrganizationID)
	if err != nil {
		return nil, err
	}
	req := gateway.IntentRequest{
		Title:             fmt.Sprintf("%s · your share", table.Name),
		Amount:            claim.TotalToPay,
		Currency:          i.opts.Currency,
		ExternalReference: claim.ID,
		MarketplaceFee:    claim.SplitFeePortion + money.MarketplaceFee(claim.ClaimedAmount, i.opts.MarketplaceFeeBps),
		Metadata: map[string]any{
			"mode":            "split",
			"claim_id":        claim.ID,
			"order_id":        order.ID,
			"organization_id": order.OrganizationID,
			"table_id":        table.ID,
		},
	}
	i.callbacks(&req, table.QRCode)

	intent, err := i.createIntent(ctx, g, cred, req)
	if err != nil {
		return nil, err
	}
	err = i.claims.AttachPaymentIntent(ctx, claim.ID, cred.Processor, intent.ID, intent.PaymentURL)
	if errors.Is(err, claims.ErrIntentAlreadyAttached) {
		// a concurrent request won, hand out its intent
		stored, err := i.claims.Find(ctx, claim.ID)
		if err != nil {
			return nil, err
		}
		return claimResult(stored), nil
	}
	if err != nil {
		return nil, err
	}

	i.opts.Logger.Info("claim checkout started",
		"claim_id", claim.ID, "order_id", order.ID, "preference_id", intent.ID, "amount", claim.TotalToPay)
	return &Result{
		Success:       true,
		PaymentURL:    intent.PaymentURL,
		PreferenceID:  intent.ID,
		ClaimID:       claim.ID,
		ProcessorType: cred.Processor,
		Amount:        claim.TotalToPay,
	}, nil
}

// ForCart creates the order first so the intent can reference it, then sends
// the full total to the processor. The order is cancelled if that fails.
func (i *Initiator) ForCart(ctx context.Context, qrCode string, cart Cart) (*Result, error) {
	subtotal, err := cart.Validate()
	if err != nil {
		return nil, err
	}
	table, err := i.table(ctx, qrCode)
	if err != nil {
		return nil, err
	}
	cred, g, err := i.processor(ctx, table.OrganizationID)
	if err != nil {
		return nil, err
	}

	order := models.Order{
		OrganizationID:   table.OrganizationID,
		TableID:          table.ID,
		Status:           models.OrderOrdering,
		Subtotal:         subtotal,
		TipAmount:        cart.TipAmount,
		TotalAmount:      cart.Total,
		PaymentProcessor: cred.Processor,
	}
	for _, item := range cart.Items {
		order.Items = append(order.Items, models.OrderItem{Name: item.Name, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		return i.ledger.StartPayment(tx, &order, statemachine.ActorInitiator)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	req := gateway.IntentRequest{
		Title:             fmt.Sprintf("%s · full bill", table.Name),
		Amount:            order.TotalAmount,
		Currency:          i.opts.Currency,
		ExternalReference: order.ID,
		MarketplaceFee:    money.MarketplaceFee(order.TotalAmount, i.opts.MarketplaceFeeBps),
		Metadata: map[string]any{
			"mode":            "full",
			"order_id":        order.ID,
			"organization_id": order.OrganizationID,
			"table_id":        table.ID,
		},
	}
	i.callbacks(&req, table.QRCode)

	intent, err := i.createIntent(ctx, g, cred, req)
	if err != nil {
		cancelErr := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return i.ledger.Cancel(tx, &order, statemachine.ActorInitiator, "payment intent could not be created")
		})
		if cancelErr != nil {
			i.opts.Logger.Error("failed to cancel order after intent failure", "order_id", order.ID, "error", cancelErr)
		}
		return nil, err
	}

	err = i.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
		"preference_id": intent.ID,
		"payment_url":   intent.PaymentURL,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("attach intent to order %s: %w", order.ID, err)
	}

	i.opts.Logger.Info("full bill checkout started",
		"order_id", order.ID, "preference_id", intent.ID, "amount", order.TotalAmount)
	return &Result{
		Success:       true,
		PaymentURL:    intent.PaymentURL,
		PreferenceID:  intent.ID,
		OrderID:       order.ID,
		ProcessorType: cred.Processor,
		Amount:        order.TotalAmount,
	}, nil
}

func (i *Initiator) table(ctx context.Context, qrCode string) (*models.Table, error) {
	var table models.Table
	if err := i.db.WithContext(ctx).First(&table, "qr_code = ?", qrCode).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQRNotFound
		}
		return nil, err
	}
	return &table, nil
}

func (i *Initiator) processor(ctx context.Context, orgID uint) (gateway.Credential, gateway.Gateway, error) {
	cred, err := i.creds.ForOrganization(ctx, orgID)
	if errors.Is(err, gateway.ErrNoCredential) {
		return cred, nil, ErrProcessorNotConfigured
	}
	if err != nil {
		return cred, nil, err
	}
	g, err := i.registry.Get(cred.Processor)
	if errors.Is(err, gateway.ErrUnsupported) {
		return cred, nil, fmt.Errorf("%w (%s)", ErrProcessorUnsupported, cred.Processor)
	}
	return cred, g, err
}

func (i *Initiator) createIntent(ctx context.Context, g gateway.Gateway, cred gateway.Credential, req gateway.IntentRequest) (*gateway.Intent, error) {
	// never retried, a second intent would let the diner pay twice
	callCtx, cancel := context.WithTimeout(ctx, i.opts.Timeout)
	defer cancel()
	intent, err := g.CreateIntent(callCtx, cred, req)
	if err != nil {
		i.opts.Logger.Error("payment intent creation failed",
			"external_reference", req.ExternalReference, "processor", cred.Processor, "error", err)
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return intent, nil
}

func (i *Initiator) callbacks(req *gateway.IntentRequest, qrCode string) {
	base := i.opts.PublicBaseURL
	req.NotificationURL = base + "/api/webhooks/payments"
	req.SuccessURL = fmt.Sprintf("%s/tables/%s/checkout/success", base, qrCode)
	req.FailureURL = fmt.Sprintf("%s/tables/%s/checkout/failure", base, qrCode)
	req.PendingURL = fmt.Sprintf("%s/tables/%s/checkout/pending", base, qrCode)
}

func claimResult(c *models.PaymentClaim) *Result {
	return &Result{
		Success:       true,
		PaymentURL:    c.PaymentURL,
		PreferenceID:  c.PreferenceID,
		ClaimID:       c.ID,
		ProcessorType: c.PaymentProcessor,
		Amount:        c.TotalToPay,
	}
}
