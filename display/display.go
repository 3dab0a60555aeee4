// Package display renders the outcome of a checkout redirect.
//
// It is strictly read-only: redirects can be reloaded at will and can arrive
// before the webhook, so settlement stays with the reconciler.
package display

import (
	"context"
	"errors"
	"log/slog"

	"splitpay-api/claims"
	"splitpay-api/gateway"
	"splitpay-api/models"

	"gorm.io/gorm"
)

const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusError   = "error"
)

// Hints are the untrusted redirect query parameters
type Hints struct {
	PaymentID         string
	PreferenceID      string
	ExternalReference string
}

// Result is the human readable outcome, built only from verified data
type Result struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	PaymentID         string `json:"paymentId,omitempty"`
	ClaimID           string `json:"claimId,omitempty"`
	OrderID           string `json:"orderId,omitempty"`
	Amount            int64  `json:"amount"`
	OrderTotal        int64  `json:"orderTotal"`
	TotalPaid         int64  `json:"totalPaid"`
	Remaining         int64  `json:"remaining"`
	Unreserved        int64  `json:"unreserved"`
	Split             bool   `json:"split"`
	SettlementPending bool   `json:"settlementPending"`
}

// Verifier is the same re-verification the reconciler uses
type Verifier interface {
	Verify(ctx context.Context, paymentID string, preferOrg uint) (*gateway.VerifiedPayment, gateway.Credential, error)
}

type Resolver struct {
	db       *gorm.DB
	claims   *claims.Store
	verifier Verifier
	logger   *slog.Logger
}

func NewResolver(db *gorm.DB, store *claims.Store, verifier Verifier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{db: db, claims: store, verifier: verifier, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, hints Hints) Result {
	if hints.PaymentID == "" {
		return failure("We could not find a payment to confirm.")
	}

	payment, cred, err := r.verifier.Verify(ctx, hints.PaymentID, r.preferredOrg(ctx, hints))
	if err != nil {
		r.logger.Warn("redirect payment could not be verified", "payment_id", hints.PaymentID, "error", err)
		return failure("We could not confirm your payment with the processor. If you were charged, please ask a member of staff.")
	}

	res := Result{PaymentID: payment.PaymentID, Amount: payment.Amount}
	var order models.Order
	var claim *models.PaymentClaim
	claim, err = r.claims.Find(ctx, payment.ExternalReference)
	switch {
	case err == nil:
		res.ClaimID = claim.ID
		res.Split = true
		err = r.db.WithContext(ctx).First(&order, "id = ?", claim.OrderID).Error
	case errors.Is(err, claims.ErrClaimNotFound):
		err = r.db.WithContext(ctx).First(&order, "id = ?", payment.ExternalReference).Error
	}
	if err != nil || order.OrganizationID != cred.OrganizationID {
		r.logger.Warn("redirect payment references nothing we know",
			"payment_id", payment.PaymentID, "reference", payment.ExternalReference, "error", err)
		return failure("This payment does not belong to an open bill here. Please ask a member of staff.")
	}
	res.OrderID = order.ID
	res.OrderTotal = order.TotalAmount
	res.TotalPaid = order.TotalPaid
	// what the table still owes; reservations held by other diners are not paid yet
	res.Remaining = max(order.TotalAmount-order.TotalPaid, 0)
	res.Unreserved = order.Remaining()

	switch {
	case payment.Status == gateway.StatusApproved:
		res.Status = StatusSuccess
		if claim != nil {
			res.SettlementPending = claim.Status != models.ClaimPaid
		} else {
			res.SettlementPending = order.PaymentID != payment.PaymentID
		}
		if res.Split && res.Remaining > 0 {
			res.Message = "Your share has been paid. The rest of the table can keep paying."
		} else {
			res.Message = "Payment approved. Thank you!"
		}
	case payment.Status.IsPending():
		res.Status = StatusPending
		res.Message = "Your payment is being processed. This page will update when it is confirmed."
	case payment.Status == gateway.StatusRefunded || payment.Status == gateway.StatusChargedBack:
		res.Status = StatusError
		res.Message = "This payment was reversed after it was made. Please ask a member of staff about your refund."
	default:
		res.Status = StatusError
		res.Message = "Your payment was not completed. You have not been charged for this attempt."
	}
	return res
}

// preferredOrg orders the credential trial using the redirect hints. A wrong
// hint only costs extra lookups.
func (r *Resolver) preferredOrg(ctx context.Context, hints Hints) uint {
	db := r.db.WithContext(ctx)
	var orderID string
	if hints.ExternalReference != "" {
		if claim, err := r.claims.Find(ctx, hints.ExternalReference); err == nil {
			orderID = claim.OrderID
		} else {
			orderID = hints.ExternalReference
		}
	} else if hints.PreferenceID != "" {
		var claim models.PaymentClaim
		if err := db.Select("order_id").Where("preference_id = ?", hints.PreferenceID).Limit(1).Find(&claim).Error; err == nil && claim.OrderID != "" {
			orderID = claim.OrderID
		} else {
			var order models.Order
			if err := db.Select("id").Where("preference_id = ?", hints.PreferenceID).Limit(1).Find(&order).Error; err == nil {
				orderID = order.ID
			}
		}
	}
	if orderID == "" {
		return 0
	}
	var order models.Order
	if err := db.Select("organization_id").Where("id = ?", orderID).Limit(1).Find(&order).Error; err != nil {
		return 0
	}
	return order.OrganizationID
}

func failure(message string) Result {
	return Result{Status: StatusError, Message: message}
}
