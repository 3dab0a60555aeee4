// Package reconcile applies verified gateway payment outcomes.
//
// Deliveries are untrusted and may be duplicated or reordered. Every delivery
// re-verifies the payment with the gateway and then goes through guards that
// make repeating an already applied outcome a no-op.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"splitpay-api/claims"
	"splitpay-api/gateway"
	"splitpay-api/ledger"
	"splitpay-api/models"
	"splitpay-api/statemachine"

	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome is what a delivery did
type Outcome string

const (
	OutcomeIgnored          Outcome = "ignored"
	OutcomeInvalid          Outcome = "invalid"
	OutcomeUnresolved       Outcome = "unresolved"
	OutcomeUnknownReference Outcome = "unknown_reference"
	OutcomeTenantMismatch   Outcome = "tenant_mismatch"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeSettled          Outcome = "settled"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomePending          Outcome = "pending"
	OutcomeReleased         Outcome = "released"
	OutcomeFailed           Outcome = "failed"
	OutcomeNoop             Outcome = "noop"
	OutcomeOrphaned         Outcome = "orphaned_payment"
	OutcomeError            Outcome = "error"
)

// Verifier re-fetches a payment from whichever credential owns it
type Verifier interface {
	Verify(ctx context.Context, paymentID string, preferOrg uint) (*gateway.VerifiedPayment, gateway.Credential, error)
}

// Report summarizes one delivery
type Report struct {
	Outcome   Outcome
	PaymentID string
	Reference string
	Processor models.ProcessorType
	Err       error
}

type Reconciler struct {
	db       *gorm.DB
	claims   *claims.Store
	ledger   *ledger.Ledger
	verifier Verifier
	notifier claims.Notifier
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group
}

func New(db *gorm.DB, store *claims.Store, l *ledger.Ledger, verifier Verifier, notifier claims.Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		db:       db,
		claims:   store,
		ledger:   l,
		verifier: verifier,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one delivery and records it. It never panics on bad input
// and its result is never surfaced to the gateway.
func (r *Reconciler) Handle(ctx context.Context, n Notification) Report {
	var report Report
	switch {
	case !n.IsPayment():
		report = Report{Outcome: OutcomeIgnored}
	case n.PaymentID == "":
		report = Report{Outcome: OutcomeInvalid, Err: ErrNoPaymentID}
	default:
		// identical concurrent deliveries share one verification and one application;
		// only the caller whose function ran reports what it applied
		leader := false
		v, _, _ := r.group.Do(n.PaymentID, func() (any, error) {
			leader = true
			return r.process(ctx, n.PaymentID), nil
		})
		report = v.(Report)
		if !leader {
			report = followerReport(report)
		}
	}
	report.PaymentID = n.PaymentID
	r.record(ctx, n, report)
	return report
}

// followerReport is what a delivery merged into another one observed: the
// state change already happened, so it applied nothing itself
func followerReport(leader Report) Report {
	switch leader.Outcome {
	case OutcomeSettled:
		leader.Outcome = OutcomeDuplicate
	case OutcomeReleased, OutcomePending, OutcomeFailed:
		leader.Outcome = OutcomeNoop
	}
	return leader
}

func (r *Reconciler) process(ctx context.Context, paymentID string) Report {
	payment, cred, err := r.verifier.Verify(ctx, paymentID, 0)
	if err != nil {
		r.logger.Warn("payment could not be verified", "payment_id", paymentID, "error", err)
		return Report{Outcome: OutcomeUnresolved, Err: err}
	}
	report := Report{Reference: payment.ExternalReference, Processor: cred.Processor}
	report.Outcome = OutcomeUnknownReference
	if payment.ExternalReference != "" {
		claim, err := r.claims.Find(ctx, payment.ExternalReference)
		switch {
		case err == nil:
			report.Outcome, report.Err = r.applyToClaim(ctx, claim, payment, cred)
		case errors.Is(err, claims.ErrClaimNotFound):
			report.Outcome, report.Err = r.applyToOrder(ctx, payment.ExternalReference, payment, cred)
		default:
			report.Outcome, report.Err = OutcomeError, err
		}
	}
	if report.Outcome == OutcomeUnknownReference {
		// the reference did not resolve; the payment may already be recorded on a claim
		claim, err := r.claims.FindByPaymentID(ctx, payment.PaymentID)
		switch {
		case err == nil:
			report.Reference = claim.ID
			report.Outcome, report.Err = r.applyToClaim(ctx, claim, payment, cred)
		case !errors.Is(err, claims.ErrClaimNotFound):
			report.Outcome, report.Err = OutcomeError, err
		}
	}
	if report.Err != nil && report.Outcome != OutcomeError {
		r.logger.Warn("payment delivery not applied", "payment_id", paymentID, "outcome", report.Outcome, "error", report.Err)
	}
	if report.Outcome == OutcomeError {
		r.logger.Error("payment reconciliation failed", "payment_id", paymentID, "reference", payment.ExternalReference, "error", report.Err)
	}
	return report
}

func (r *Reconciler) applyToClaim(ctx context.Context, claim *models.PaymentClaim, payment *gateway.VerifiedPayment, cred gateway.Credential) (Outcome, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", claim.OrderID).Error; err != nil {
		return OutcomeError, fmt.Errorf("load order of claim %s: %w", claim.ID, err)
	}
	if order.OrganizationID != cred.OrganizationID {
		r.logger.Error("payment verified under another organization's credential",
			"payment_id", payment.PaymentID, "claim_id", claim.ID, "claim_org", order.OrganizationID, "credential_org", cred.OrganizationID)
		return OutcomeTenantMismatch, nil
	}
	v := verification(payment, cred)

	switch {
	case payment.Status == gateway.StatusApproved:
		if claim.Status == models.ClaimPaid {
			if claim.PaymentID == payment.PaymentID {
				return OutcomeDuplicate, nil
			}
			return r.orphaned(ctx, claim, v, "claim already settled by payment "+claim.PaymentID), nil
		}
		if !claim.Status.IsActive() {
			return r.orphaned(ctx, claim, v, "claim is "+string(claim.Status)), nil
		}
		if payment.Amount > 0 && payment.Amount < claim.TotalToPay {
			r.logger.Error("approved amount is below the claim total",
				"payment_id", payment.PaymentID, "claim_id", claim.ID, "amount", payment.Amount, "total_to_pay", claim.TotalToPay)
			return OutcomeAmountMismatch, nil
		}
		settled, applied, err := r.claims.SettleAsPaid(ctx, claim.ID, v)
		if errors.Is(err, claims.ErrClaimNotActive) {
			// lost a race with expiry or cancellation
			latest, findErr := r.claims.Find(ctx, claim.ID)
			if findErr != nil {
				return OutcomeError, findErr
			}
			return r.orphaned(ctx, latest, v, "claim is "+string(latest.Status)), nil
		}
		if err != nil {
			return OutcomeError, err
		}
		if !applied {
			return OutcomeDuplicate, nil
		}
		r.logger.Info("claim settled",
			"claim_id", settled.ID, "order_id", settled.OrderID, "payment_id", payment.PaymentID, "amount", settled.ClaimedAmount)
		return OutcomeSettled, nil

	case payment.Status.IsPending():
		if !claim.Status.IsActive() {
			return OutcomeNoop, nil
		}
		if _, err := r.claims.MarkProcessing(ctx, claim.ID, string(payment.Status)); err != nil {
			return OutcomeError, err
		}
		return OutcomePending, nil

	case payment.Status.IsFailure():
		if claim.Status == models.ClaimPaid {
			// never un-settle; refunds and chargebacks are handled by staff
			if claim.PaymentID == payment.PaymentID {
				r.logger.Warn("settled payment later reported as "+string(payment.Status),
					"claim_id", claim.ID, "payment_id", payment.PaymentID)
			}
			return OutcomeNoop, nil
		}
		if !claim.Status.IsActive() {
			return OutcomeNoop, nil
		}
		_, changed, err := r.claims.Cancel(ctx, claim.ID, statemachine.ActorReconciler, "payment "+payment.PaymentID+" "+string(payment.Status))
		if err != nil {
			return OutcomeError, err
		}
		if !changed {
			return OutcomeNoop, nil
		}
		return OutcomeReleased, nil
	}
	return OutcomeNoop, fmt.Errorf("unhandled payment status %q", payment.Status)
}

// orphaned keeps the claim terminal and leaves a trace for a manual refund
func (r *Reconciler) orphaned(ctx context.Context, claim *models.PaymentClaim, v claims.Verification, reason string) Outcome {
	if _, err := r.claims.RecordPayment(ctx, claim.ID, v); err != nil {
		r.logger.Error("failed to record orphaned payment", "claim_id", claim.ID, "payment_id", v.PaymentID, "error", err)
	}
	r.logger.Error("approved payment has no active claim, refund required",
		"claim_id", claim.ID, "order_id", claim.OrderID, "payment_id", v.PaymentID, "reason", reason)
	return OutcomeOrphaned
}

// applyToOrder handles traditional full-bill payments referenced by order id.
// Writing the payment id is the idempotency guard: only the delivery that
// performs that write settles the order.
func (r *Reconciler) applyToOrder(ctx context.Context, orderID string, payment *gateway.VerifiedPayment, cred gateway.Credential) (Outcome, error) {
	var outcome Outcome
	var order models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = OutcomeUnknownReference
				return nil
			}
			return err
		}
		if order.OrganizationID != cred.OrganizationID {
			r.logger.Error("payment verified under another organization's credential",
				"payment_id", payment.PaymentID, "order_id", order.ID, "order_org", order.OrganizationID, "credential_org", cred.OrganizationID)
			outcome = OutcomeTenantMismatch
			return nil
		}

		switch {
		case payment.Status == gateway.StatusApproved:
			var err error
			outcome, err = r.settleOrder(tx, &order, payment, cred)
			return err
		case payment.Status.IsPending(), payment.Status.IsFailure():
			if order.Status == models.OrderPaid || order.Status == models.OrderCancelled {
				outcome = OutcomeNoop
				return nil
			}
			// order status is kept, the diner can retry the full bill
			if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
				Update("payment_status", string(payment.Status)).Error; err != nil {
				return err
			}
			if payment.Status.IsPending() {
				outcome = OutcomePending
			} else {
				outcome = OutcomeFailed
			}
			return nil
		}
		outcome = OutcomeNoop
		return fmt.Errorf("unhandled payment status %q", payment.Status)
	})
	if err != nil {
		return OutcomeError, err
	}
	if outcome == OutcomeSettled {
		r.logger.Info("order settled", "order_id", order.ID, "payment_id", payment.PaymentID, "total_paid", order.TotalPaid)
		if r.notifier != nil {
			r.notifier.OrderChanged(ledger.Summarize(&order))
		}
	}
	return outcome, nil
}

func (r *Reconciler) settleOrder(tx *gorm.DB, order *models.Order, payment *gateway.VerifiedPayment, cred gateway.Credential) (Outcome, error) {
	if due := order.TotalAmount - order.TotalPaid; !order.Status.IsTerminal() && payment.Amount > 0 && payment.Amount < due {
		r.logger.Error("approved amount is below the order total",
			"order_id", order.ID, "payment_id", payment.PaymentID, "amount", payment.Amount, "due", due)
		return OutcomeAmountMismatch, nil
	}
	res := tx.Model(&models.Order{}).
		Where("id = ? AND payment_id = ''", order.ID).
		Updates(map[string]any{
			"payment_id":        payment.PaymentID,
			"payment_processor": cred.Processor,
			"payment_status":    string(payment.Status),
			"payment_metadata":  rawJSON(payment.Raw),
		})
	if res.Error != nil {
		return OutcomeError, res.Error
	}
	if res.RowsAffected == 0 {
		if order.PaymentID == payment.PaymentID {
			return OutcomeDuplicate, nil
		}
		r.logger.Error("order already has a different payment, refund required",
			"order_id", order.ID, "payment_id", payment.PaymentID, "recorded_payment_id", order.PaymentID)
		return OutcomeOrphaned, nil
	}
	if order.Status == models.OrderCancelled || order.Status == models.OrderPaid {
		r.logger.Error("approved payment for a closed order, refund required",
			"order_id", order.ID, "payment_id", payment.PaymentID, "status", order.Status)
		return OutcomeOrphaned, nil
	}

	updated, err := r.ledger.ApplySettlement(tx, ledger.FromOrderDirect(order, payment.ProcessorFee, payment.MarketplaceFee))
	if err != nil {
		return OutcomeError, err
	}
	*order = updated
	return OutcomeSettled, nil
}

func (r *Reconciler) record(ctx context.Context, n Notification, report Report) {
	now := r.now()
	event := models.WebhookEvent{
		Processor:   string(report.Processor),
		Type:        n.Type,
		Action:      n.Action,
		PaymentID:   n.PaymentID,
		Payload:     rawJSON(n.Payload),
		Outcome:     string(report.Outcome),
		ProcessedAt: &now,
	}
	if report.Err != nil {
		event.Error = report.Err.Error()
	}
	// the delivery is acknowledged regardless, so a cancelled request context must not drop the record
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(&event).Error; err != nil {
		r.logger.Error("failed to record webhook event", "payment_id", n.PaymentID, "error", err)
	}
}

func verification(payment *gateway.VerifiedPayment, cred gateway.Credential) claims.Verification {
	return claims.Verification{
		Processor:      cred.Processor,
		PaymentID:      payment.PaymentID,
		Status:         string(payment.Status),
		ProcessorFee:   payment.ProcessorFee,
		MarketplaceFee: payment.MarketplaceFee,
		Metadata:       rawJSON(payment.Raw),
	}
}

func rawJSON(b []byte) datatypes.JSON {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return datatypes.JSON(b)
}
