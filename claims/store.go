// Package claims owns PaymentClaim rows: reservation, transitions and expiry.
//
// Claims are never deleted. Each transition is guarded by the claim's current
// status in the UPDATE itself, so a transition can only ever be applied once no
// matter how many deliveries race to apply it.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"splitpay-api/ledger"
	"splitpay-api/models"
	"splitpay-api/money"
	"splitpay-api/statemachine"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Notifier is told about order balance changes after they commit
type Notifier interface {
	OrderChanged(summary ledger.Summary)
}

type Options struct {
	FixedFee int64
	Window   time.Duration
	Now      func() time.Time
	Notifier Notifier
	Logger   *slog.Logger
}

type Store struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	fixedFee int64
	window   time.Duration
	now      func() time.Time
	notifier Notifier
	logger   *slog.Logger
}

func NewStore(db *gorm.DB, l *ledger.Ledger, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		db:       db,
		ledger:   l,
		fixedFee: opts.FixedFee,
		window:   opts.Window,
		now:      opts.Now,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
}

// Verification is the part of a verified gateway record a claim keeps
type Verification struct {
	Processor      models.ProcessorType
	PaymentID      string
	Status         string
	ProcessorFee   int64
	MarketplaceFee int64
	Metadata       []byte
}

// Breakdown computes what a diner would pay for amount against order, without reserving
func (s *Store) Breakdown(order *models.Order, amount int64) (money.Breakdown, error) {
	return money.Calculate(order.TotalAmount, amount, s.fixedFee)
}

// Create reserves amount of the order's remaining balance for one diner session.
// The availability check and the increment of totalClaimed happen in one
// conditional update, so concurrent diners can never over-reserve.
func (s *Store) Create(ctx context.Context, orderID string, amount int64, sessionToken string) (*models.PaymentClaim, *models.Order, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if sessionToken == "" {
		return nil, nil, ErrSessionRequired
	}

	now := s.now()
	var claim models.PaymentClaim
	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if order.Status == models.OrderCancelled {
			return ErrOrderClosed
		}
		if order.IsDirect() {
			return ErrOrderPaidDirectly
		}

		if _, err := s.expireStale(tx, orderID, now); err != nil {
			return err
		}

		var existing models.PaymentClaim
		err := tx.Where("order_id = ? AND session_token = ? AND status IN ?", orderID, sessionToken, models.ActiveClaimStatuses).
			First(&existing).Error
		if err == nil {
			return &ActiveClaimError{ClaimID: existing.ID}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		breakdown, err := money.Calculate(order.TotalAmount, amount, s.fixedFee)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}

		order, err = s.ledger.Reserve(tx, orderID, amount)
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			return &AvailabilityError{Requested: amount, Remaining: order.Remaining()}
		case errors.Is(err, ledger.ErrOrderClosed):
			return ErrOrderClosed
		case err != nil:
			return err
		}

		claim = models.PaymentClaim{
			OrderID:         orderID,
			Status:          models.ClaimReserved,
			ClaimedAmount:   breakdown.ClaimedAmount,
			SplitFeePortion: breakdown.SplitFeePortion,
			TotalToPay:      breakdown.TotalToPay,
			SessionToken:    sessionToken,
			ClaimedAt:       now,
			ExpiresAt:       now.Add(s.window),
		}
		if err := tx.Create(&claim).Error; err != nil {
			return err
		}
		return tx.Create(&models.PaymentEvent{
			OrderID:  orderID,
			ClaimID:  claim.ID,
			ToStatus: string(models.ClaimReserved),
			Actor:    string(statemachine.ActorDiner),
			Note:     fmt.Sprintf("reserved %d of %d", amount, order.TotalAmount),
		}).Error
	})
	if err != nil {
		return nil, nil, err
	}
	s.notify(order)
	return &claim, &order, nil
}

// Get returns a claim, expiring it first if its reservation window has elapsed
func (s *Store) Get(ctx context.Context, id string) (*models.PaymentClaim, error) {
	claim, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claim.IsStale(s.now()) {
		return claim, nil
	}
	var order models.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockClaim(tx, id)
		if err != nil || !locked.IsStale(s.now()) {
			return err
		}
		order, err = s.expire(tx, locked)
		return err
	})
	if err != nil {
		return nil, err
	}
	if order.ID != "" {
		s.notify(order)
	}
	return s.Find(ctx, id)
}

// Find is a side-effect free lookup
func (s *Store) Find(ctx context.Context, id string) (*models.PaymentClaim, error) {
	var claim models.PaymentClaim
	if err := s.db.WithContext(ctx).First(&claim, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return &claim, nil
}

// FindByPaymentID finds the claim a verified gateway payment was recorded on
func (s *Store) FindByPaymentID(ctx context.Context, paymentID string) (*models.PaymentClaim, error) {
	if paymentID == "" {
		return nil, ErrClaimNotFound
	}
	var claim models.PaymentClaim
	if err := s.db.WithContext(ctx).First(&claim, "payment_id = ?", paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return &claim, nil
}

// ListByOrder returns all claims of an order, oldest first
func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]models.PaymentClaim, error) {
	var list []models.PaymentClaim
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("claimed_at asc").Find(&list).Error
	return list, err
}

// AttachPaymentIntent records the gateway intent created for a claim.
// Repeating the call with the same preference id is a no-op.
func (s *Store) AttachPaymentIntent(ctx context.Context, claimID string, processor models.ProcessorType, preferenceID, paymentURL string) error {
	res := s.db.WithContext(ctx).Model(&models.PaymentClaim{}).
		Where("id = ? AND (preference_id = '' OR preference_id = ?)", claimID, preferenceID).
		Updates(map[string]any{
			"payment_processor": processor,
			"preference_id":     preferenceID,
			"payment_url":       paymentURL,
		})
	if res.Error != nil {
		return fmt.Errorf("attach intent to claim %s: %w", claimID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Find(ctx, claimID); err != nil {
			return err
		}
		return ErrIntentAlreadyAttached
	}
	return nil
}

// RecordPayment writes the verified payment id and fee snapshot the first time
// one is seen. It reports whether this call did the write.
func (s *Store) RecordPayment(ctx context.Context, claimID string, v Verification) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.PaymentClaim{}).
		Where("id = ? AND payment_id = ''", claimID).
		Updates(map[string]any{
			"payment_id":        v.PaymentID,
			"payment_processor": v.Processor,
			"payment_status":    v.Status,
			"payment_metadata":  datatypes.JSON(v.Metadata),
			"processor_fee":     v.ProcessorFee,
			"marketplace_fee":   v.MarketplaceFee,
		})
	if res.Error != nil {
		return false, fmt.Errorf("record payment on claim %s: %w", claimID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkProcessing notes that the gateway is still working on the payment.
// It never touches the order ledger.
func (s *Store) MarkProcessing(ctx context.Context, claimID string, status string) (*models.PaymentClaim, error) {
	var claim *models.PaymentClaim
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if claim, err = lockClaim(tx, claimID); err != nil {
			return err
		}
		if !claim.Status.IsActive() {
			return nil
		}
		if err := tx.Model(&models.PaymentClaim{}).Where("id = ?", claimID).Update("payment_status", status).Error; err != nil {
			return err
		}
		claim.PaymentStatus = status
		if claim.Status == models.ClaimProcessing {
			return nil
		}
		_, err = s.transition(tx, claim, models.ClaimProcessing, statemachine.ActorReconciler, "gateway reported "+status, nil)
		return err
	})
	return claim, err
}

// SettleAsPaid moves an active claim to paid exactly once and rolls it into
// the order. Settling an already paid claim is a no-op, not an error.
func (s *Store) SettleAsPaid(ctx context.Context, claimID string, v Verification) (*models.PaymentClaim, bool, error) {
	var claim *models.PaymentClaim
	var order models.Order
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if claim, err = lockClaim(tx, claimID); err != nil {
			return err
		}
		if claim.Status == models.ClaimPaid {
			return nil
		}
		if !claim.Status.IsActive() {
			return fmt.Errorf("%w: claim %s is %s", ErrClaimNotActive, claimID, claim.Status)
		}

		now := s.now()
		extra := map[string]any{
			"paid_at":         now,
			"payment_status":  v.Status,
			"processor_fee":   v.ProcessorFee,
			"marketplace_fee": v.MarketplaceFee,
		}
		if claim.PaymentID == "" {
			extra["payment_id"] = v.PaymentID
			extra["payment_processor"] = v.Processor
			extra["payment_metadata"] = datatypes.JSON(v.Metadata)
			claim.PaymentID = v.PaymentID
		}
		ok, err := s.transition(tx, claim, models.ClaimPaid, statemachine.ActorReconciler, "payment "+v.PaymentID+" approved", extra)
		if err != nil || !ok {
			return err
		}
		claim.PaidAt = &now
		claim.ProcessorFee = v.ProcessorFee
		claim.MarketplaceFee = v.MarketplaceFee
		claim.PaymentStatus = v.Status

		if order, err = s.ledger.ApplySettlement(tx, ledger.FromClaim(claim)); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.notify(order)
	}
	return claim, applied, nil
}

// Cancel moves an active claim to cancelled and releases its reservation.
// Cancelling a claim that is already terminal is a no-op.
func (s *Store) Cancel(ctx context.Context, claimID string, actor statemachine.Actor, note string) (*models.PaymentClaim, bool, error) {
	var claim *models.PaymentClaim
	var order models.Order
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if claim, err = lockClaim(tx, claimID); err != nil {
			return err
		}
		if !claim.Status.IsActive() {
			return nil
		}
		order, changed, err = s.release(tx, claim, models.ClaimCancelled, actor, note)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.notify(order)
	}
	return claim, changed, nil
}

// ExpireStale expires the order's lapsed reservations
func (s *Store) ExpireStale(ctx context.Context, orderID string) (int, error) {
	var touched []models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		touched, err = s.expireStale(tx, orderID, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.notifyLatest(touched)
	return len(touched), nil
}

// SweepExpired expires every lapsed reservation across all orders
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	return s.ExpireStale(ctx, "")
}

// CancelOrder closes a bill: active claims are cancelled and released first
func (s *Store) CancelOrder(ctx context.Context, orderID, note string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if order.Status == models.OrderCancelled {
			return nil
		}
		if order.Status == models.OrderPaid {
			return ErrOrderClosed
		}
		var active []models.PaymentClaim
		if err := tx.Where("order_id = ? AND status IN ?", orderID, models.ActiveClaimStatuses).Find(&active).Error; err != nil {
			return err
		}
		for i := range active {
			updated, changed, err := s.release(tx, &active[i], models.ClaimCancelled, statemachine.ActorStaff, note)
			if err != nil {
				return err
			}
			if changed {
				order = updated
			}
		}
		return s.ledger.Cancel(tx, &order, statemachine.ActorStaff, note)
	})
	if err != nil {
		return nil, err
	}
	s.notify(order)
	return &order, nil
}

func (s *Store) expireStale(tx *gorm.DB, orderID string, now time.Time) ([]models.Order, error) {
	q := tx.Where("status = ? AND payment_id = '' AND expires_at < ?", models.ClaimReserved, now)
	if orderID != "" {
		q = q.Where("order_id = ?", orderID)
	}
	var stale []models.PaymentClaim
	if err := q.Find(&stale).Error; err != nil {
		return nil, fmt.Errorf("find expired claims: %w", err)
	}
	var touched []models.Order
	for i := range stale {
		order, err := s.expire(tx, &stale[i])
		if err != nil {
			return nil, err
		}
		if order.ID != "" {
			touched = append(touched, order)
		}
	}
	return touched, nil
}

func (s *Store) expire(tx *gorm.DB, claim *models.PaymentClaim) (models.Order, error) {
	order, changed, err := s.release(tx, claim, models.ClaimExpired, statemachine.ActorSweeper, "reservation window elapsed")
	if err != nil || !changed {
		return models.Order{}, err
	}
	s.logger.Info("claim expired", "claim_id", claim.ID, "order_id", claim.OrderID, "amount", claim.ClaimedAmount)
	return order, nil
}

// release moves an active claim to expired or cancelled and gives its amount back
func (s *Store) release(tx *gorm.DB, claim *models.PaymentClaim, to models.ClaimStatus, actor statemachine.Actor, note string) (models.Order, bool, error) {
	ok, err := s.transition(tx, claim, to, actor, note, nil)
	if err != nil || !ok {
		return models.Order{}, false, err
	}
	order, err := s.ledger.Release(tx, claim.OrderID, claim.ClaimedAmount)
	if err != nil {
		return order, false, err
	}
	return order, true, nil
}

// transition applies one state machine edge guarded by the current status.
// It returns false when another writer moved the claim first.
func (s *Store) transition(tx *gorm.DB, claim *models.PaymentClaim, to models.ClaimStatus, actor statemachine.Actor, note string, extra map[string]any) (bool, error) {
	from := claim.Status
	if err := statemachine.Claims.CanTransition(from, to, actor); err != nil {
		return false, err
	}
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&models.PaymentClaim{}).Where("id = ? AND status = ?", claim.ID, from).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("claim %s %s → %s: %w", claim.ID, from, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	claim.Status = to
	event := models.PaymentEvent{
		OrderID:    claim.OrderID,
		ClaimID:    claim.ID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Actor:      string(actor),
		Note:       note,
	}
	if err := tx.Create(&event).Error; err != nil {
		return false, err
	}
	return true, nil
}

func lockClaim(tx *gorm.DB, id string) (*models.PaymentClaim, error) {
	var claim models.PaymentClaim
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&claim, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return &claim, nil
}

func (s *Store) notify(order models.Order) {
	if s.notifier == nil || order.ID == "" {
		return
	}
	s.notifier.OrderChanged(ledger.Summarize(&order))
}

// notifyLatest publishes the final state of each touched order once
func (s *Store) notifyLatest(orders []models.Order) {
	latest := map[string]models.Order{}
	var ids []string
	for _, o := range orders {
		if _, seen := latest[o.ID]; !seen {
			ids = append(ids, o.ID)
		}
		latest[o.ID] = o
	}
	for _, id := range ids {
		s.notify(latest[id])
	}
}
