// Package ledger owns the payment rollup fields of an Order.
//
// Every mutation of totalClaimed, totalPaid, the cumulative fees or the order
// payment status goes through this package, inside the caller's transaction.
// Each update is a single conditional UPDATE so concurrent writers cannot lose
// increments or push the order past its total.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"splitpay-api/models"
	"splitpay-api/statemachine"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrInsufficientBalance = errors.New("claimed amount exceeds remaining balance")
	ErrOrderClosed         = errors.New("order no longer accepts payments")
	ErrRollupConflict      = errors.New("order rollup precondition failed")
)

// Ledger applies claim outcomes to orders
type Ledger struct {
	// paid tolerance in minor units, absorbs rounding between gateway and bill
	tolerance int64
	now       func() time.Time
}

func New(tolerance int64) *Ledger {
	return &Ledger{tolerance: tolerance, now: time.Now}
}

// Settlement is a verified payment to roll into an order
type Settlement struct {
	OrderID        string
	ClaimID        string
	Principal      int64 // counts toward totalPaid
	Reserved       int64 // released from totalClaimed
	ProcessorFee   int64
	MarketplaceFee int64
}

// FromClaim builds the settlement of a paid claim. The split fee is platform
// revenue, only the principal pays down the bill.
func FromClaim(c *models.PaymentClaim) Settlement {
	return Settlement{
		OrderID:        c.OrderID,
		ClaimID:        c.ID,
		Principal:      c.ClaimedAmount,
		Reserved:       c.ClaimedAmount,
		ProcessorFee:   c.ProcessorFee,
		MarketplaceFee: c.MarketplaceFee,
	}
}

// FromOrderDirect builds the settlement of a traditional full-bill payment,
// equivalent to one claim over the whole order that never held a reservation.
func FromOrderDirect(o *models.Order, processorFee, marketplaceFee int64) Settlement {
	return Settlement{
		OrderID:        o.ID,
		Principal:      o.TotalAmount - o.TotalPaid,
		ProcessorFee:   processorFee,
		MarketplaceFee: marketplaceFee,
	}
}

// Reserve atomically adds amount to totalClaimed if the balance allows it.
// On ErrInsufficientBalance the returned order carries the current balance.
func (l *Ledger) Reserve(tx *gorm.DB, orderID string, amount int64) (models.Order, error) {
	res := tx.Model(&models.Order{}).
		Where("id = ? AND status NOT IN ? AND total_claimed + total_paid + ? <= total_amount",
			orderID, []models.OrderStatus{models.OrderPaid, models.OrderCancelled}, amount).
		Updates(map[string]any{
			"total_claimed": gorm.Expr("total_claimed + ?", amount),
			"locked":        true,
		})
	if res.Error != nil {
		return models.Order{}, fmt.Errorf("reserve on order %s: %w", orderID, res.Error)
	}
	order, err := load(tx, orderID)
	if err != nil {
		return order, err
	}
	if res.RowsAffected == 0 {
		if order.Status == models.OrderCancelled {
			return order, ErrOrderClosed
		}
		return order, ErrInsufficientBalance
	}
	if err := l.StartPayment(tx, &order, statemachine.ActorDiner); err != nil {
		return order, err
	}
	return order, nil
}

// StartPayment moves an order out of ordering the first time money is requested
func (l *Ledger) StartPayment(tx *gorm.DB, order *models.Order, actor statemachine.Actor) error {
	if order.Status != models.OrderOrdering {
		return nil
	}
	return l.transition(tx, order, models.OrderPaymentStarted, actor, "payment started")
}

// Release returns a reservation to the available balance
func (l *Ledger) Release(tx *gorm.DB, orderID string, amount int64) (models.Order, error) {
	res := tx.Model(&models.Order{}).
		Where("id = ? AND total_claimed >= ?", orderID, amount).
		Update("total_claimed", gorm.Expr("total_claimed - ?", amount))
	if res.Error != nil {
		return models.Order{}, fmt.Errorf("release on order %s: %w", orderID, res.Error)
	}
	order, err := load(tx, orderID)
	if err != nil {
		return order, err
	}
	if res.RowsAffected == 0 {
		return order, fmt.Errorf("%w: release %d from claimed %d on order %s",
			ErrRollupConflict, amount, order.TotalClaimed, orderID)
	}
	return order, nil
}

// ApplySettlement rolls a verified payment into the order and recomputes its
// status. Callers guarantee a settlement is applied at most once.
func (l *Ledger) ApplySettlement(tx *gorm.DB, s Settlement) (models.Order, error) {
	res := tx.Model(&models.Order{}).
		Where("id = ? AND status <> ? AND total_claimed >= ? AND total_paid + ? <= total_amount",
			s.OrderID, models.OrderCancelled, s.Reserved, s.Principal).
		Updates(map[string]any{
			"total_paid":      gorm.Expr("total_paid + ?", s.Principal),
			"total_claimed":   gorm.Expr("total_claimed - ?", s.Reserved),
			"processor_fee":   gorm.Expr("processor_fee + ?", s.ProcessorFee),
			"marketplace_fee": gorm.Expr("marketplace_fee + ?", s.MarketplaceFee),
		})
	if res.Error != nil {
		return models.Order{}, fmt.Errorf("settle on order %s: %w", s.OrderID, res.Error)
	}
	order, err := load(tx, s.OrderID)
	if err != nil {
		return order, err
	}
	if res.RowsAffected == 0 {
		return order, fmt.Errorf("%w: settle principal %d reserved %d on order %s (status %s, claimed %d, paid %d, total %d)",
			ErrRollupConflict, s.Principal, s.Reserved, s.OrderID, order.Status, order.TotalClaimed, order.TotalPaid, order.TotalAmount)
	}

	next := l.statusAfterPayment(&order)
	if next == order.Status {
		return order, nil
	}
	if order.Status == models.OrderOrdering {
		if err := l.StartPayment(tx, &order, statemachine.ActorInitiator); err != nil {
			return order, err
		}
	}
	note := "settlement"
	if s.ClaimID != "" {
		note = "settlement of claim " + s.ClaimID
	}
	if err := l.transition(tx, &order, next, statemachine.ActorReconciler, note); err != nil {
		return order, err
	}
	return order, nil
}

// Cancel closes an order; active claims must already have been released
func (l *Ledger) Cancel(tx *gorm.DB, order *models.Order, actor statemachine.Actor, note string) error {
	if order.Status == models.OrderCancelled {
		return nil
	}
	return l.transition(tx, order, models.OrderCancelled, actor, note)
}

func (l *Ledger) statusAfterPayment(o *models.Order) models.OrderStatus {
	switch {
	case o.TotalPaid >= o.TotalAmount-l.tolerance:
		return models.OrderPaid
	case o.TotalPaid > 0:
		return models.OrderPartiallyPaid
	default:
		return o.Status
	}
}

func (l *Ledger) transition(tx *gorm.DB, order *models.Order, to models.OrderStatus, actor statemachine.Actor, note string) error {
	from := order.Status
	if err := statemachine.Orders.CanTransition(from, to, actor); err != nil {
		return err
	}
	updates := map[string]any{"status": to}
	if to == models.OrderPaid {
		now := l.now()
		updates["paid_at"] = now
		order.PaidAt = &now
	}
	res := tx.Model(&models.Order{}).Where("id = ? AND status = ?", order.ID, from).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("order %s %s → %s: %w", order.ID, from, to, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s is no longer %s", ErrRollupConflict, order.ID, from)
	}
	order.Status = to
	event := models.PaymentEvent{
		OrderID:    order.ID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Actor:      string(actor),
		Note:       note,
	}
	return tx.Create(&event).Error
}

func load(tx *gorm.DB, orderID string) (models.Order, error) {
	var order models.Order
	if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return order, ErrOrderNotFound
		}
		return order, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}
