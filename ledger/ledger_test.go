package ledger

import (
	"testing"

	"splitpay-api/models"
	"splitpay-api/statemachine"
	"splitpay-api/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setup(t *testing.T, total int64) (*gorm.DB, *Ledger, models.Order) {
	t.Helper()
	db := testutil.NewDB(t)
	_, table := testutil.SeedTable(t, db)
	order := testutil.SeedOrder(t, db, table, total)
	return db, New(1), order
}

func TestReserve_IncrementsAndStartsPayment(t *testing.T) {
	db, l, order := setup(t, 100000)

	got, err := l.Reserve(db, order.ID, 30000)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), got.TotalClaimed)
	assert.Equal(t, int64(70000), got.Remaining())
	assert.Equal(t, models.OrderPaymentStarted, got.Status)
	assert.True(t, got.Locked)

	var events []models.PaymentEvent
	require.NoError(t, db.Where("order_id = ?", order.ID).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, string(models.OrderPaymentStarted), events[0].ToStatus)
}

func TestReserve_InsufficientReportsRemaining(t *testing.T) {
	db, l, order := setup(t, 100000)

	_, err := l.Reserve(db, order.ID, 30000)
	require.NoError(t, err)

	got, err := l.Reserve(db, order.ID, 80000)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, int64(70000), got.Remaining())
	assert.Equal(t, int64(30000), testutil.ReloadOrder(t, db, order.ID).TotalClaimed)
}

func TestReserve_CancelledOrder(t *testing.T) {
	db, l, order := setup(t, 100000)
	require.NoError(t, l.Cancel(db, &order, statemachine.ActorStaff, "closed"))

	_, err := l.Reserve(db, order.ID, 100)
	assert.ErrorIs(t, err, ErrOrderClosed)
}

func TestReserve_UnknownOrder(t *testing.T) {
	db, l, _ := setup(t, 100000)
	_, err := l.Reserve(db, "missing", 100)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRelease(t *testing.T) {
	db, l, order := setup(t, 100000)
	_, err := l.Reserve(db, order.ID, 30000)
	require.NoError(t, err)

	got, err := l.Release(db, order.ID, 30000)
	require.NoError(t, err)
	assert.Zero(t, got.TotalClaimed)
	assert.Equal(t, models.OrderPaymentStarted, got.Status, "release touches nothing but totalClaimed")

	_, err = l.Release(db, order.ID, 1)
	assert.ErrorIs(t, err, ErrRollupConflict)
}

func TestApplySettlement_TwoHalves(t *testing.T) {
	db, l, order := setup(t, 100000)
	for i := 0; i < 2; i++ {
		_, err := l.Reserve(db, order.ID, 50000)
		require.NoError(t, err)
	}

	claim := &models.PaymentClaim{ID: "c1", OrderID: order.ID, ClaimedAmount: 50000, ProcessorFee: 1500, MarketplaceFee: 400}
	got, err := l.ApplySettlement(db, FromClaim(claim))
	require.NoError(t, err)
	assert.Equal(t, models.OrderPartiallyPaid, got.Status)
	assert.Equal(t, int64(50000), got.TotalPaid)
	assert.Equal(t, int64(50000), got.TotalClaimed)

	claim.ID = "c2"
	got, err = l.ApplySettlement(db, FromClaim(claim))
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
	assert.Equal(t, int64(100000), got.TotalPaid)
	assert.Zero(t, got.TotalClaimed)
	assert.Equal(t, int64(3000), got.ProcessorFee)
	assert.Equal(t, int64(800), got.MarketplaceFee)
	assert.NotNil(t, got.PaidAt)
}

func TestApplySettlement_OrderDirect(t *testing.T) {
	db, l, order := setup(t, 42000)
	require.NoError(t, l.StartPayment(db, &order, statemachine.ActorInitiator))

	got, err := l.ApplySettlement(db, FromOrderDirect(&order, 1200, 0))
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
	assert.Equal(t, int64(42000), got.TotalPaid)
	assert.Zero(t, got.TotalClaimed)
	assert.Equal(t, int64(1200), got.ProcessorFee)
}

func TestApplySettlement_WithinTolerance(t *testing.T) {
	db, l, order := setup(t, 100000)
	_, err := l.Reserve(db, order.ID, 99999)
	require.NoError(t, err)

	got, err := l.ApplySettlement(db, Settlement{OrderID: order.ID, Principal: 99999, Reserved: 99999})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.Status)
}

func TestApplySettlement_NeverOverpays(t *testing.T) {
	db, l, order := setup(t, 1000)
	_, err := l.Reserve(db, order.ID, 1000)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := l.ApplySettlement(tx, Settlement{OrderID: order.ID, Principal: 1000, Reserved: 1000}); err != nil {
			return err
		}
		_, err := l.ApplySettlement(tx, Settlement{OrderID: order.ID, Principal: 1000, Reserved: 0})
		return err
	})
	assert.ErrorIs(t, err, ErrRollupConflict)

	got := testutil.ReloadOrder(t, db, order.ID)
	assert.Zero(t, got.TotalPaid, "failed transaction rolls back the first settlement too")
	assert.Equal(t, int64(1000), got.TotalClaimed)
}

func TestSummarize(t *testing.T) {
	o := &models.Order{ID: "o1", TotalAmount: 100000, TotalClaimed: 30000, TotalPaid: 20000, Status: models.OrderPartiallyPaid}
	s := Summarize(o)
	assert.Equal(t, int64(50000), s.Remaining)
	assert.Equal(t, models.OrderPartiallyPaid, s.Status)
}
