package reconcile

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"splitpay-api/claims"
	"splitpay-api/gateway"
	"splitpay-api/ledger"
	"splitpay-api/models"
	"splitpay-api/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	clock   *testutil.Clock
	store   *claims.Store
	creds   *gateway.CredentialStore
	sandbox *gateway.Sandbox
	rec     *Reconciler
	org     models.Organization
	table   models.Table
	order   models.Order
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	org, table := testutil.SeedTable(t, db)
	order := testutil.SeedOrder(t, db, table, 100000)
	clock := testutil.NewClock(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	l := ledger.New(1)
	store := claims.NewStore(db, l, claims.Options{FixedFee: 800, Window: 5 * time.Minute, Now: clock.Now, Logger: logger})
	creds := gateway.NewCredentialStore(db, gateway.NewSealer("test-key"))
	_, err := creds.Save(context.Background(), org.ID, models.ProcessorSandbox, "sbx-venue", "")
	require.NoError(t, err)

	sandbox := gateway.NewSandbox("http://localhost:8080", 300)
	registry := gateway.NewRegistry()
	registry.Register(models.ProcessorSandbox, sandbox)
	resolver := gateway.NewResolver(creds, registry, time.Second, 25, logger)

	return &fixture{
		db:      db,
		clock:   clock,
		store:   store,
		creds:   creds,
		sandbox: sandbox,
		rec:     New(db, store, l, resolver, nil, logger),
		org:     org,
		table:   table,
		order:   order,
	}
}

// pay runs a sandbox checkout for reference under orgID's credential
func (f *fixture) pay(t *testing.T, orgID uint, reference string, amount int64, status gateway.VerifiedStatus) *gateway.VerifiedPayment {
	t.Helper()
	ctx := context.Background()
	cred, err := f.creds.ForOrganization(ctx, orgID)
	require.NoError(t, err)
	intent, err := f.sandbox.CreateIntent(ctx, cred, gateway.IntentRequest{
		Amount:            amount,
		Currency:          "CLP",
		ExternalReference: reference,
		MarketplaceFee:    200,
	})
	require.NoError(t, err)
	payment, err := f.sandbox.Pay(intent.ID, status)
	require.NoError(t, err)
	return payment
}

func (f *fixture) claim(t *testing.T, amount int64, session string) *models.PaymentClaim {
	t.Helper()
	claim, _, err := f.store.Create(context.Background(), f.order.ID, amount, session)
	require.NoError(t, err)
	return claim
}

func delivery(paymentID string) Notification {
	return Notification{Type: "payment", Action: "payment.updated", PaymentID: paymentID, Payload: []byte(`{"type":"payment","data":{"id":"` + paymentID + `"}}`)}
}

func TestHandle_DuplicateApprovalSettlesOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim := f.claim(t, 50000, "a")
	payment := f.pay(t, f.org.ID, claim.ID, claim.TotalToPay, gateway.StatusApproved)

	first := f.rec.Handle(ctx, delivery(payment.PaymentID))
	require.NoError(t, first.Err)
	assert.Equal(t, OutcomeSettled, first.Outcome)
	assert.Equal(t, models.ProcessorSandbox, first.Processor)

	second := f.rec.Handle(ctx, delivery(payment.PaymentID))
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	order := testutil.ReloadOrder(t, f.db, f.order.ID)
	assert.Equal(t, int64(50000), order.TotalPaid)
	assert.Zero(t, order.TotalClaimed)
	assert.Equal(t, payment.ProcessorFee, order.ProcessorFee)
	assert.Equal(t, int64(200), order.MarketplaceFee)
	assert.Equal(t, models.OrderPartiallyPaid, order.Status)

	stored := testutil.ReloadClaim(t, f.db, claim.ID)
	assert.Equal(t, models.ClaimPaid, stored.Status)
	assert.Equal(t, payment.PaymentID, stored.PaymentID)

	var events []models.WebhookEvent
	require.NoError(t, f.db.Where("payment_id = ?", payment.PaymentID).Order("id").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, string(OutcomeSettled), events[0].Outcome)
	assert.Equal(t, string(OutcomeDuplicate), events[1].Outcome)
	assert.Equal(t, "sandbox", events[0].Processor)
}

func TestHandle_ConcurrentDeliveries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim := f.claim(t, 100000, "a")
	payment := f.pay(t, f.org.ID, claim.ID, claim.TotalToPay, gateway.StatusApproved)

	var mu sync.Mutex
	settled := 0
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			report := f.rec.Handle(ctx, delivery(payment.PaymentID))
			if report.Outcome == OutcomeSettled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
			return report.Err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, settled)

	var events []models.WebhookEvent
	require.NoError(t, f.db.Where("payment_id = ?", payment.PaymentID).Find(&events).Error)
	require.Len(t, events, 8)
	recorded := map[string]int{}
	for _, e := range events {
		recorded[e.Outcome]++
	}
	assert.Equal(t, map[string]int{string(OutcomeSettled): 1, string(OutcomeDuplicate): 7}, recorded)

	order := testutil.ReloadOrder(t, f.db, f.order.ID)
	assert.Equal(t, int64(100000), order.TotalPaid)
	assert.Equal(t, models.OrderPaid, order.Status)
}

func TestHandle_TwoDinersPayTheBill(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := f.claim(t, 50000, "a")
	b := f.claim(t, 50000, "b")
	assert.Equal(t, int64(400), a.SplitFeePortion)
	assert.Equal(t, int64(400), b.SplitFeePortion)

	for _, c := range []*models.PaymentClaim{a, b} {
		p := f.pay(t, f.org.ID, c.ID, c.TotalToPay, gateway.StatusApproved)
		assert.Equal(t, OutcomeSettled, f.rec.Handle(ctx, delivery(p.PaymentID)).Outcome)
	}

	order := testutil.ReloadOrder(t, f.db, f.order.ID)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.Equal(t, order.TotalAmount, order.TotalPaid)
	assert.Zero(t, testutil.ActiveClaimSum(t, f.db, f.order.ID))
}

func TestHandle_PendingThenApprovedThenContradiction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim := f.claim(t, 30000, "a")
	payment := f.pay(t, f.org.ID, claim.ID, claim.TotalToPay, gateway.StatusInProcess)

	assert.Equal(t, OutcomePending, f.rec.Handle(ctx, delivery(payment.PaymentID)).Outcome)
	stored := testutil.ReloadClaim(t, f.db, claim.ID)
	assert.Equal(t, models.ClaimProcessing, stored.Status)
	assert.Zero(t, testutil.ReloadOrder(t, f.db, f.order.ID).ProcessorFee, "pending accrues no fees")

	require.NoError(t, f.sandbox.SetStatus(payment.PaymentID, gateway.StatusApproved))
	assert.Equal(t, OutcomeSettled, f.rec.Handle(ctx, delivery(payment.PaymentID)).Outcome)

	require.NoError(t, f.sandbox.SetStatus(payment.PaymentID, gateway.StatusRefunded))
	assert.Equal(t, OutcomeNoop, f.rec.Handle(ctx, delivery(payment.PaymentID)).Outcome)

	stored = testutil.ReloadClaim(t, f.db, claim.ID)
	assert.Equal(t, models.ClaimPaid, stored.Status, "a paid claim is never un-settled")
	order := testutil.ReloadOrder(t, f.db, f.order.ID)
	assert.Equal(t, int64(30000), order.TotalPaid)
	assert.Zero(t, order.TotalClaimed)
}

func TestHandle_RejectionReleasesOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim := f.claim(t, 30000, "a")
	payment := f.pay(t, f.org.ID, claim.ID, claim.TotalToPay, gateway.StatusRejected)

	assert.Equal(t, OutcomeReleased, f.rec.Handle(ctx, delivery(payment.PaymentID)).Outcome)
	assert.Equal(t, OutcomeNoop, f.rec.Handle(ctx, delivery(payment.PaymentID)).Outcome)

	assert.Equal(t, models.ClaimCancelled, testutil.ReloadClaim(t, f.db, claim.ID).Status)
	order := testutil.ReloadOrder(t, f.db, f.order.ID)
	assert.Zero(t, order.TotalClaimed)
	assert.Zero(t, order.TotalPaid)
}

func TestHandle_ApprovalForExpiredClaimIsOrphaned(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim := f.claim(t, 30000, "a")
	payment := f.pay(t, f.org.ID, claim.ID, claim.TotalToPay, gateway.StatusApproved)

	f.clock.Advance(10 * time.Minute)
	n, err := f.store.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	assert.Equal(t, OutcomeOrphaned, f.rec.Handle(ctx, delivery(payment.PaymentID)).Outcome)

	stored := testutil.ReloadClaim(t, f.db, claim.ID)
	assert.Equal(t, models.ClaimExpired, stored.Status)
	assert.Equal(t, payment.PaymentID, stored.PaymentID, "recorded for the refund")
	order := testutil.ReloadOrder(t, f.db, f.order.ID)
	assert.Zero(t, order.TotalPaid)
	assert.Zero(t, order.TotalClaimed)
}

func TestHandle_DirectOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", f.order.ID).Updates(map[string]any{
		"preference_id": "pref-direct",
		"status":        models.OrderPaymentStarted,
	}).Error)

	pending := f.pay(t, f.org.ID, f.order.ID, 100000, gateway.StatusPending)
	assert.Equal(t, OutcomePending, f.rec.Handle(ctx, delivery(pending.PaymentID)).Outcome)
	order := testutil.ReloadOrder(t, f.db, f.order.ID)
	assert.Equal(t, "pending", order.PaymentStatus)
	assert.Empty(t, order.PaymentID)

	approved := f.pay(t, f.org.ID, f.order.ID, 100000, gateway.StatusApproved)
	assert.Equal(t, OutcomeSettled, f.rec.Handle(ctx, delivery(approved.PaymentID)).Outcome)
	assert.Equal(t, OutcomeDuplicate, f.rec.Handle(ctx, delivery(approved.PaymentID)).Outcome)

	order = testutil.ReloadOrder(t, f.db, f.order.ID)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.Equal(t, int64(100000), order.TotalPaid)
	assert.Equal(t, approved.PaymentID, order.PaymentID)
	assert.Equal(t, approved.ProcessorFee, order.ProcessorFee)

	second := f.pay(t, f.org.ID, f.order.ID, 100000, gateway.StatusApproved)
	assert.Equal(t, OutcomeOrphaned, f.rec.Handle(ctx, delivery(second.PaymentID)).Outcome)
	assert.Equal(t, int64(100000), testutil.ReloadOrder(t, f.db, f.order.ID).TotalPaid)
}

func TestHandle_DirectOrderFailureKeepsStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", f.order.ID).Updates(map[string]any{
		"preference_id": "pref-direct",
		"status":        models.OrderPaymentStarted,
	}).Error)

	rejected := f.pay(t, f.org.ID, f.order.ID, 100000, gateway.StatusRejected)
	assert.Equal(t, OutcomeFailed, f.rec.Handle(ctx, delivery(rejected.PaymentID)).Outcome)
	order := testutil.ReloadOrder(t, f.db, f.order.ID)
	assert.Equal(t, models.OrderPaymentStarted, order.Status)
	assert.Equal(t, "rejected", order.PaymentStatus)
}

func TestHandle_SoftFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ignored := f.rec.Handle(ctx, Notification{Type: "merchant_order", PaymentID: "123"})
	assert.Equal(t, OutcomeIgnored, ignored.Outcome)

	invalid := f.rec.Handle(ctx, Notification{Type: "payment"})
	assert.Equal(t, OutcomeInvalid, invalid.Outcome)

	unresolved := f.rec.Handle(ctx, delivery("does-not-exist"))
	assert.Equal(t, OutcomeUnresolved, unresolved.Outcome)
	assert.ErrorIs(t, unresolved.Err, gateway.ErrUnresolved)

	stray := f.pay(t, f.org.ID, "not-a-claim-or-order", 1000, gateway.StatusApproved)
	assert.Equal(t, OutcomeUnknownReference, f.rec.Handle(ctx, delivery(stray.PaymentID)).Outcome)

	var count int64
	require.NoError(t, f.db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Equal(t, int64(4), count, "every delivery is recorded")
}

func TestHandle_TenantMismatch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	other, _ := testutil.SeedTable(t, f.db)
	_, err := f.creds.Save(ctx, other.ID, models.ProcessorSandbox, "sbx-other", "")
	require.NoError(t, err)

	claim := f.claim(t, 30000, "a")
	payment := f.pay(t, other.ID, claim.ID, claim.TotalToPay, gateway.StatusApproved)

	assert.Equal(t, OutcomeTenantMismatch, f.rec.Handle(ctx, delivery(payment.PaymentID)).Outcome)
	assert.Equal(t, models.ClaimReserved, testutil.ReloadClaim(t, f.db, claim.ID).Status)
}

func TestHandle_UnderpaidApprovalIsNotSettled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim := f.claim(t, 30000, "a")
	payment := f.pay(t, f.org.ID, claim.ID, claim.TotalToPay-1000, gateway.StatusApproved)

	assert.Equal(t, OutcomeAmountMismatch, f.rec.Handle(ctx, delivery(payment.PaymentID)).Outcome)
	assert.Equal(t, models.ClaimReserved, testutil.ReloadClaim(t, f.db, claim.ID).Status)
	assert.Zero(t, testutil.ReloadOrder(t, f.db, f.order.ID).TotalPaid)
}

func TestHandle_UnresolvedReferenceFallsBackToRecordedPaymentID(t *testing.T) {
	for _, reference := range []string{"", "stale-reference"} {
		t.Run("reference="+reference, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			claim := f.claim(t, 40000, "a")
			payment := f.pay(t, f.org.ID, reference, claim.TotalToPay, gateway.StatusApproved)
			recorded, err := f.store.RecordPayment(ctx, claim.ID, claims.Verification{
				Processor: models.ProcessorSandbox,
				PaymentID: payment.PaymentID,
				Status:    string(gateway.StatusPending),
			})
			require.NoError(t, err)
			require.True(t, recorded)

			report := f.rec.Handle(ctx, delivery(payment.PaymentID))
			assert.Equal(t, OutcomeSettled, report.Outcome)
			assert.Equal(t, claim.ID, report.Reference)
			assert.Equal(t, models.ClaimPaid, testutil.ReloadClaim(t, f.db, claim.ID).Status)
			assert.Equal(t, int64(40000), testutil.ReloadOrder(t, f.db, f.order.ID).TotalPaid)
		})
	}
}
