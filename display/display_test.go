package display

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"splitpay-api/claims"
	"splitpay-api/gateway"
	"splitpay-api/ledger"
	"splitpay-api/models"
	"splitpay-api/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	store    *claims.Store
	creds    *gateway.CredentialStore
	sandbox  *gateway.Sandbox
	resolver *Resolver
	org      models.Organization
	order    models.Order
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	org, table := testutil.SeedTable(t, db)
	order := testutil.SeedOrder(t, db, table, 100000)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := claims.NewStore(db, ledger.New(1), claims.Options{FixedFee: 800, Window: 5 * time.Minute, Logger: logger})
	creds := gateway.NewCredentialStore(db, gateway.NewSealer("test-key"))
	_, err := creds.Save(context.Background(), org.ID, models.ProcessorSandbox, "sbx-venue", "")
	require.NoError(t, err)

	sandbox := gateway.NewSandbox("http://localhost:8080", 300)
	registry := gateway.NewRegistry()
	registry.Register(models.ProcessorSandbox, sandbox)
	verifier := gateway.NewResolver(creds, registry, time.Second, 25, logger)

	return &fixture{
		db:       db,
		store:    store,
		creds:    creds,
		sandbox:  sandbox,
		resolver: NewResolver(db, store, verifier, logger),
		org:      org,
		order:    order,
	}
}

func (f *fixture) pay(t *testing.T, reference string, amount int64, status gateway.VerifiedStatus) (*gateway.Intent, *gateway.VerifiedPayment) {
	t.Helper()
	ctx := context.Background()
	cred, err := f.creds.ForOrganization(ctx, f.org.ID)
	require.NoError(t, err)
	intent, err := f.sandbox.CreateIntent(ctx, cred, gateway.IntentRequest{Amount: amount, ExternalReference: reference})
	require.NoError(t, err)
	payment, err := f.sandbox.Pay(intent.ID, status)
	require.NoError(t, err)
	return intent, payment
}

type snapshot struct {
	order  models.Order
	claim  models.PaymentClaim
	events int64
}

func (f *fixture) snapshot(t *testing.T, claimID string) snapshot {
	t.Helper()
	var events int64
	require.NoError(t, f.db.Model(&models.PaymentEvent{}).Count(&events).Error)
	return snapshot{
		order:  testutil.ReloadOrder(t, f.db, f.order.ID),
		claim:  testutil.ReloadClaim(t, f.db, claimID),
		events: events,
	}
}

func TestResolve_ApprovedBeforeWebhookIsReadOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim, _, err := f.store.Create(ctx, f.order.ID, 50000, "a")
	require.NoError(t, err)
	intent, payment := f.pay(t, claim.ID, claim.TotalToPay, gateway.StatusApproved)

	before := f.snapshot(t, claim.ID)
	for i := 0; i < 3; i++ {
		res := f.resolver.Resolve(ctx, Hints{PaymentID: payment.PaymentID, PreferenceID: intent.ID, ExternalReference: claim.ID})
		assert.Equal(t, StatusSuccess, res.Status)
		assert.True(t, res.SettlementPending)
		assert.True(t, res.Split)
		assert.Equal(t, claim.ID, res.ClaimID)
		assert.Equal(t, f.order.ID, res.OrderID)
		assert.Equal(t, int64(50400), res.Amount)
		assert.Zero(t, res.TotalPaid)
	}
	after := f.snapshot(t, claim.ID)

	assert.Equal(t, before.events, after.events)
	assert.Equal(t, before.order.TotalPaid, after.order.TotalPaid)
	assert.Equal(t, before.order.TotalClaimed, after.order.TotalClaimed)
	assert.Equal(t, before.order.Status, after.order.Status)
	assert.Equal(t, before.claim.Status, after.claim.Status)
	assert.Empty(t, after.claim.PaymentID)
}

func TestResolve_AfterSettlement(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim, _, err := f.store.Create(ctx, f.order.ID, 50000, "a")
	require.NoError(t, err)
	_, payment := f.pay(t, claim.ID, claim.TotalToPay, gateway.StatusApproved)
	_, _, err = f.store.SettleAsPaid(ctx, claim.ID, claims.Verification{PaymentID: payment.PaymentID, Status: "approved"})
	require.NoError(t, err)

	res := f.resolver.Resolve(ctx, Hints{PaymentID: payment.PaymentID})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.False(t, res.SettlementPending)
	assert.Equal(t, int64(100000), res.OrderTotal)
	assert.Equal(t, int64(50000), res.TotalPaid)
	assert.Equal(t, int64(50000), res.Remaining)
	assert.Contains(t, res.Message, "rest of the table")
}

func TestResolve_RemainingCountsUnpaidReservations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, _, err := f.store.Create(ctx, f.order.ID, 60000, "a")
	require.NoError(t, err)
	_, _, err = f.store.Create(ctx, f.order.ID, 40000, "b")
	require.NoError(t, err)
	_, payment := f.pay(t, a.ID, a.TotalToPay, gateway.StatusApproved)
	_, _, err = f.store.SettleAsPaid(ctx, a.ID, claims.Verification{PaymentID: payment.PaymentID, Status: "approved"})
	require.NoError(t, err)

	res := f.resolver.Resolve(ctx, Hints{PaymentID: payment.PaymentID})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, int64(60000), res.TotalPaid)
	assert.Equal(t, int64(40000), res.Remaining)
	assert.Zero(t, res.Unreserved)
	assert.Contains(t, res.Message, "rest of the table")
}

func TestResolve_ReversedPaymentMessage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim, _, err := f.store.Create(ctx, f.order.ID, 30000, "a")
	require.NoError(t, err)
	_, payment := f.pay(t, claim.ID, claim.TotalToPay, gateway.StatusApproved)
	require.NoError(t, f.sandbox.SetStatus(payment.PaymentID, gateway.StatusRefunded))

	res := f.resolver.Resolve(ctx, Hints{PaymentID: payment.PaymentID})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "refund")
	assert.NotContains(t, res.Message, "not been charged")

	_, rejected := f.pay(t, claim.ID, claim.TotalToPay, gateway.StatusRejected)
	assert.Contains(t, f.resolver.Resolve(ctx, Hints{PaymentID: rejected.PaymentID}).Message, "not been charged")
}

func TestResolve_PendingAndRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim, _, err := f.store.Create(ctx, f.order.ID, 30000, "a")
	require.NoError(t, err)

	_, pending := f.pay(t, claim.ID, claim.TotalToPay, gateway.StatusInProcess)
	assert.Equal(t, StatusPending, f.resolver.Resolve(ctx, Hints{PaymentID: pending.PaymentID}).Status)

	_, rejected := f.pay(t, claim.ID, claim.TotalToPay, gateway.StatusRejected)
	assert.Equal(t, StatusError, f.resolver.Resolve(ctx, Hints{PaymentID: rejected.PaymentID}).Status)

	assert.Equal(t, models.ClaimReserved, testutil.ReloadClaim(t, f.db, claim.ID).Status, "display never cancels")
}

func TestResolve_DirectOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, payment := f.pay(t, f.order.ID, 100000, gateway.StatusApproved)

	res := f.resolver.Resolve(ctx, Hints{PaymentID: payment.PaymentID})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.False(t, res.Split)
	assert.Empty(t, res.ClaimID)
	assert.Equal(t, f.order.ID, res.OrderID)
	assert.True(t, res.SettlementPending)
}

func TestResolve_VerifiedReferenceWinsOverHint(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, _, err := f.store.Create(ctx, f.order.ID, 30000, "a")
	require.NoError(t, err)
	b, _, err := f.store.Create(ctx, f.order.ID, 20000, "b")
	require.NoError(t, err)
	_, payment := f.pay(t, a.ID, a.TotalToPay, gateway.StatusApproved)

	res := f.resolver.Resolve(ctx, Hints{PaymentID: payment.PaymentID, ExternalReference: b.ID})
	assert.Equal(t, a.ID, res.ClaimID)
}

func TestResolve_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.Equal(t, StatusError, f.resolver.Resolve(ctx, Hints{}).Status)

	res := f.resolver.Resolve(ctx, Hints{PaymentID: "forged"})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Message, "ask a member of staff")

	_, stray := f.pay(t, "unknown-reference", 1000, gateway.StatusApproved)
	assert.Equal(t, StatusError, f.resolver.Resolve(ctx, Hints{PaymentID: stray.PaymentID}).Status)
}
