package gateway

import (
	"context"
	"testing"

	"splitpay-api/models"
	"splitpay-api/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialStore_SaveRotatesActive(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	org, _ := testutil.SeedTable(t, db)
	store := NewCredentialStore(db, NewSealer("k"))

	first, err := store.Save(ctx, org.ID, models.ProcessorMercadoPago, "tok-1", "pk-1")
	require.NoError(t, err)
	second, err := store.Save(ctx, org.ID, models.ProcessorSandbox, "tok-2", "pk-2")
	require.NoError(t, err)

	active, err := store.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.NotEqual(t, first.ID, active[0].ID)

	cred, err := store.ForOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", cred.AccessToken)
	assert.Equal(t, models.ProcessorSandbox, cred.Processor)
}

func TestCredentialStore_NotConfigured(t *testing.T) {
	db := testutil.NewDB(t)
	org, _ := testutil.SeedTable(t, db)
	_, err := NewCredentialStore(db, NewSealer("k")).ForOrganization(context.Background(), org.ID)
	assert.ErrorIs(t, err, ErrNoCredential)
}
