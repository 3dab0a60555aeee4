package gateway

import (
	"testing"

	"splitpay-api/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerifiedStatus(t *testing.T) {
	tests := map[string]VerifiedStatus{
		"approved":     StatusApproved,
		"pending":      StatusPending,
		"in_process":   StatusInProcess,
		"in_mediation": StatusInProcess,
		"authorized":   StatusInProcess,
		"rejected":     StatusRejected,
		"cancelled":    StatusCancelled,
		"refunded":     StatusRefunded,
		"charged_back": StatusChargedBack,
	}
	for raw, want := range tests {
		got, err := ParseVerifiedStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseVerifiedStatus("approved_maybe")
	assert.Error(t, err)
}

func TestVerifiedStatusClasses(t *testing.T) {
	assert.True(t, StatusRefunded.IsFailure())
	assert.True(t, StatusChargedBack.IsFailure())
	assert.False(t, StatusApproved.IsFailure())
	assert.True(t, StatusInProcess.IsPending())
	assert.False(t, StatusRejected.IsPending())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	sbx := NewSandbox("http://localhost", 0)
	r.Register(models.ProcessorSandbox, sbx)

	g, err := r.Get(models.ProcessorSandbox)
	require.NoError(t, err)
	assert.Same(t, sbx, g)

	_, err = r.Get(models.ProcessorStripe)
	assert.ErrorIs(t, err, ErrUnsupported)
}
