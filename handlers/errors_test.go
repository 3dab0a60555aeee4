package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"splitpay-api/checkout"
	"splitpay-api/claims"
	"splitpay-api/gateway"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func render(t *testing.T, err error) (int, map[string]any) {
	t.Helper()
	d := &Deps{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(c, d, err)

	body := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{claims.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{fmt.Errorf("create: %w", claims.ErrSessionRequired), http.StatusBadRequest, "session_required"},
		{checkout.ErrClaimExpired, http.StatusBadRequest, "claim_expired"},
		{checkout.ErrQRNotFound, http.StatusNotFound, "table_not_found"},
		{claims.ErrClaimNotFound, http.StatusNotFound, "claim_not_found"},
		{claims.ErrOrderClosed, http.StatusConflict, "order_closed"},
		{claims.ErrOrderPaidDirectly, http.StatusConflict, "order_paid_directly"},
		{checkout.ErrProcessorUnsupported, http.StatusNotImplemented, "processor_unsupported"},
		{checkout.ErrProcessorNotConfigured, http.StatusServiceUnavailable, "processor_not_configured"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, body := render(t, tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestWriteError_Details(t *testing.T) {
	status, body := render(t, &claims.AvailabilityError{Requested: 5000, Remaining: 4000})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "insufficient_availability", body["error"])
	assert.Equal(t, float64(5000), body["requested"])
	assert.Equal(t, float64(4000), body["remaining"])

	status, body = render(t, &claims.ActiveClaimError{ClaimID: "c-1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "c-1", body["claimId"])
}

func TestWriteError_HidesGatewayDetails(t *testing.T) {
	status, body := render(t, fmt.Errorf("create intent: %w: upstream 502 from 10.0.0.7", gateway.ErrTransient))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "processor_unavailable", body["error"])
	assert.NotContains(t, body["message"], "10.0.0.7")

	_, body = render(t, errors.New("sql: secret table layout"))
	assert.NotContains(t, body["message"], "sql")
}
