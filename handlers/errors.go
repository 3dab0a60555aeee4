package handlers

import (
	"errors"
	"net/http"

	"splitpay-api/checkout"
	"splitpay-api/claims"
	"splitpay-api/gateway"
	"splitpay-api/ledger"

	"github.com/gin-gonic/gin"
)

var (
	errTableNotFound = errors.New("table not found")
	errOrderNotFound = errors.New("order not found")
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{claims.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{claims.ErrSessionRequired, http.StatusBadRequest, "session_required"},
	{checkout.ErrInvalidCart, http.StatusBadRequest, "invalid_cart"},
	{checkout.ErrClaimNotReserved, http.StatusBadRequest, "claim_not_reserved"},
	{checkout.ErrClaimExpired, http.StatusBadRequest, "claim_expired"},

	{errTableNotFound, http.StatusNotFound, "table_not_found"},
	{checkout.ErrQRNotFound, http.StatusNotFound, "table_not_found"},
	{errOrderNotFound, http.StatusNotFound, "order_not_found"},
	{claims.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{ledger.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{claims.ErrClaimNotFound, http.StatusNotFound, "claim_not_found"},
	{checkout.ErrClaimNotFound, http.StatusNotFound, "claim_not_found"},

	{claims.ErrInsufficientAvailability, http.StatusConflict, "insufficient_availability"},
	{claims.ErrActiveClaimExists, http.StatusConflict, "active_claim_exists"},
	{claims.ErrOrderClosed, http.StatusConflict, "order_closed"},
	{claims.ErrOrderPaidDirectly, http.StatusConflict, "order_paid_directly"},
	{claims.ErrClaimNotActive, http.StatusConflict, "claim_not_active"},

	{checkout.ErrProcessorUnsupported, http.StatusNotImplemented, "processor_unsupported"},
	{checkout.ErrProcessorNotConfigured, http.StatusServiceUnavailable, "processor_not_configured"},
	{gateway.ErrTransient, http.StatusServiceUnavailable, "processor_unavailable"},
	{gateway.ErrUnauthorized, http.StatusServiceUnavailable, "processor_unavailable"},
}

// writeError maps domain errors onto status codes; anything unknown is a 500
// whose details stay in the log
func writeError(c *gin.Context, d *Deps, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		body := gin.H{"error": m.code, "message": err.Error()}
		if m.target == gateway.ErrTransient || m.target == gateway.ErrUnauthorized {
			body["message"] = "The payment processor is not responding, please try again or ask a member of staff."
		}
		var avail *claims.AvailabilityError
		if errors.As(err, &avail) {
			body["requested"] = avail.Requested
			body["remaining"] = avail.Remaining
		}
		var active *claims.ActiveClaimError
		if errors.As(err, &active) {
			body["claimId"] = active.ClaimID
		}
		c.JSON(m.status, body)
		return
	}
	c.Error(err)
	d.Logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Something went wrong, please try again"})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": message})
}
