package handlers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"splitpay-api/checkout"
	"splitpay-api/display"
	"splitpay-api/gateway"
	"splitpay-api/reconcile"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBody = 64 << 10
	webhookTimeout = 30 * time.Second
)

type createPaymentRequest struct {
	ClaimID   string              `json:"claimId"`
	Items     []checkout.CartItem `json:"items"`
	Total     int64               `json:"total"`
	TipAmount int64               `json:"tipAmount"`
}

// CreatePayment starts checkout for a claim, or for a full cart when no claim is given
func CreatePayment(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		var (
			res *checkout.Result
			err error
		)
		if req.ClaimID != "" {
			res, err = d.Initiator.ForClaim(c.Request.Context(), c.Param("qr"), req.ClaimID)
		} else {
			res, err = d.Initiator.ForCart(c.Request.Context(), c.Param("qr"), checkout.Cart{
				Items:     req.Items,
				Total:     req.Total,
				TipAmount: req.TipAmount,
			})
		}
		if err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// PaymentWebhook always acknowledges; what happened is recorded, not returned as an error
func PaymentWebhook(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			d.Logger.Warn("failed to read webhook body", "error", err)
		}
		n, err := reconcile.ParseNotification(body, c.Request.URL.Query())
		if err != nil {
			d.Logger.Warn("malformed payment notification", "error", err)
		}
		// finish the work even if the gateway hangs up
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), webhookTimeout)
		defer cancel()
		report := d.Reconciler.Handle(ctx, n)
		c.JSON(http.StatusOK, gin.H{"success": true, "message": string(report.Outcome)})
	}
}

// CheckoutSuccess shows the verified outcome of a checkout redirect
func CheckoutSuccess(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		hints := display.Hints{
			PaymentID:         firstQuery(c, "payment_id", "collection_id"),
			PreferenceID:      c.Query("preference_id"),
			ExternalReference: c.Query("external_reference"),
		}
		c.JSON(http.StatusOK, d.Display.Resolve(c.Request.Context(), hints))
	}
}

type sandboxPayRequest struct {
	Status string `json:"status" binding:"required"`
}

// SandboxPay plays the processor in development: it completes the checkout,
// delivers the notification and returns the redirect the diner would follow
func SandboxPay(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Sandbox == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "sandbox is disabled"})
			return
		}
		var req sandboxPayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		status, err := gateway.ParseVerifiedStatus(req.Status)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		prefID := c.Param("preferenceId")
		pref, ok := d.Sandbox.Preference(prefID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "preference_not_found", "message": "unknown sandbox preference"})
			return
		}
		payment, err := d.Sandbox.Pay(prefID, status)
		if err != nil {
			writeError(c, d, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), webhookTimeout)
		defer cancel()
		report := d.Reconciler.Handle(ctx, reconcile.Notification{
			Type:      "payment",
			Action:    "payment.created",
			PaymentID: payment.PaymentID,
		})

		redirect := pref.SuccessURL
		switch {
		case status.IsPending():
			redirect = pref.PendingURL
		case status.IsFailure():
			redirect = pref.FailureURL
		}
		q := url.Values{}
		q.Set("payment_id", payment.PaymentID)
		q.Set("preference_id", prefID)
		q.Set("external_reference", pref.ExternalReference)
		c.JSON(http.StatusOK, gin.H{
			"payment":     payment,
			"outcome":     report.Outcome,
			"redirectUrl": redirect + "?" + q.Encode(),
		})
	}
}

func firstQuery(c *gin.Context, keys ...string) string {
	for _, k := range keys {
		if v := c.Query(k); v != "" {
			return v
		}
	}
	return ""
}

// SandboxCheckout describes a sandbox preference, standing in for the processor's hosted page
func SandboxCheckout(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d.Sandbox == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "sandbox is disabled"})
			return
		}
		prefID := c.Param("preferenceId")
		pref, ok := d.Sandbox.Preference(prefID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "preference_not_found", "message": "unknown sandbox preference"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"preferenceId":      prefID,
			"title":             pref.Title,
			"amount":            pref.Amount,
			"currency":          pref.Currency,
			"externalReference": pref.ExternalReference,
			"pay":               "POST /api/sandbox/preferences/" + prefID + "/pay with {\"status\": \"approved\"}",
		})
	}
}
