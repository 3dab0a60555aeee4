package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"splitpay-api/ledger"
	"splitpay-api/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// tableOrder resolves :qr and :orderId, scoping the order to the table
func tableOrder(c *gin.Context, d *Deps) (*models.Table, *models.Order, error) {
	db := d.DB.WithContext(c.Request.Context())
	var table models.Table
	if err := db.First(&table, "qr_code = ?", c.Param("qr")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errTableNotFound
		}
		return nil, nil, err
	}
	var order models.Order
	if err := db.First(&order, "id = ? AND table_id = ?", c.Param("orderId"), table.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errOrderNotFound
		}
		return nil, nil, err
	}
	return &table, &order, nil
}

// GetOrder returns the bill with its live balance
func GetOrder(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		table, order, err := tableOrder(c, d)
		if err != nil {
			writeError(c, d, err)
			return
		}
		if _, err := d.Claims.ExpireStale(c.Request.Context(), order.ID); err != nil {
			writeError(c, d, err)
			return
		}
		if err := d.DB.WithContext(c.Request.Context()).Preload("Items").First(order, "id = ?", order.ID).Error; err != nil {
			writeError(c, d, err)
			return
		}
		list, err := d.Claims.ListByOrder(c.Request.Context(), order.ID)
		if err != nil {
			writeError(c, d, err)
			return
		}
		active := []models.PaymentClaim{}
		for _, claim := range list {
			if claim.Status.IsActive() {
				active = append(active, claim)
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"table":         gin.H{"name": table.Name, "qr_code": table.QRCode},
			"order":         ledger.Summarize(order),
			"active_claims": active,
			"items":         order.Items,
			"subtotal":      order.Subtotal,
			"tax":           order.TaxAmount,
			"tip":           order.TipAmount,
			"direct":        order.IsDirect(),
		})
	}
}

// FeeEstimate shows a diner what a claim of ?amount= would cost
func FeeEstimate(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
		if err != nil || amount <= 0 {
			badRequest(c, "amount must be a positive integer in minor units")
			return
		}
		_, order, err := tableOrder(c, d)
		if err != nil {
			writeError(c, d, err)
			return
		}
		breakdown, err := d.Claims.Breakdown(order, amount)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"breakdown": breakdown,
			"remaining": order.Remaining(),
			"fits":      amount <= order.Remaining(),
		})
	}
}

type createClaimRequest struct {
	ClaimedAmount int64  `json:"claimedAmount"`
	SessionToken  string `json:"sessionToken" binding:"required"`
}

// CreateClaim reserves part of the bill for one diner session
func CreateClaim(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createClaimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		_, order, err := tableOrder(c, d)
		if err != nil {
			writeError(c, d, err)
			return
		}
		claim, updated, err := d.Claims.Create(c.Request.Context(), order.ID, req.ClaimedAmount, req.SessionToken)
		if err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"claim": claim,
			"order": ledger.Summarize(updated),
		})
	}
}

// GetClaim returns one claim, expiring it if its window has passed
func GetClaim(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var table models.Table
		if err := d.DB.WithContext(ctx).First(&table, "qr_code = ?", c.Param("qr")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				err = errTableNotFound
			}
			writeError(c, d, err)
			return
		}
		claim, err := d.Claims.Get(ctx, c.Param("claimId"))
		if err != nil {
			writeError(c, d, err)
			return
		}
		var order models.Order
		if err := d.DB.WithContext(ctx).First(&order, "id = ? AND table_id = ?", claim.OrderID, table.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				err = errOrderNotFound
			}
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"claim": claim, "order": ledger.Summarize(&order)})
	}
}

// OrderLive streams balance updates for the order over a websocket
func OrderLive(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, order, err := tableOrder(c, d)
		if err != nil {
			writeError(c, d, err)
			return
		}
		if err := d.Hub.Serve(c.Writer, c.Request, order.ID, ledger.Summarize(order)); err != nil {
			d.Logger.Warn("websocket upgrade failed", "order_id", order.ID, "error", err)
		}
	}
}
