package handlers

import (
	"errors"
	"net/http"

	"splitpay-api/ledger"
	"splitpay-api/middleware"
	"splitpay-api/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type saveCredentialRequest struct {
	Processor   string `json:"processor" binding:"required"`
	AccessToken string `json:"accessToken" binding:"required"`
	PublicKey   string `json:"publicKey"`
}

// SaveCredential seals and stores the caller organization's processor credential
func SaveCredential(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req saveCredentialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		processor, err := models.ParseProcessorType(req.Processor)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		cred, err := d.Credentials.Save(c.Request.Context(), middleware.GetOrganizationID(c), processor, req.AccessToken, req.PublicKey)
		if err != nil {
			writeError(c, d, err)
			return
		}
		d.Logger.Info("processor credential saved",
			"organization_id", cred.OrganizationID, "processor", cred.Processor, "staff_id", middleware.GetStaffID(c))
		c.JSON(http.StatusCreated, gin.H{"credential": cred})
	}
}

// staffOrder loads :orderId if it belongs to the caller's organization
func staffOrder(c *gin.Context, d *Deps) (*models.Order, error) {
	var order models.Order
	err := d.DB.WithContext(c.Request.Context()).
		First(&order, "id = ? AND organization_id = ?", c.Param("orderId"), middleware.GetOrganizationID(c)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errOrderNotFound
	}
	return &order, err
}

// ListOrderClaims is the audit view of an order: its claims and every transition
func ListOrderClaims(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := staffOrder(c, d)
		if err != nil {
			writeError(c, d, err)
			return
		}
		list, err := d.Claims.ListByOrder(c.Request.Context(), order.ID)
		if err != nil {
			writeError(c, d, err)
			return
		}
		var events []models.PaymentEvent
		if err := d.DB.WithContext(c.Request.Context()).Where("order_id = ?", order.ID).Order("id asc").Find(&events).Error; err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"order":  ledger.Summarize(order),
			"count":  len(list),
			"claims": list,
			"events": events,
		})
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder closes a bill, releasing every active claim
func CancelOrder(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelOrderRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		order, err := staffOrder(c, d)
		if err != nil {
			writeError(c, d, err)
			return
		}
		note := "cancelled by staff " + middleware.GetStaffID(c)
		if req.Reason != "" {
			note += ": " + req.Reason
		}
		cancelled, err := d.Claims.CancelOrder(c.Request.Context(), order.ID, note)
		if err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": ledger.Summarize(cancelled)})
	}
}

// Sweep expires every lapsed reservation now
func Sweep(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := d.Claims.SweepExpired(c.Request.Context())
		if err != nil {
			writeError(c, d, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"expired": n})
	}
}
