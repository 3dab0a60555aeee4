package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentClaim is one diner's reservation to pay part of an order
type PaymentClaim struct {
	ID              string      `json:"id" gorm:"primaryKey;size:36"`
	OrderID         string      `json:"order_id" gorm:"not null;index;size:36"`
	Status          ClaimStatus `json:"status" gorm:"not null;index;default:'reserved'"`
	ClaimedAmount   int64       `json:"claimed_amount" gorm:"not null"`
	SplitFeePortion int64       `json:"split_fee_portion" gorm:"not null;default:0"`
	TotalToPay      int64       `json:"total_to_pay" gorm:"not null"`
	SessionToken    string      `json:"-" gorm:"not null;index"`
	ClaimedAt       time.Time   `json:"claimed_at" gorm:"not null"`
	ExpiresAt       time.Time   `json:"expires_at" gorm:"not null;index"`

	PaymentProcessor ProcessorType  `json:"payment_processor,omitempty"`
	PaymentID        string         `json:"payment_id,omitempty" gorm:"index"`
	PreferenceID     string         `json:"preference_id,omitempty"`
	PaymentURL       string         `json:"payment_url,omitempty"`
	PaymentStatus    string         `json:"payment_status,omitempty"`
	PaymentMetadata  datatypes.JSON `json:"payment_metadata,omitempty"`
	PaidAt           *time.Time     `json:"paid_at,omitempty"`

	// Fees the gateway reported for this claim's settlement
	ProcessorFee   int64 `json:"processor_fee" gorm:"not null;default:0"`
	MarketplaceFee int64 `json:"marketplace_fee" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *PaymentClaim) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// IsStale reports whether the reservation lapsed before any payment was recorded
func (c *PaymentClaim) IsStale(now time.Time) bool {
	return c.Status == ClaimReserved && c.PaymentID == "" && now.After(c.ExpiresAt)
}
