package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent records every gateway notification and what the reconciler did with it
type WebhookEvent struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	Processor   string         `json:"processor" gorm:"index"`
	Type        string         `json:"type" gorm:"index"`
	Action      string         `json:"action"`
	PaymentID   string         `json:"payment_id" gorm:"index"`
	Payload     datatypes.JSON `json:"payload"`
	Outcome     string         `json:"outcome" gorm:"index"`
	Error       string         `json:"error"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
