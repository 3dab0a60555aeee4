package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Order is one shared bill for one table session. Amounts are integer minor units.
type Order struct {
	ID             string         `json:"id" gorm:"primaryKey;size:36"`
	OrganizationID uint           `json:"organization_id" gorm:"not null;index"`
	TableID        uint           `json:"table_id" gorm:"not null;index"`
	Status         OrderStatus    `json:"status" gorm:"not null;default:'ordering'"`
	Subtotal       int64          `json:"subtotal"`
	TaxAmount      int64          `json:"tax_amount"`
	TipAmount      int64          `json:"tip_amount"`
	TotalAmount    int64          `json:"total_amount" gorm:"not null"`
	TotalClaimed   int64          `json:"total_claimed" gorm:"not null;default:0"`
	TotalPaid      int64          `json:"total_paid" gorm:"not null;default:0"`
	ProcessorFee   int64          `json:"processor_fee" gorm:"not null;default:0"`
	MarketplaceFee int64          `json:"marketplace_fee" gorm:"not null;default:0"`
	Locked         bool           `json:"is_locked" gorm:"not null;default:false"`
	Items          []OrderItem    `json:"items,omitempty" gorm:"foreignKey:OrderID"`
	Claims         []PaymentClaim `json:"claims,omitempty" gorm:"foreignKey:OrderID"`

	// Traditional full-bill payment, no claim row
	PaymentProcessor ProcessorType  `json:"payment_processor,omitempty"`
	PaymentID        string         `json:"payment_id,omitempty" gorm:"index"`
	PreferenceID     string         `json:"preference_id,omitempty" gorm:"index"`
	PaymentURL       string         `json:"payment_url,omitempty"`
	PaymentStatus    string         `json:"payment_status,omitempty"`
	PaymentMetadata  datatypes.JSON `json:"payment_metadata,omitempty"`
	PaidAt           *time.Time     `json:"paid_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// Remaining is what is still neither reserved nor paid
func (o *Order) Remaining() int64 {
	r := o.TotalAmount - o.TotalClaimed - o.TotalPaid
	if r < 0 {
		return 0
	}
	return r
}

// IsDirect reports whether the order is being paid in traditional full-bill mode
func (o *Order) IsDirect() bool {
	return o.PreferenceID != ""
}

type OrderItem struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	OrderID   string `json:"order_id" gorm:"not null;index;size:36"`
	Name      string `json:"name" gorm:"not null"`
	Quantity  int    `json:"quantity" gorm:"not null"`
	UnitPrice int64  `json:"unit_price" gorm:"not null"` // snapshot price at time of order
}

// PaymentEvent tracks every claim or order status change
type PaymentEvent struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	OrderID    string    `json:"order_id" gorm:"not null;index;size:36"`
	ClaimID    string    `json:"claim_id,omitempty" gorm:"index;size:36"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status" gorm:"not null"`
	Actor      string    `json:"actor" gorm:"not null"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}
