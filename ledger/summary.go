package ledger

import "splitpay-api/models"

// Summary is the public view of an order's payment progress
type Summary struct {
	OrderID        string             `json:"order_id"`
	Status         models.OrderStatus `json:"status"`
	TotalAmount    int64              `json:"total_amount"`
	TotalClaimed   int64              `json:"total_claimed"`
	TotalPaid      int64              `json:"total_paid"`
	Remaining      int64              `json:"remaining"`
	ProcessorFee   int64              `json:"processor_fee"`
	MarketplaceFee int64              `json:"marketplace_fee"`
	Locked         bool               `json:"is_locked"`
}

func Summarize(o *models.Order) Summary {
	return Summary{
		OrderID:        o.ID,
		Status:         o.Status,
		TotalAmount:    o.TotalAmount,
		TotalClaimed:   o.TotalClaimed,
		TotalPaid:      o.TotalPaid,
		Remaining:      o.Remaining(),
		ProcessorFee:   o.ProcessorFee,
		MarketplaceFee: o.MarketplaceFee,
		Locked:         o.Locked,
	}
}
