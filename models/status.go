package models

import (
	"database/sql/driver"
	"fmt"
)

// OrderStatus is the payment lifecycle of a shared bill
type OrderStatus string

const (
	OrderOrdering       OrderStatus = "ordering"
	OrderPaymentStarted OrderStatus = "payment_started"
	OrderPartiallyPaid  OrderStatus = "partially_paid"
	OrderPaid           OrderStatus = "paid"
	OrderCancelled      OrderStatus = "cancelled"
)

var orderStatuses = map[OrderStatus]bool{
	OrderOrdering:       true,
	OrderPaymentStarted: true,
	OrderPartiallyPaid:  true,
	OrderPaid:           true,
	OrderCancelled:      true,
}

// ParseOrderStatus rejects legacy or unknown values
func ParseOrderStatus(s string) (OrderStatus, error) {
	if !orderStatuses[OrderStatus(s)] {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return OrderStatus(s), nil
}

// IsTerminal reports whether no further transitions are allowed
func (s OrderStatus) IsTerminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

func (s OrderStatus) Value() (driver.Value, error) {
	if _, err := ParseOrderStatus(string(s)); err != nil {
		return nil, err
	}
	return string(s), nil
}

func (s *OrderStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	parsed, err := ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (OrderStatus) GormDataType() string { return "string" }

// ClaimStatus is the state of one diner's reservation
type ClaimStatus string

const (
	ClaimReserved   ClaimStatus = "reserved"
	ClaimProcessing ClaimStatus = "processing"
	ClaimPaid       ClaimStatus = "paid"
	ClaimExpired    ClaimStatus = "expired"
	ClaimCancelled  ClaimStatus = "cancelled"
)

// ActiveClaimStatuses count against an order's totalClaimed
var ActiveClaimStatuses = []ClaimStatus{ClaimReserved, ClaimProcessing}

var claimStatuses = map[ClaimStatus]bool{
	ClaimReserved:   true,
	ClaimProcessing: true,
	ClaimPaid:       true,
	ClaimExpired:    true,
	ClaimCancelled:  true,
}

func ParseClaimStatus(s string) (ClaimStatus, error) {
	if !claimStatuses[ClaimStatus(s)] {
		return "", fmt.Errorf("unknown claim status %q", s)
	}
	return ClaimStatus(s), nil
}

// IsActive reports whether the claim still holds a reservation
func (s ClaimStatus) IsActive() bool {
	return s == ClaimReserved || s == ClaimProcessing
}

func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimPaid || s == ClaimExpired || s == ClaimCancelled
}

func (s ClaimStatus) Value() (driver.Value, error) {
	if _, err := ParseClaimStatus(string(s)); err != nil {
		return nil, err
	}
	return string(s), nil
}

func (s *ClaimStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	parsed, err := ParseClaimStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (ClaimStatus) GormDataType() string { return "string" }

// ProcessorType names a payment gateway
type ProcessorType string

const (
	ProcessorMercadoPago ProcessorType = "mercadopago"
	ProcessorStripe      ProcessorType = "stripe"
	ProcessorSandbox     ProcessorType = "sandbox"
)

var processorTypes = map[ProcessorType]bool{
	ProcessorMercadoPago: true,
	ProcessorStripe:      true,
	ProcessorSandbox:     true,
}

func ParseProcessorType(s string) (ProcessorType, error) {
	if !processorTypes[ProcessorType(s)] {
		return "", fmt.Errorf("unknown processor %q", s)
	}
	return ProcessorType(s), nil
}

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("cannot scan %T into status", src)
	}
}
