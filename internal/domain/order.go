package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or trade.
type Side string

// OrderKind is the execution type of an order.
type OrderKind string

// OrderStatus is the lifecycle state reported for an order.
type OrderStatus string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"

	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"

	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Valid reports whether k is a known order kind.
func (k OrderKind) Valid() bool {
	return k == OrderKindMarket || k == OrderKindLimit
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	return s == OrderStatusPending || s.IsTerminal()
}

// IsTerminal reports whether the status ends the order's life.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Order represents a user order as tracked on the client.
// Price is set iff Kind is limit.
type Order struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"clientOrderId,omitempty"`
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"side"`
	Kind          OrderKind        `json:"type"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Status        OrderStatus      `json:"status"`
	CreatedAt     time.Time        `json:"timestamp"`
}

// OrderSpec is what a caller submits; identity, status and time are assigned locally.
type OrderSpec struct {
	Symbol   string           `json:"symbol"`
	Side     Side             `json:"side"`
	Kind     OrderKind        `json:"type"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Quantity decimal.Decimal  `json:"quantity"`
}

// Validate checks the spec before any optimistic mutation happens.
func (s OrderSpec) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if !s.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s.Side)
	}
	if !s.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	switch s.Kind {
	case OrderKindLimit:
		if s.Price == nil {
			return fmt.Errorf("%w: limit order requires a price", ErrInvalidOrder)
		}
		if !s.Price.IsPositive() {
			return fmt.Errorf("%w: limit price must be positive", ErrInvalidOrder)
		}
	case OrderKindMarket:
		if s.Price != nil {
			return fmt.Errorf("%w: market order must not carry a price", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, s.Kind)
	}
	return nil
}

// OrderRequest is the create command sent to the venue.
// ClientOrderID correlates the server's answer and updates with the local record.
type OrderRequest struct {
	OrderSpec
	ClientOrderID string `json:"clientOrderId"`
}
