package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction tells which way a movement changes quantity on hand.
type Direction string

const (
	// DirectionIn represents an inbound movement (purchase).
	DirectionIn Direction = "IN"
	// DirectionOut represents an outbound movement (sale).
	DirectionOut Direction = "OUT"
)

// Opposite returns the direction that undoes d.
func (d Direction) Opposite() Direction {
	if d == DirectionIn {
		return DirectionOut
	}
	return DirectionIn
}

// StockItem is one row of the stock ledger.
type StockItem struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        int64           `json:"quantity"`
	OpeningQuantity int64           `json:"opening_quantity"`
	Deleted         bool            `json:"deleted"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Movement records a single applied delta, returned for logging and tests.
type Movement struct {
	StockID   int64
	Direction Direction
	Qty       int64
	Before    int64
	After     int64
	Skipped   bool
}

// Drift reports a stock item whose on-hand quantity disagrees with its bill history.
type Drift struct {
	StockID  int64
	Name     string
	Expected int64
	Actual   int64
}

// Delta is Actual minus Expected.
func (d Drift) Delta() int64 {
	return d.Actual - d.Expected
}

// Policy tunes ledger guards.
type Policy struct {
	// AllowNegative permits outbound movements to drive quantity below zero.
	AllowNegative bool
}

// DefaultPolicy leaves oversell unchecked.
func DefaultPolicy() Policy {
	return Policy{AllowNegative: true}
}

var (
	// ErrNotFound indicates a missing or soft-deleted stock item.
	ErrNotFound = errors.New("inventory: stock item not found")
	// ErrInvalidQuantity indicates quantity must be positive.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInsufficientStock is returned in strict mode when a sale would oversell.
	ErrInsufficientStock = errors.New("inventory: insufficient stock on hand")
)
