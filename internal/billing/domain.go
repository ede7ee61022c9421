package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeledger/tradeledger/internal/inventory"
	"github.com/tradeledger/tradeledger/internal/masterdata"
)

// Kind selects the bill family.
type Kind string

const (
	// KindPurchase bills add stock and reference a supplier.
	KindPurchase Kind = "purchase"
	// KindSale bills remove stock and reference a customer.
	KindSale Kind = "sale"
)

// ParseKind accepts singular and plural spellings.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "purchase", "purchases":
		return KindPurchase, nil
	case "sale", "sales":
		return KindSale, nil
	}
	return "", fmt.Errorf("%w: unknown bill kind %q", ErrValidation, s)
}

// Direction maps the bill kind onto its stock movement.
func (k Kind) Direction() inventory.Direction {
	if k == KindSale {
		return inventory.DirectionOut
	}
	return inventory.DirectionIn
}

// PartyKind maps the bill kind onto its counterparty.
func (k Kind) PartyKind() masterdata.PartyKind {
	if k == KindSale {
		return masterdata.KindCustomer
	}
	return masterdata.KindSupplier
}

// Status tracks the bill lifecycle.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCommitted Status = "COMMITTED"
	StatusDeleted   Status = "DELETED"
)

// Bill is a purchase or sale header.
type Bill struct {
	Number     int64           `json:"bill_no"`
	Kind       Kind            `json:"kind"`
	PartyID    int64           `json:"party_id"`
	PartyName  string          `json:"party_name,omitempty"`
	Time       time.Time       `json:"time"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	Status     Status          `json:"status"`
}

// LineItem is one stock line of a bill.
type LineItem struct {
	ID              int64           `json:"id"`
	BillNo          int64           `json:"bill_no"`
	StockID         int64           `json:"stock_id"`
	Quantity        int64           `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Discount        decimal.Decimal `json:"discount"`
	TotalPrice      decimal.Decimal `json:"total_price"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	RunningTotal    decimal.Decimal `json:"running_total"`
	PriceOverridden bool            `json:"price_overridden"`
}

// BillDetails holds tax and shipping metadata. Every field stays nil until an
// external edit flow fills it in.
type BillDetails struct {
	BillNo      int64   `json:"bill_no"`
	Eway        *string `json:"eway"`
	Vehicle     *string `json:"vehicle"`
	Destination *string `json:"destination"`
	PO          *string `json:"po"`
	CGST        *string `json:"cgst"`
	SGST        *string `json:"sgst"`
	IGST        *string `json:"igst"`
	Cess        *string `json:"cess"`
	TCS         *string `json:"tcs"`
	Total       *string `json:"total"`
}

// LineItemRequest is one requested line. StockName is resolved when StockID is
// zero. Price is only read for sales.
type LineItemRequest struct {
	StockID   int64
	StockName string
	Quantity  int64
	Discount  decimal.Decimal
	Price     *decimal.Decimal
}

// CreateBillInput carries a bill submission.
type CreateBillInput struct {
	PartyRef       string
	Items          []LineItemRequest
	IdempotencyKey string
	ActorID        int64
}

// ListFilter narrows ListBills.
type ListFilter struct {
	PartyID int64
	Limit   int
}

// SalePricePolicy decides how caller supplied sale prices are checked against
// the ledger price.
type SalePricePolicy string

const (
	// SalePriceTrust accepts the caller price unchecked.
	SalePriceTrust SalePricePolicy = "trust"
	// SalePriceFlag accepts the caller price but marks lines that differ.
	SalePriceFlag SalePricePolicy = "flag"
	// SalePriceStrict rejects lines whose price differs from the ledger.
	SalePriceStrict SalePricePolicy = "strict"
)

// ParseSalePricePolicy validates a configured policy name.
func ParseSalePricePolicy(s string) (SalePricePolicy, error) {
	switch p := SalePricePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case SalePriceTrust, SalePriceFlag, SalePriceStrict:
		return p, nil
	case "":
		return SalePriceFlag, nil
	}
	return "", fmt.Errorf("billing: unknown sale price policy %q", s)
}

var (
	// ErrNotFound indicates a missing bill, party or stock reference.
	ErrNotFound = errors.New("billing: not found")
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("billing: quantity must be greater than zero")
	// ErrInvalidDiscount indicates a discount outside 0..100 percent or finer than a cent.
	ErrInvalidDiscount = errors.New("billing: discount must be between 0 and 100 with at most two decimal places")
	// ErrInvalidPrice indicates a missing, negative or sub-cent sale price.
	ErrInvalidPrice = errors.New("billing: sale price must be zero or greater with at most two decimal places")
	// ErrPriceMismatch indicates a sale price that differs from the ledger in strict mode.
	ErrPriceMismatch = errors.New("billing: sale price differs from stock price")
	// ErrEmptyBill indicates a submission without line items.
	ErrEmptyBill = errors.New("billing: bill has no line items")
	// ErrInvalidState indicates an illegal lifecycle transition.
	ErrInvalidState = errors.New("billing: invalid bill state")
	// ErrValidation indicates malformed input outside the line rules.
	ErrValidation = errors.New("billing: validation failed")
	// ErrStorage indicates the persistence layer failed.
	ErrStorage = errors.New("billing: storage failure")
)

// LineError ties a validation failure to the zero based line index.
type LineError struct {
	Index int
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Index+1, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// StorageError wraps persistence failures so they match ErrStorage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("billing: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStorage) match.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

var domainErrors = []error{
	ErrNotFound, ErrInvalidQuantity, ErrInvalidDiscount, ErrInvalidPrice, ErrPriceMismatch,
	ErrEmptyBill, ErrInvalidState, ErrValidation, ErrStorage, inventory.ErrInsufficientStock,
}

// classify passes domain errors through and wraps everything else as storage failures.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return &StorageError{Op: op, Err: err}
}
