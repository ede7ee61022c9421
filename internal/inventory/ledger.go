package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Store exposes the stock rows a Ledger mutates. Implementations run inside the
// caller's transaction and must lock the row returned by GetItemForUpdate.
type Store interface {
	GetItemForUpdate(ctx context.Context, id int64) (StockItem, error)
	UpdateQuantity(ctx context.Context, id int64, qty int64) error
}

// Ledger applies quantity movements against a Store.
type Ledger struct {
	store  Store
	policy Policy
}

// NewLedger binds a ledger to a transactional store.
func NewLedger(store Store, policy Policy) *Ledger {
	return &Ledger{store: store, policy: policy}
}

// UnitPrice returns the current price of an active stock item.
func (l *Ledger) UnitPrice(ctx context.Context, stockID int64) (decimal.Decimal, error) {
	item, err := l.activeItem(ctx, stockID)
	if err != nil {
		return decimal.Zero, err
	}
	return item.UnitPrice, nil
}

// ApplyPurchase increments quantity on hand.
func (l *Ledger) ApplyPurchase(ctx context.Context, stockID, qty int64) (Movement, error) {
	return l.apply(ctx, stockID, qty, DirectionIn)
}

// ApplySale decrements quantity on hand. Oversell is only rejected when the
// policy disallows negative stock.
func (l *Ledger) ApplySale(ctx context.Context, stockID, qty int64) (Movement, error) {
	return l.apply(ctx, stockID, qty, DirectionOut)
}

// Reverse undoes a movement originally applied in direction orig. Soft-deleted
// items are left untouched and reported with Skipped set.
func (l *Ledger) Reverse(ctx context.Context, orig Direction, stockID, qty int64) (Movement, error) {
	if qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	item, err := l.store.GetItemForUpdate(ctx, stockID)
	if err != nil {
		return Movement{}, err
	}
	dir := orig.Opposite()
	mv := Movement{StockID: stockID, Direction: dir, Qty: qty, Before: item.Quantity, After: item.Quantity}
	if item.Deleted {
		mv.Skipped = true
		return mv, nil
	}
	mv.After = item.Quantity + signed(dir, qty)
	if err := l.store.UpdateQuantity(ctx, stockID, mv.After); err != nil {
		return Movement{}, err
	}
	return mv, nil
}

func (l *Ledger) apply(ctx context.Context, stockID, qty int64, dir Direction) (Movement, error) {
	if qty <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	item, err := l.activeItem(ctx, stockID)
	if err != nil {
		return Movement{}, err
	}
	after := item.Quantity + signed(dir, qty)
	if dir == DirectionOut && !l.policy.AllowNegative && after < 0 {
		return Movement{}, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, item.Name, item.Quantity, qty)
	}
	if err := l.store.UpdateQuantity(ctx, stockID, after); err != nil {
		return Movement{}, err
	}
	return Movement{StockID: stockID, Direction: dir, Qty: qty, Before: item.Quantity, After: after}, nil
}

func (l *Ledger) activeItem(ctx context.Context, stockID int64) (StockItem, error) {
	item, err := l.store.GetItemForUpdate(ctx, stockID)
	if err != nil {
		return StockItem{}, err
	}
	if item.Deleted {
		return StockItem{}, ErrNotFound
	}
	return item, nil
}

func signed(dir Direction, qty int64) int64 {
	if dir == DirectionOut {
		return -qty
	}
	return qty
}
