package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Draft accumulates line items for a bill that is not yet committed.
type Draft struct {
	bill  Bill
	items []LineItem
	total decimal.Decimal
}

// NewDraft starts a bill with a zero grand total.
func NewDraft(kind Kind, partyID int64, partyName string, at time.Time) *Draft {
	return &Draft{
		bill: Bill{
			Kind:       kind,
			PartyID:    partyID,
			PartyName:  partyName,
			Time:       at,
			GrandTotal: decimal.Zero,
			Status:     StatusDraft,
		},
		total: decimal.Zero,
	}
}

// Bill returns the current header.
func (d *Draft) Bill() Bill {
	return d.bill
}

// Items returns the lines added so far.
func (d *Draft) Items() []LineItem {
	return append([]LineItem(nil), d.items...)
}

// Assign records the number allocated when the header row was stored.
func (d *Draft) Assign(number int64) error {
	if d.bill.Status != StatusDraft || d.bill.Number != 0 {
		return fmt.Errorf("%w: bill number already assigned", ErrInvalidState)
	}
	d.bill.Number = number
	return nil
}

// Next stamps item with the bill number and the running total it would have
// once added.
func (d *Draft) Next(item LineItem) LineItem {
	item.BillNo = d.bill.Number
	item.RunningTotal = d.total.Add(item.NetAmount)
	return item
}

// Add appends a line stamped by Next.
func (d *Draft) Add(item LineItem) error {
	if d.bill.Status != StatusDraft {
		return fmt.Errorf("%w: cannot add lines to %s bill", ErrInvalidState, d.bill.Status)
	}
	if d.bill.Number == 0 {
		return fmt.Errorf("%w: bill number not assigned", ErrInvalidState)
	}
	d.total = d.total.Add(item.NetAmount)
	d.items = append(d.items, item)
	return nil
}

// Finalize commits the draft with the grand total computed once over all lines.
func (d *Draft) Finalize() (Bill, error) {
	if d.bill.Status != StatusDraft {
		return Bill{}, fmt.Errorf("%w: cannot finalize %s bill", ErrInvalidState, d.bill.Status)
	}
	if len(d.items) == 0 {
		return Bill{}, ErrEmptyBill
	}
	d.bill.GrandTotal = GrandTotal(d.items)
	d.bill.Status = StatusCommitted
	return d.bill, nil
}

// MarkDeleted moves a committed bill into its terminal state.
func MarkDeleted(b Bill) (Bill, error) {
	if b.Status != StatusCommitted {
		return Bill{}, fmt.Errorf("%w: cannot delete %s bill", ErrInvalidState, b.Status)
	}
	b.Status = StatusDeleted
	return b, nil
}

// GrandTotal sums the net amounts of items.
func GrandTotal(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.NetAmount)
	}
	return total
}
