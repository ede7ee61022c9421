package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradeledger/tradeledger/internal/inventory"
	"github.com/tradeledger/tradeledger/internal/platform/db"
)

// Repository persists bills in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the writes of one bill transaction. It embeds the stock
// store so the ledger shares the transaction.
type TxRepository interface {
	inventory.Store
	InsertBill(ctx context.Context, bill Bill) (int64, error)
	InsertBillDetails(ctx context.Context, kind Kind, billNo int64) error
	InsertLineItem(ctx context.Context, kind Kind, item LineItem) (int64, error)
	SetGrandTotal(ctx context.Context, kind Kind, billNo int64, total decimal.Decimal) error
	GetBillForUpdate(ctx context.Context, kind Kind, billNo int64) (Bill, error)
	ListLineItems(ctx context.Context, kind Kind, billNo int64) ([]LineItem, error)
	DeleteBill(ctx context.Context, kind Kind, billNo int64) error
}

type tables struct {
	bills    string
	items    string
	details  string
	partyCol string
	parties  string
}

func tablesFor(kind Kind) (tables, error) {
	switch kind {
	case KindPurchase:
		return tables{bills: "purchase_bills", items: "purchase_items", details: "purchase_bill_details", partyCol: "supplier_id", parties: "suppliers"}, nil
	case KindSale:
		return tables{bills: "sale_bills", items: "sale_items", details: "sale_bill_details", partyCol: "customer_id", parties: "customers"}, nil
	}
	return tables{}, fmt.Errorf("%w: unknown bill kind %q", ErrValidation, kind)
}

type txRepo struct {
	*inventory.TxStore
	tx pgx.Tx
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxStore: inventory.NewTxStore(tx), tx: tx})
	})
}

func (r *txRepo) InsertBill(ctx context.Context, bill Bill) (int64, error) {
	t, err := tablesFor(bill.Kind)
	if err != nil {
		return 0, err
	}
	var billNo int64
	query := `INSERT INTO ` + t.bills + ` (` + t.partyCol + `, time, grand_total) VALUES ($1, $2, $3) RETURNING billno`
	err = r.tx.QueryRow(ctx, query, bill.PartyID, bill.Time, db.Numeric(bill.GrandTotal)).Scan(&billNo)
	return billNo, err
}

func (r *txRepo) InsertBillDetails(ctx context.Context, kind Kind, billNo int64) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO `+t.details+` (billno) VALUES ($1)`, billNo)
	return err
}

func (r *txRepo) InsertLineItem(ctx context.Context, kind Kind, item LineItem) (int64, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}
	var id int64
	query := `INSERT INTO ` + t.items + ` (billno, stock_id, quantity, perprice, discount, totalprice, net_amount, running_total, price_overridden)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	err = r.tx.QueryRow(ctx, query,
		item.BillNo,
		item.StockID,
		item.Quantity,
		db.Numeric(item.UnitPrice),
		db.Numeric(item.Discount),
		db.Numeric(item.TotalPrice),
		db.Numeric(item.NetAmount),
		db.Numeric(item.RunningTotal),
		item.PriceOverridden,
	).Scan(&id)
	return id, err
}

func (r *txRepo) SetGrandTotal(ctx context.Context, kind Kind, billNo int64, total decimal.Decimal) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE `+t.bills+` SET grand_total=$2 WHERE billno=$1`, billNo, db.Numeric(total))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepo) GetBillForUpdate(ctx context.Context, kind Kind, billNo int64) (Bill, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return Bill{}, err
	}
	query := `SELECT b.billno, b.` + t.partyCol + `, p.name, b.time, b.grand_total
FROM ` + t.bills + ` b JOIN ` + t.parties + ` p ON p.id = b.` + t.partyCol + `
WHERE b.billno=$1 FOR UPDATE OF b`
	return scanBill(kind, r.tx.QueryRow(ctx, query, billNo))
}

func (r *txRepo) ListLineItems(ctx context.Context, kind Kind, billNo int64) ([]LineItem, error) {
	return listLineItems(ctx, r.tx, kind, billNo)
}

func (r *txRepo) DeleteBill(ctx context.Context, kind Kind, billNo int64) error {
	t, err := tablesFor(kind)
	if err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM `+t.items+` WHERE billno=$1`, billNo); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM `+t.details+` WHERE billno=$1`, billNo); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM `+t.bills+` WHERE billno=$1`, billNo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBill returns a committed bill.
func (r *Repository) GetBill(ctx context.Context, kind Kind, billNo int64) (Bill, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return Bill{}, err
	}
	query := `SELECT b.billno, b.` + t.partyCol + `, p.name, b.time, b.grand_total
FROM ` + t.bills + ` b JOIN ` + t.parties + ` p ON p.id = b.` + t.partyCol + `
WHERE b.billno=$1`
	return scanBill(kind, r.pool.QueryRow(ctx, query, billNo))
}

// ListLineItems returns the lines of a bill in insertion order.
func (r *Repository) ListLineItems(ctx context.Context, kind Kind, billNo int64) ([]LineItem, error) {
	return listLineItems(ctx, r.pool, kind, billNo)
}

// GetBillDetails returns the tax and shipping shell of a bill.
func (r *Repository) GetBillDetails(ctx context.Context, kind Kind, billNo int64) (BillDetails, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return BillDetails{}, err
	}
	var d BillDetails
	query := `SELECT billno, eway, veh, destination, po, cgst, sgst, igst, cess, tcs, total FROM ` + t.details + ` WHERE billno=$1`
	err = r.pool.QueryRow(ctx, query, billNo).Scan(&d.BillNo, &d.Eway, &d.Vehicle, &d.Destination, &d.PO, &d.CGST, &d.SGST, &d.IGST, &d.Cess, &d.TCS, &d.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BillDetails{}, ErrNotFound
		}
		return BillDetails{}, err
	}
	return d, nil
}

// ListBills returns bills newest first.
func (r *Repository) ListBills(ctx context.Context, kind Kind, filter ListFilter) ([]Bill, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT b.billno, b.` + t.partyCol + `, p.name, b.time, b.grand_total
FROM ` + t.bills + ` b JOIN ` + t.parties + ` p ON p.id = b.` + t.partyCol + `
WHERE ($1::bigint = 0 OR b.` + t.partyCol + ` = $1)
ORDER BY b.time DESC, b.billno DESC
LIMIT $2`
	rows, err := r.pool.Query(ctx, query, filter.PartyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bills []Bill
	for rows.Next() {
		bill, err := scanBill(kind, rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLineItems(ctx context.Context, q querier, kind Kind, billNo int64) ([]LineItem, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, billno, stock_id, quantity, perprice, discount, totalprice, net_amount, running_total, price_overridden
FROM ` + t.items + ` WHERE billno=$1 ORDER BY id`
	rows, err := q.Query(ctx, query, billNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LineItem
	for rows.Next() {
		var item LineItem
		var price, discount, total, net, running pgtype.Numeric
		if err := rows.Scan(&item.ID, &item.BillNo, &item.StockID, &item.Quantity, &price, &discount, &total, &net, &running, &item.PriceOverridden); err != nil {
			return nil, err
		}
		item.UnitPrice = db.Decimal(price)
		item.Discount = db.Decimal(discount)
		item.TotalPrice = db.Decimal(total)
		item.NetAmount = db.Decimal(net)
		item.RunningTotal = db.Decimal(running)
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanBill(kind Kind, row pgx.Row) (Bill, error) {
	var (
		bill  Bill
		at    time.Time
		total pgtype.Numeric
	)
	if err := row.Scan(&bill.Number, &bill.PartyID, &bill.PartyName, &at, &total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrNotFound
		}
		return Bill{}, err
	}
	bill.Kind = kind
	bill.Time = at
	bill.GrandTotal = db.Decimal(total)
	bill.Status = StatusCommitted
	return bill, nil
}
