package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeledger/tradeledger/internal/platform/db"
)

const itemColumns = `id, name, unit_price, quantity, opening_quantity, is_deleted, updated_at`

// Repository reads stock items from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxStore implements Store on top of an open transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps tx so a Ledger can run inside it.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// GetItemForUpdate loads and locks a stock row.
func (s *TxStore) GetItemForUpdate(ctx context.Context, id int64) (StockItem, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM stocks WHERE id=$1 FOR UPDATE`, id)
	return scanItem(row)
}

// UpdateQuantity writes the new on-hand quantity.
func (s *TxStore) UpdateQuantity(ctx context.Context, id int64, qty int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stocks SET quantity=$2, updated_at=NOW() WHERE id=$1`, id, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a stock item by id, including soft-deleted rows.
func (r *Repository) Get(ctx context.Context, id int64) (StockItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stocks WHERE id=$1`, id)
	return scanItem(row)
}

// GetByName returns a stock item by its unique name.
func (r *Repository) GetByName(ctx context.Context, name string) (StockItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stocks WHERE name=$1`, name)
	return scanItem(row)
}

// Lookup resolves ref as a numeric id first and falls back to the name.
func (r *Repository) Lookup(ctx context.Context, ref string) (StockItem, error) {
	return lookup(ctx, r, ref)
}

// List returns active stock items ordered by name.
func (r *Repository) List(ctx context.Context) ([]StockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM stocks WHERE is_deleted=FALSE ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StockItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Drifts compares each active item against opening quantity plus purchases minus sales.
func (r *Repository) Drifts(ctx context.Context) ([]Drift, error) {
	const query = `
SELECT s.id, s.name, s.quantity,
       s.opening_quantity
         + COALESCE((SELECT SUM(quantity) FROM purchase_items WHERE stock_id = s.id), 0)
         - COALESCE((SELECT SUM(quantity) FROM sale_items WHERE stock_id = s.id), 0) AS expected
FROM stocks s
WHERE s.is_deleted = FALSE
ORDER BY s.id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("inventory: drift query: %w", err)
	}
	defer rows.Close()
	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.StockID, &d.Name, &d.Actual, &d.Expected); err != nil {
			return nil, err
		}
		if d.Actual != d.Expected {
			drifts = append(drifts, d)
		}
	}
	return drifts, rows.Err()
}

type itemGetter interface {
	Get(ctx context.Context, id int64) (StockItem, error)
	GetByName(ctx context.Context, name string) (StockItem, error)
}

func lookup(ctx context.Context, g itemGetter, ref string) (StockItem, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		item, err := g.Get(ctx, id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return item, err
		}
	}
	return g.GetByName(ctx, ref)
}

func scanItem(row pgx.Row) (StockItem, error) {
	var (
		item  StockItem
		price pgtype.Numeric
	)
	err := row.Scan(&item.ID, &item.Name, &price, &item.Quantity, &item.OpeningQuantity, &item.Deleted, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, ErrNotFound
		}
		return StockItem{}, err
	}
	item.UnitPrice = db.Decimal(price)
	return item, nil
}
