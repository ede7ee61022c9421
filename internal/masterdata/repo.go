package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// repo implements Repository interface
type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

func table(kind PartyKind) (string, error) {
	switch kind {
	case KindSupplier:
		return "suppliers", nil
	case KindCustomer:
		return "customers", nil
	}
	return "", fmt.Errorf("masterdata: unknown party kind %q", kind)
}

func (r *repo) Get(ctx context.Context, kind PartyKind, id int64) (Party, error) {
	t, err := table(kind)
	if err != nil {
		return Party{}, err
	}
	query := `SELECT id, name, phone, address, email, gstin, is_deleted, created_at FROM ` + t + ` WHERE id = $1`
	return scanParty(kind, r.db.QueryRow(ctx, query, id))
}

func (r *repo) GetByName(ctx context.Context, kind PartyKind, name string) (Party, error) {
	t, err := table(kind)
	if err != nil {
		return Party{}, err
	}
	query := `SELECT id, name, phone, address, email, gstin, is_deleted, created_at FROM ` + t + ` WHERE name = $1`
	return scanParty(kind, r.db.QueryRow(ctx, query, name))
}

func (r *repo) List(ctx context.Context, kind PartyKind) ([]Party, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, name, phone, address, email, gstin, is_deleted, created_at FROM ` + t + ` WHERE is_deleted = FALSE ORDER BY name`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parties []Party
	for rows.Next() {
		p, err := scanParty(kind, rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

func scanParty(kind PartyKind, row pgx.Row) (Party, error) {
	p := Party{Kind: kind}
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Address, &p.Email, &p.GSTIN, &p.Deleted, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrNotFound
		}
		return Party{}, err
	}
	return p, nil
}
