package masterdata

import (
	"context"
	"errors"
	"time"
)

// PartyKind distinguishes the two counterparties a bill can reference.
type PartyKind string

const (
	// KindSupplier is the counterparty of a purchase bill.
	KindSupplier PartyKind = "supplier"
	// KindCustomer is the counterparty of a sale bill.
	KindCustomer PartyKind = "customer"
)

// Valid reports whether k is a known kind.
func (k PartyKind) Valid() bool {
	return k == KindSupplier || k == KindCustomer
}

// Party represents a supplier or customer.
type Party struct {
	ID        int64     `json:"id"`
	Kind      PartyKind `json:"kind"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Email     string    `json:"email,omitempty"`
	GSTIN     string    `json:"gstin,omitempty"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound is returned when a party reference cannot be resolved.
var ErrNotFound = errors.New("masterdata: party not found")

// Repository defines data access for parties.
type Repository interface {
	Get(ctx context.Context, kind PartyKind, id int64) (Party, error)
	GetByName(ctx context.Context, kind PartyKind, name string) (Party, error)
	List(ctx context.Context, kind PartyKind) ([]Party, error)
}

// Service resolves party references for billing and handlers.
type Service interface {
	Lookup(ctx context.Context, kind PartyKind, ref string) (Party, error)
	Active(ctx context.Context, kind PartyKind, ref string) (Party, error)
	List(ctx context.Context, kind PartyKind) ([]Party, error)
}
