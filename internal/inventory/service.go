package inventory

import (
	"context"
	"errors"
	"strings"
)

// RepositoryPort abstracts the read side used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (StockItem, error)
	GetByName(ctx context.Context, name string) (StockItem, error)
	List(ctx context.Context) ([]StockItem, error)
	Drifts(ctx context.Context) ([]Drift, error)
}

// Service exposes stock lookups to handlers and jobs.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Lookup finds a stock item by id or name.
func (s *Service) Lookup(ctx context.Context, ref string) (StockItem, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return StockItem{}, errors.New("inventory: stock reference required")
	}
	return lookup(ctx, s.repo, ref)
}

// List returns active stock items.
func (s *Service) List(ctx context.Context) ([]StockItem, error) {
	return s.repo.List(ctx)
}

// Drifts reports items whose quantity disagrees with bill history.
func (s *Service) Drifts(ctx context.Context) ([]Drift, error) {
	return s.repo.Drifts(ctx)
}
