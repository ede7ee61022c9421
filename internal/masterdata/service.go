package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// service implements Service interface
type service struct {
	repo Repository
}

// NewService creates a new master data service
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

// Lookup resolves ref as an id first, then as a name. Soft-deleted parties are
// still returned so historical bills can display them.
func (s *service) Lookup(ctx context.Context, kind PartyKind, ref string) (Party, error) {
	if !kind.Valid() {
		return Party{}, fmt.Errorf("masterdata: unknown party kind %q", kind)
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Party{}, errors.New("masterdata: party reference required")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		p, err := s.repo.Get(ctx, kind, id)
		if !errors.Is(err, ErrNotFound) {
			return p, err
		}
	}
	return s.repo.GetByName(ctx, kind, ref)
}

// Active resolves ref like Lookup but rejects soft-deleted parties, which may
// not take new bills.
func (s *service) Active(ctx context.Context, kind PartyKind, ref string) (Party, error) {
	p, err := s.Lookup(ctx, kind, ref)
	if err != nil {
		return Party{}, err
	}
	if p.Deleted {
		return Party{}, ErrNotFound
	}
	return p, nil
}

func (s *service) List(ctx context.Context, kind PartyKind) ([]Party, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("masterdata: unknown party kind %q", kind)
	}
	return s.repo.List(ctx, kind)
}
