package billing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tradeledger/tradeledger/internal/inventory"
	"github.com/tradeledger/tradeledger/internal/masterdata"
	"github.com/tradeledger/tradeledger/internal/shared"
)

const idempotencyModule = "billing"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, kind Kind, billNo int64) (Bill, error)
	ListLineItems(ctx context.Context, kind Kind, billNo int64) ([]LineItem, error)
	GetBillDetails(ctx context.Context, kind Kind, billNo int64) (BillDetails, error)
	ListBills(ctx context.Context, kind Kind, filter ListFilter) ([]Bill, error)
}

// PartyPort resolves suppliers and customers.
type PartyPort interface {
	Active(ctx context.Context, kind masterdata.PartyKind, ref string) (masterdata.Party, error)
}

// StockPort resolves stock names to ids.
type StockPort interface {
	Lookup(ctx context.Context, ref string) (inventory.StockItem, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against duplicate submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// MetricsRecorder receives billing counters.
type MetricsRecorder interface {
	BillCreated(kind string)
	BillDeleted(kind string)
	ReversalsSkipped(n int)
}

// ReconcileEnqueuer schedules a stock reconciliation run.
type ReconcileEnqueuer interface {
	EnqueueStockReconcile(ctx context.Context, reason string) error
}

// ServiceConfig groups the collaborators and settings of Service. Repo and
// Parties are required, everything else is optional.
type ServiceConfig struct {
	Repo        RepositoryPort
	Parties     PartyPort
	Stock       StockPort
	Audit       AuditPort
	Idempotency IdempotencyPort
	Cache       *Cache
	Metrics     MetricsRecorder
	Reconcile   ReconcileEnqueuer
	Logger      *slog.Logger

	// StrictStock rejects sales that would drive stock below zero.
	StrictStock     bool
	SalePricePolicy SalePricePolicy
}

// Service coordinates bill creation and deletion.
type Service struct {
	repo        RepositoryPort
	parties     PartyPort
	stock       StockPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       *Cache
	metrics     MetricsRecorder
	reconcile   ReconcileEnqueuer
	logger      *slog.Logger
	stockPolicy inventory.Policy
	salePrice   SalePricePolicy
	clock       func() time.Time
}

// NewService builds Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	salePrice := cfg.SalePricePolicy
	if salePrice == "" {
		salePrice = SalePriceFlag
	}
	return &Service{
		repo:        cfg.Repo,
		parties:     cfg.Parties,
		stock:       cfg.Stock,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		reconcile:   cfg.Reconcile,
		logger:      logger,
		stockPolicy: inventory.Policy{AllowNegative: !cfg.StrictStock},
		salePrice:   salePrice,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CreatePurchaseBill records a purchase from a supplier and adds stock.
func (s *Service) CreatePurchaseBill(ctx context.Context, input CreateBillInput) (Bill, error) {
	return s.createBill(ctx, KindPurchase, input)
}

// CreateSaleBill records a sale to a customer and removes stock.
func (s *Service) CreateSaleBill(ctx context.Context, input CreateBillInput) (Bill, error) {
	return s.createBill(ctx, KindSale, input)
}

func (s *Service) createBill(ctx context.Context, kind Kind, input CreateBillInput) (Bill, error) {
	if len(input.Items) == 0 {
		return Bill{}, ErrEmptyBill
	}
	party, err := s.parties.Active(ctx, kind.PartyKind(), input.PartyRef)
	if err != nil {
		if errors.Is(err, masterdata.ErrNotFound) {
			return Bill{}, fmt.Errorf("%w: %s %q", ErrNotFound, kind.PartyKind(), input.PartyRef)
		}
		return Bill{}, classify("lookup party", err)
	}
	requests, err := s.resolveStock(ctx, input.Items)
	if err != nil {
		return Bill{}, err
	}

	key, err := s.claimKey(ctx, kind, input.IdempotencyKey)
	if err != nil {
		return Bill{}, err
	}

	var (
		bill    Bill
		items   []LineItem
		flagged int
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ledger := inventory.NewLedger(tx, s.stockPolicy)
		draft := NewDraft(kind, party.ID, party.Name, s.clock())

		billNo, err := tx.InsertBill(ctx, draft.Bill())
		if err != nil {
			return err
		}
		if err := draft.Assign(billNo); err != nil {
			return err
		}
		if err := tx.InsertBillDetails(ctx, kind, billNo); err != nil {
			return err
		}

		for i, req := range requests {
			item, err := BuildLineItem(ctx, kind, req, ledger, s.salePrice)
			if err != nil {
				return &LineError{Index: i, Err: err}
			}
			item = draft.Next(item)
			id, err := tx.InsertLineItem(ctx, kind, item)
			if err != nil {
				return err
			}
			item.ID = id
			if err := s.applyStock(ctx, ledger, kind, item); err != nil {
				return &LineError{Index: i, Err: err}
			}
			if err := draft.Add(item); err != nil {
				return err
			}
			if item.PriceOverridden {
				flagged++
				s.logger.Warn("sale price differs from stock price",
					slog.Int64("bill_no", billNo),
					slog.Int64("stock_id", item.StockID),
					slog.String("price", item.UnitPrice.StringFixed(currencyPlaces)),
				)
			}
		}

		committed, err := draft.Finalize()
		if err != nil {
			return err
		}
		if err := tx.SetGrandTotal(ctx, kind, billNo, committed.GrandTotal); err != nil {
			return err
		}
		bill = committed
		items = draft.Items()
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, key)
		return Bill{}, classify("create bill", err)
	}

	s.logger.Info("bill created",
		slog.String("kind", string(kind)),
		slog.Int64("bill_no", bill.Number),
		slog.Int("items", len(items)),
		slog.String("grand_total", bill.GrandTotal.StringFixed(currencyPlaces)),
	)
	if s.metrics != nil {
		s.metrics.BillCreated(string(kind))
	}
	s.record(ctx, input.ActorID, "bill.created", bill, map[string]any{
		"items":         len(items),
		"grand_total":   bill.GrandTotal.StringFixed(currencyPlaces),
		"price_flagged": flagged,
		"party_id":      bill.PartyID,
		"stock_policy":  policyName(s.stockPolicy),
		"price_policy":  string(s.salePrice),
	})
	return bill, nil
}

// DeleteBill reverses the stock effect of every line and removes the bill,
// its lines and its details in one transaction. actorID is recorded on the
// audit row; zero means unattributed.
func (s *Service) DeleteBill(ctx context.Context, kind Kind, billNo, actorID int64) error {
	if _, err := tablesFor(kind); err != nil {
		return err
	}
	if billNo <= 0 {
		return ErrNotFound
	}
	var (
		deleted Bill
		skipped int
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, err := tx.GetBillForUpdate(ctx, kind, billNo)
		if err != nil {
			return err
		}
		items, err := tx.ListLineItems(ctx, kind, billNo)
		if err != nil {
			return err
		}
		ledger := inventory.NewLedger(tx, s.stockPolicy)
		for _, item := range items {
			mv, err := ledger.Reverse(ctx, kind.Direction(), item.StockID, item.Quantity)
			if err != nil {
				return err
			}
			if mv.Skipped {
				skipped++
			}
		}
		if err := tx.DeleteBill(ctx, kind, billNo); err != nil {
			return err
		}
		deleted, err = MarkDeleted(bill)
		return err
	})
	if err != nil {
		return classify("delete bill", err)
	}

	if err := s.cache.Invalidate(ctx, kind, billNo); err != nil {
		s.logger.Warn("invalidate bill cache", slog.Int64("bill_no", billNo), slog.Any("error", err))
	}
	s.logger.Info("bill deleted",
		slog.String("kind", string(kind)),
		slog.Int64("bill_no", billNo),
		slog.Int("reversals_skipped", skipped),
	)
	if s.metrics != nil {
		s.metrics.BillDeleted(string(kind))
		s.metrics.ReversalsSkipped(skipped)
	}
	s.record(ctx, actorID, "bill.deleted", deleted, map[string]any{
		"grand_total":       deleted.GrandTotal.StringFixed(currencyPlaces),
		"reversals_skipped": skipped,
	})
	if s.reconcile != nil {
		if err := s.reconcile.EnqueueStockReconcile(ctx, fmt.Sprintf("%s bill %d deleted", kind, billNo)); err != nil {
			s.logger.Warn("enqueue stock reconcile", slog.Any("error", err))
		}
	}
	return nil
}

// GetBill returns a committed bill by number.
func (s *Service) GetBill(ctx context.Context, kind Kind, billNo int64) (Bill, error) {
	if _, err := tablesFor(kind); err != nil {
		return Bill{}, err
	}
	bill, err := s.cache.FetchBill(ctx, kind, billNo, func(ctx context.Context) (Bill, error) {
		return s.repo.GetBill(ctx, kind, billNo)
	})
	return bill, classify("get bill", err)
}

// ListLineItems returns the lines of a bill.
func (s *Service) ListLineItems(ctx context.Context, kind Kind, billNo int64) ([]LineItem, error) {
	if _, err := s.GetBill(ctx, kind, billNo); err != nil {
		return nil, err
	}
	items, err := s.repo.ListLineItems(ctx, kind, billNo)
	return items, classify("list line items", err)
}

// GetBillDetails returns the tax and shipping shell of a bill.
func (s *Service) GetBillDetails(ctx context.Context, kind Kind, billNo int64) (BillDetails, error) {
	if _, err := tablesFor(kind); err != nil {
		return BillDetails{}, err
	}
	details, err := s.repo.GetBillDetails(ctx, kind, billNo)
	return details, classify("get bill details", err)
}

// ListBills returns bills newest first.
func (s *Service) ListBills(ctx context.Context, kind Kind, filter ListFilter) ([]Bill, error) {
	if _, err := tablesFor(kind); err != nil {
		return nil, err
	}
	bills, err := s.repo.ListBills(ctx, kind, filter)
	return bills, classify("list bills", err)
}

func (s *Service) resolveStock(ctx context.Context, items []LineItemRequest) ([]LineItemRequest, error) {
	out := make([]LineItemRequest, len(items))
	for i, req := range items {
		if req.StockID == 0 && req.StockName != "" {
			if s.stock == nil {
				return nil, &LineError{Index: i, Err: fmt.Errorf("%w: stock lookup unavailable", ErrValidation)}
			}
			item, err := s.stock.Lookup(ctx, req.StockName)
			if err != nil {
				if errors.Is(err, inventory.ErrNotFound) {
					return nil, &LineError{Index: i, Err: fmt.Errorf("%w: stock %q", ErrNotFound, req.StockName)}
				}
				return nil, classify("lookup stock", err)
			}
			req.StockID = item.ID
		}
		out[i] = req
	}
	return out, nil
}

func (s *Service) applyStock(ctx context.Context, ledger *inventory.Ledger, kind Kind, item LineItem) error {
	var err error
	if kind == KindSale {
		_, err = ledger.ApplySale(ctx, item.StockID, item.Quantity)
	} else {
		_, err = ledger.ApplyPurchase(ctx, item.StockID, item.Quantity)
	}
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return fmt.Errorf("%w: %w", ErrInvalidQuantity, err)
	}
	return err
}

func (s *Service) claimKey(ctx context.Context, kind Kind, raw string) (string, error) {
	if raw == "" || s.idempotency == nil {
		return "", nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid idempotency key: %v", ErrValidation, err)
	}
	key := fmt.Sprintf("bill:%s:%s", kind, id)
	if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return "", err
		}
		return "", classify("claim idempotency key", err)
	}
	return key, nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, bill Bill, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["ref"] = billRef(bill.Kind, bill.Number)
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   string(bill.Kind) + "_bill",
		EntityID: strconv.FormatInt(bill.Number, 10),
		Meta:     meta,
		At:       s.clock(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

// billRef derives a stable reference for a bill, usable across systems.
func billRef(kind Kind, billNo int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("tradeledger:%s:%d", kind, billNo))).String()
}

func policyName(p inventory.Policy) string {
	if p.AllowNegative {
		return "unchecked"
	}
	return "strict"
}
