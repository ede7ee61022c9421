package billing

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tradeledger/tradeledger/internal/inventory"
	"github.com/tradeledger/tradeledger/internal/masterdata"
	"github.com/tradeledger/tradeledger/internal/shared"
)

type memoryState struct {
	stocks  map[int64]inventory.StockItem
	bills   map[Kind]map[int64]Bill
	items   map[Kind]map[int64][]LineItem
	details map[Kind]map[int64]BillDetails
	seq     map[Kind]int64
	itemID  int64
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		stocks:  make(map[int64]inventory.StockItem, len(s.stocks)),
		bills:   make(map[Kind]map[int64]Bill),
		items:   make(map[Kind]map[int64][]LineItem),
		details: make(map[Kind]map[int64]BillDetails),
		seq:     make(map[Kind]int64),
		itemID:  s.itemID,
	}
	for id, item := range s.stocks {
		out.stocks[id] = item
	}
	for _, kind := range []Kind{KindPurchase, KindSale} {
		out.bills[kind] = make(map[int64]Bill)
		out.items[kind] = make(map[int64][]LineItem)
		out.details[kind] = make(map[int64]BillDetails)
		for no, b := range s.bills[kind] {
			out.bills[kind][no] = b
		}
		for no, lines := range s.items[kind] {
			out.items[kind][no] = append([]LineItem(nil), lines...)
		}
		for no, d := range s.details[kind] {
			out.details[kind][no] = d
		}
		out.seq[kind] = s.seq[kind]
	}
	return out
}

// memoryRepo mimics a transactional store: state is restored when fn fails.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState

	failInsertItemAt int
	insertedItems    int
}

func newMemoryRepo(stocks ...inventory.StockItem) *memoryRepo {
	state := memoryState{stocks: make(map[int64]inventory.StockItem)}.clone()
	for _, s := range stocks {
		state.stocks[s.ID] = s
	}
	return &memoryRepo{state: state, failInsertItemAt: -1}
}

type memoryTx struct {
	repo *memoryRepo
}

var errDiskFull = errors.New("disk full")

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	r.insertedItems = 0
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) GetBill(ctx context.Context, kind Kind, billNo int64) (Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.state.bills[kind][billNo]
	if !ok {
		return Bill{}, ErrNotFound
	}
	return b, nil
}

func (r *memoryRepo) ListLineItems(ctx context.Context, kind Kind, billNo int64) ([]LineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LineItem(nil), r.state.items[kind][billNo]...), nil
}

func (r *memoryRepo) GetBillDetails(ctx context.Context, kind Kind, billNo int64) (BillDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.state.details[kind][billNo]
	if !ok {
		return BillDetails{}, ErrNotFound
	}
	return d, nil
}

func (r *memoryRepo) ListBills(ctx context.Context, kind Kind, filter ListFilter) ([]Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var bills []Bill
	for _, b := range r.state.bills[kind] {
		if filter.PartyID != 0 && b.PartyID != filter.PartyID {
			continue
		}
		bills = append(bills, b)
	}
	sort.Slice(bills, func(i, j int) bool { return bills[i].Number > bills[j].Number })
	if filter.Limit > 0 && len(bills) > filter.Limit {
		bills = bills[:filter.Limit]
	}
	return bills, nil
}

func (r *memoryRepo) stock(id int64) inventory.StockItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.stocks[id]
}

func (r *memoryRepo) softDeleteStock(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.state.stocks[id]
	item.Deleted = true
	r.state.stocks[id] = item
}

func (r *memoryRepo) billCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.bills[KindPurchase]) + len(r.state.bills[KindSale])
}

func (r *memoryRepo) itemCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, kind := range []Kind{KindPurchase, KindSale} {
		for _, lines := range r.state.items[kind] {
			n += len(lines)
		}
	}
	return n
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (inventory.StockItem, error) {
	item, ok := tx.repo.state.stocks[id]
	if !ok {
		return inventory.StockItem{}, inventory.ErrNotFound
	}
	return item, nil
}

func (tx *memoryTx) UpdateQuantity(ctx context.Context, id int64, qty int64) error {
	item, ok := tx.repo.state.stocks[id]
	if !ok {
		return inventory.ErrNotFound
	}
	item.Quantity = qty
	tx.repo.state.stocks[id] = item
	return nil
}

func (tx *memoryTx) InsertBill(ctx context.Context, bill Bill) (int64, error) {
	tx.repo.state.seq[bill.Kind]++
	no := tx.repo.state.seq[bill.Kind]
	bill.Number = no
	bill.Status = StatusCommitted
	tx.repo.state.bills[bill.Kind][no] = bill
	return no, nil
}

func (tx *memoryTx) InsertBillDetails(ctx context.Context, kind Kind, billNo int64) error {
	tx.repo.state.details[kind][billNo] = BillDetails{BillNo: billNo}
	return nil
}

func (tx *memoryTx) InsertLineItem(ctx context.Context, kind Kind, item LineItem) (int64, error) {
	if tx.repo.insertedItems == tx.repo.failInsertItemAt {
		return 0, errDiskFull
	}
	tx.repo.insertedItems++
	tx.repo.state.itemID++
	item.ID = tx.repo.state.itemID
	tx.repo.state.items[kind][item.BillNo] = append(tx.repo.state.items[kind][item.BillNo], item)
	return item.ID, nil
}

func (tx *memoryTx) SetGrandTotal(ctx context.Context, kind Kind, billNo int64, total decimal.Decimal) error {
	b, ok := tx.repo.state.bills[kind][billNo]
	if !ok {
		return ErrNotFound
	}
	b.GrandTotal = total
	tx.repo.state.bills[kind][billNo] = b
	return nil
}

func (tx *memoryTx) GetBillForUpdate(ctx context.Context, kind Kind, billNo int64) (Bill, error) {
	b, ok := tx.repo.state.bills[kind][billNo]
	if !ok {
		return Bill{}, ErrNotFound
	}
	return b, nil
}

func (tx *memoryTx) ListLineItems(ctx context.Context, kind Kind, billNo int64) ([]LineItem, error) {
	return append([]LineItem(nil), tx.repo.state.items[kind][billNo]...), nil
}

func (tx *memoryTx) DeleteBill(ctx context.Context, kind Kind, billNo int64) error {
	if _, ok := tx.repo.state.bills[kind][billNo]; !ok {
		return ErrNotFound
	}
	delete(tx.repo.state.items[kind], billNo)
	delete(tx.repo.state.details[kind], billNo)
	delete(tx.repo.state.bills[kind], billNo)
	return nil
}

type stubParties struct {
	parties []masterdata.Party
}

func (p stubParties) Active(ctx context.Context, kind masterdata.PartyKind, ref string) (masterdata.Party, error) {
	for _, party := range p.parties {
		if party.Kind == kind && party.Name == ref {
			if party.Deleted {
				return masterdata.Party{}, masterdata.ErrNotFound
			}
			return party, nil
		}
	}
	return masterdata.Party{}, masterdata.ErrNotFound
}

type stubStock struct {
	repo *memoryRepo
}

func (s stubStock) Lookup(ctx context.Context, ref string) (inventory.StockItem, error) {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	for _, item := range s.repo.state.stocks {
		if item.Name == ref {
			return item, nil
		}
	}
	return inventory.StockItem{}, inventory.ErrNotFound
}

type stubAudit struct {
	logs []shared.AuditLog
}

func (a *stubAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

type countingMetrics struct {
	created map[string]int
	deleted map[string]int
	skipped int
}

func (m *countingMetrics) BillCreated(kind string) { m.created[kind]++ }
func (m *countingMetrics) BillDeleted(kind string) { m.deleted[kind]++ }
func (m *countingMetrics) ReversalsSkipped(n int)  { m.skipped += n }

type recordingReconcile struct {
	reasons []string
}

func (r *recordingReconcile) EnqueueStockReconcile(ctx context.Context, reason string) error {
	r.reasons = append(r.reasons, reason)
	return nil
}

type fixture struct {
	repo      *memoryRepo
	audit     *stubAudit
	idem      *memoryIdempotency
	metrics   *countingMetrics
	reconcile *recordingReconcile
	svc       *Service
}

const (
	widgetID int64 = 1
	gadgetID int64 = 2
)

func newFixture(mutate ...func(*ServiceConfig)) *fixture {
	repo := newMemoryRepo(
		inventory.StockItem{ID: widgetID, Name: "Widget", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 100, OpeningQuantity: 100},
		inventory.StockItem{ID: gadgetID, Name: "Gadget", UnitPrice: decimal.RequireFromString("4.50"), Quantity: 20, OpeningQuantity: 20},
	)
	f := &fixture{
		repo:      repo,
		audit:     &stubAudit{},
		idem:      &memoryIdempotency{keys: make(map[string]bool)},
		metrics:   &countingMetrics{created: map[string]int{}, deleted: map[string]int{}},
		reconcile: &recordingReconcile{},
	}
	cfg := ServiceConfig{
		Repo: repo,
		Parties: stubParties{parties: []masterdata.Party{
			{ID: 1, Kind: masterdata.KindSupplier, Name: "Acme"},
			{ID: 2, Kind: masterdata.KindSupplier, Name: "Defunct", Deleted: true},
			{ID: 1, Kind: masterdata.KindCustomer, Name: "Walk-in"},
		}},
		Stock:       stubStock{repo: repo},
		Audit:       f.audit,
		Idempotency: f.idem,
		Metrics:     f.metrics,
		Reconcile:   f.reconcile,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	f.svc = NewService(cfg)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func price(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
