package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeledger/tradeledger/internal/inventory"
	"github.com/tradeledger/tradeledger/internal/shared"
)

func TestWidgetPurchaseScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	bill, err := f.svc.CreatePurchaseBill(ctx, CreateBillInput{
		PartyRef: "Acme",
		Items:    []LineItemRequest{{StockID: widgetID, Quantity: 3, Discount: dec("10"), Price: price("99.00")}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, bill.Status)
	require.Equal(t, int64(1), bill.Number)
	require.Equal(t, "Acme", bill.PartyName)
	assert.True(t, bill.GrandTotal.Equal(dec("27.00")), "grand total %s", bill.GrandTotal)

	items, err := f.svc.ListLineItems(ctx, KindPurchase, bill.Number)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].UnitPrice.Equal(dec("10.00")), "purchase price comes from the ledger")
	assert.True(t, items[0].TotalPrice.Equal(dec("30.00")))
	assert.True(t, items[0].NetAmount.Equal(dec("27.00")))
	assert.True(t, items[0].RunningTotal.Equal(dec("27.00")))
	assert.Equal(t, int64(103), f.repo.stock(widgetID).Quantity)

	stored, err := f.svc.GetBill(ctx, KindPurchase, bill.Number)
	require.NoError(t, err)
	assert.True(t, stored.GrandTotal.Equal(dec("27.00")))

	details, err := f.svc.GetBillDetails(ctx, KindPurchase, bill.Number)
	require.NoError(t, err)
	assert.Equal(t, bill.Number, details.BillNo)
	assert.Nil(t, details.Eway)
	assert.Nil(t, details.CGST)

	assert.Equal(t, 1, f.metrics.created["purchase"])
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, "bill.created", f.audit.logs[0].Action)
	assert.Equal(t, "purchase_bill", f.audit.logs[0].Entity)
}

func TestDeletePurchaseBillRestoresStock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	bill, err := f.svc.CreatePurchaseBill(ctx, CreateBillInput{
		PartyRef: "Acme",
		Items:    []LineItemRequest{{StockID: widgetID, Quantity: 3, Discount: dec("10")}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(103), f.repo.stock(widgetID).Quantity)

	require.NoError(t, f.svc.DeleteBill(ctx, KindPurchase, bill.Number, 0))
	assert.Equal(t, int64(100), f.repo.stock(widgetID).Quantity)

	_, err = f.svc.GetBill(ctx, KindPurchase, bill.Number)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.ListLineItems(ctx, KindPurchase, bill.Number)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.GetBillDetails(ctx, KindPurchase, bill.Number)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, f.repo.itemCount())

	assert.Equal(t, 1, f.metrics.deleted["purchase"])
	require.Len(t, f.reconcile.reasons, 1)
	require.Len(t, f.audit.logs, 2)
	assert.Equal(t, "bill.deleted", f.audit.logs[1].Action)
}

func TestSaleBillRoundTrip(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	bill, err := f.svc.CreateSaleBill(ctx, CreateBillInput{
		PartyRef: "Walk-in",
		Items: []LineItemRequest{
			{StockName: "Widget", Quantity: 5, Discount: dec("0"), Price: price("10.00")},
			{StockID: gadgetID, Quantity: 2, Discount: dec("50"), Price: price("4.50")},
		},
	})
	require.NoError(t, err)
	assert.True(t, bill.GrandTotal.Equal(dec("54.50")), "grand total %s", bill.GrandTotal)
	assert.Equal(t, int64(95), f.repo.stock(widgetID).Quantity)
	assert.Equal(t, int64(18), f.repo.stock(gadgetID).Quantity)

	items, err := f.svc.ListLineItems(ctx, KindSale, bill.Number)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, items[0].RunningTotal.Equal(dec("50.00")))
	assert.True(t, items[1].RunningTotal.Equal(dec("54.50")))

	require.NoError(t, f.svc.DeleteBill(ctx, KindSale, bill.Number, 0))
	assert.Equal(t, int64(100), f.repo.stock(widgetID).Quantity)
	assert.Equal(t, int64(20), f.repo.stock(gadgetID).Quantity)
}

func TestGrandTotalEqualsSumOfNetAmounts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	bill, err := f.svc.CreatePurchaseBill(ctx, CreateBillInput{
		PartyRef: "Acme",
		Items: []LineItemRequest{
			{StockID: widgetID, Quantity: 7, Discount: dec("12.5")},
			{StockID: gadgetID, Quantity: 3, Discount: dec("33.3")},
			{StockID: widgetID, Quantity: 1, Discount: dec("100")},
			{StockID: gadgetID, Quantity: 11},
		},
	})
	require.NoError(t, err)

	items, err := f.svc.ListLineItems(ctx, KindPurchase, bill.Number)
	require.NoError(t, err)
	require.Len(t, items, 4)
	for _, item := range items {
		total, net := Amounts(item.UnitPrice, item.Quantity, item.Discount)
		assert.True(t, item.TotalPrice.Equal(total))
		assert.True(t, item.NetAmount.Equal(net))
	}
	assert.True(t, bill.GrandTotal.Equal(GrandTotal(items)))
	assert.True(t, items[len(items)-1].RunningTotal.Equal(bill.GrandTotal))
	assert.Equal(t, int64(108), f.repo.stock(widgetID).Quantity)
}

func TestCreateBillIsAtomic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreatePurchaseBill(ctx, CreateBillInput{
		PartyRef: "Acme",
		Items: []LineItemRequest{
			{StockID: widgetID, Quantity: 1},
			{StockID: gadgetID, Quantity: 2},
			{StockID: widgetID, Quantity: 0},
			{StockID: gadgetID, Quantity: 4},
			{StockID: widgetID, Quantity: 5},
		},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	var lineErr *LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, 2, lineErr.Index)

	assert.Zero(t, f.repo.billCount())
	assert.Zero(t, f.repo.itemCount())
	assert.Equal(t, int64(100), f.repo.stock(widgetID).Quantity)
	assert.Equal(t, int64(20), f.repo.stock(gadgetID).Quantity)
	assert.Empty(t, f.audit.logs)
	assert.Zero(t, f.metrics.created["purchase"])
}

func TestCreateBillValidation(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		input CreateBillInput
		kind  Kind
		want  error
	}{
		{name: "empty bill", kind: KindPurchase, input: CreateBillInput{PartyRef: "Acme"}, want: ErrEmptyBill},
		{name: "unknown supplier", kind: KindPurchase, input: CreateBillInput{PartyRef: "Nobody", Items: []LineItemRequest{{StockID: widgetID, Quantity: 1}}}, want: ErrNotFound},
		{name: "soft-deleted supplier", kind: KindPurchase, input: CreateBillInput{PartyRef: "Defunct", Items: []LineItemRequest{{StockID: widgetID, Quantity: 1}}}, want: ErrNotFound},
		{name: "supplier used as customer", kind: KindSale, input: CreateBillInput{PartyRef: "Acme", Items: []LineItemRequest{{StockID: widgetID, Quantity: 1, Price: price("10")}}}, want: ErrNotFound},
		{name: "unknown stock id", kind: KindPurchase, input: CreateBillInput{PartyRef: "Acme", Items: []LineItemRequest{{StockID: 99, Quantity: 1}}}, want: ErrNotFound},
		{name: "unknown stock name", kind: KindPurchase, input: CreateBillInput{PartyRef: "Acme", Items: []LineItemRequest{{StockName: "Sprocket", Quantity: 1}}}, want: ErrNotFound},
		{name: "negative discount", kind: KindPurchase, input: CreateBillInput{PartyRef: "Acme", Items: []LineItemRequest{{StockID: widgetID, Quantity: 1, Discount: dec("-1")}}}, want: ErrInvalidDiscount},
		{name: "discount over 100", kind: KindPurchase, input: CreateBillInput{PartyRef: "Acme", Items: []LineItemRequest{{StockID: widgetID, Quantity: 1, Discount: dec("100.01")}}}, want: ErrInvalidDiscount},
		{name: "negative quantity", kind: KindSale, input: CreateBillInput{PartyRef: "Walk-in", Items: []LineItemRequest{{StockID: widgetID, Quantity: -3, Price: price("10")}}}, want: ErrInvalidQuantity},
		{name: "sale without price", kind: KindSale, input: CreateBillInput{PartyRef: "Walk-in", Items: []LineItemRequest{{StockID: widgetID, Quantity: 1}}}, want: ErrInvalidPrice},
		{name: "bad idempotency key", kind: KindPurchase, input: CreateBillInput{PartyRef: "Acme", IdempotencyKey: "abc", Items: []LineItemRequest{{StockID: widgetID, Quantity: 1}}}, want: ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			var err error
			if tc.kind == KindSale {
				_, err = f.svc.CreateSaleBill(ctx, tc.input)
			} else {
				_, err = f.svc.CreatePurchaseBill(ctx, tc.input)
			}
			require.ErrorIs(t, err, tc.want)
			assert.False(t, errors.Is(err, ErrStorage))
			assert.Zero(t, f.repo.billCount())
			assert.Equal(t, int64(100), f.repo.stock(widgetID).Quantity)
		})
	}
}

func TestDeleteSkipsSoftDeletedStock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	bill, err := f.svc.CreatePurchaseBill(ctx, CreateBillInput{
		PartyRef: "Acme",
		Items: []LineItemRequest{
			{StockID: widgetID, Quantity: 5},
			{StockID: gadgetID, Quantity: 5},
		},
	})
	require.NoError(t, err)
	f.repo.softDeleteStock(widgetID)

	require.NoError(t, f.svc.DeleteBill(ctx, KindPurchase, bill.Number, 0))
	assert.Equal(t, int64(105), f.repo.stock(widgetID).Quantity, "soft-deleted stock is not re-adjusted")
	assert.True(t, f.repo.stock(widgetID).Deleted, "deletion does not resurrect stock")
	assert.Equal(t, int64(20), f.repo.stock(gadgetID).Quantity)
	assert.Equal(t, 1, f.metrics.skipped)
}

func TestDeleteMissingBill(t *testing.T) {
	f := newFixture()
	err := f.svc.DeleteBill(context.Background(), KindSale, 42, 0)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.reconcile.reasons)
}

func TestSalePricePolicies(t *testing.T) {
	ctx := context.Background()
	input := CreateBillInput{
		PartyRef: "Walk-in",
		Items:    []LineItemRequest{{StockID: widgetID, Quantity: 2, Price: price("12.00")}},
	}

	t.Run("flag by default", func(t *testing.T) {
		f := newFixture()
		bill, err := f.svc.CreateSaleBill(ctx, input)
		require.NoError(t, err)
		assert.True(t, bill.GrandTotal.Equal(dec("24.00")))
		items, err := f.svc.ListLineItems(ctx, KindSale, bill.Number)
		require.NoError(t, err)
		assert.True(t, items[0].PriceOverridden)
		assert.Equal(t, 1, f.audit.logs[0].Meta["price_flagged"])
	})

	t.Run("trust", func(t *testing.T) {
		f := newFixture(func(cfg *ServiceConfig) { cfg.SalePricePolicy = SalePriceTrust })
		bill, err := f.svc.CreateSaleBill(ctx, input)
		require.NoError(t, err)
		items, err := f.svc.ListLineItems(ctx, KindSale, bill.Number)
		require.NoError(t, err)
		assert.False(t, items[0].PriceOverridden)
	})

	t.Run("strict", func(t *testing.T) {
		f := newFixture(func(cfg *ServiceConfig) { cfg.SalePricePolicy = SalePriceStrict })
		_, err := f.svc.CreateSaleBill(ctx, input)
		require.ErrorIs(t, err, ErrPriceMismatch)
		assert.Equal(t, int64(100), f.repo.stock(widgetID).Quantity)

		matching := CreateBillInput{PartyRef: "Walk-in", Items: []LineItemRequest{{StockID: widgetID, Quantity: 2, Price: price("10")}}}
		_, err = f.svc.CreateSaleBill(ctx, matching)
		require.NoError(t, err)
	})
}

func TestNegativeStockPolicy(t *testing.T) {
	ctx := context.Background()
	oversell := CreateBillInput{
		PartyRef: "Walk-in",
		Items:    []LineItemRequest{{StockID: gadgetID, Quantity: 25, Price: price("4.50")}},
	}

	f := newFixture()
	_, err := f.svc.CreateSaleBill(ctx, oversell)
	require.NoError(t, err, "oversell is unchecked by default")
	assert.Equal(t, int64(-5), f.repo.stock(gadgetID).Quantity)

	strict := newFixture(func(cfg *ServiceConfig) { cfg.StrictStock = true })
	_, err = strict.svc.CreateSaleBill(ctx, oversell)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, int64(20), strict.repo.stock(gadgetID).Quantity)
	assert.Zero(t, strict.repo.billCount())
}

func TestStorageFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.repo.failInsertItemAt = 1

	_, err := f.svc.CreatePurchaseBill(context.Background(), CreateBillInput{
		PartyRef: "Acme",
		Items: []LineItemRequest{
			{StockID: widgetID, Quantity: 1},
			{StockID: gadgetID, Quantity: 1},
		},
	})
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, errDiskFull)
	assert.Zero(t, f.repo.billCount())
	assert.Equal(t, int64(100), f.repo.stock(widgetID).Quantity)
}

func TestIdempotentSubmission(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	key := uuid.NewString()
	input := CreateBillInput{
		PartyRef:       "Acme",
		IdempotencyKey: key,
		Items:          []LineItemRequest{{StockID: widgetID, Quantity: 1}},
	}

	_, err := f.svc.CreatePurchaseBill(ctx, input)
	require.NoError(t, err)
	_, err = f.svc.CreatePurchaseBill(ctx, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Equal(t, 1, f.repo.billCount())

	_, err = f.svc.CreateSaleBill(ctx, CreateBillInput{
		PartyRef:       "Walk-in",
		IdempotencyKey: key,
		Items:          []LineItemRequest{{StockID: widgetID, Quantity: 1, Price: price("10")}},
	})
	require.NoError(t, err, "keys are scoped per bill kind")
}

func TestIdempotencyKeyReleasedOnFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	key := uuid.NewString()

	_, err := f.svc.CreatePurchaseBill(ctx, CreateBillInput{
		PartyRef:       "Acme",
		IdempotencyKey: key,
		Items:          []LineItemRequest{{StockID: widgetID, Quantity: 0}},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	assert.Empty(t, f.idem.keys)

	_, err = f.svc.CreatePurchaseBill(ctx, CreateBillInput{
		PartyRef:       "Acme",
		IdempotencyKey: key,
		Items:          []LineItemRequest{{StockID: widgetID, Quantity: 2}},
	})
	require.NoError(t, err)
}

func TestListBills(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreatePurchaseBill(ctx, CreateBillInput{
			PartyRef: "Acme",
			Items:    []LineItemRequest{{StockID: widgetID, Quantity: int64(i + 1)}},
		})
		require.NoError(t, err)
	}

	bills, err := f.svc.ListBills(ctx, KindPurchase, ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, bills, 2)
	assert.Equal(t, int64(3), bills[0].Number)

	sales, err := f.svc.ListBills(ctx, KindSale, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)

	_, err = f.svc.ListBills(ctx, Kind("refund"), ListFilter{})
	require.ErrorIs(t, err, ErrValidation)
}
