package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradeledger/tradeledger/internal/inventory"
)

// currencyPlaces is the precision amounts are rounded to.
const currencyPlaces = 2

var hundred = decimal.NewFromInt(100)

// PriceSource returns the authoritative unit price of a stock item.
type PriceSource interface {
	UnitPrice(ctx context.Context, stockID int64) (decimal.Decimal, error)
}

// BuildLineItem validates a request and computes its amounts. Purchases always
// take the ledger price; sales take the caller price, checked per policy.
func BuildLineItem(ctx context.Context, kind Kind, req LineItemRequest, prices PriceSource, policy SalePricePolicy) (LineItem, error) {
	if req.Quantity <= 0 {
		return LineItem{}, ErrInvalidQuantity
	}
	if req.Discount.IsNegative() || req.Discount.GreaterThan(hundred) || !fitsCurrency(req.Discount) {
		return LineItem{}, ErrInvalidDiscount
	}
	if req.StockID <= 0 {
		return LineItem{}, fmt.Errorf("%w: stock reference required", ErrNotFound)
	}

	item := LineItem{StockID: req.StockID, Quantity: req.Quantity, Discount: req.Discount}
	switch kind {
	case KindPurchase:
		price, err := ledgerPrice(ctx, prices, req.StockID)
		if err != nil {
			return LineItem{}, err
		}
		item.UnitPrice = price
	case KindSale:
		if req.Price == nil || req.Price.IsNegative() || !fitsCurrency(*req.Price) {
			return LineItem{}, ErrInvalidPrice
		}
		item.UnitPrice = *req.Price
		if policy != SalePriceTrust {
			price, err := ledgerPrice(ctx, prices, req.StockID)
			if err != nil {
				return LineItem{}, err
			}
			if !price.Equal(item.UnitPrice) {
				if policy == SalePriceStrict {
					return LineItem{}, fmt.Errorf("%w: got %s, stock price %s", ErrPriceMismatch, item.UnitPrice.StringFixed(currencyPlaces), price.StringFixed(currencyPlaces))
				}
				item.PriceOverridden = true
			}
		}
	default:
		return LineItem{}, fmt.Errorf("%w: unknown bill kind %q", ErrValidation, kind)
	}

	item.TotalPrice, item.NetAmount = Amounts(item.UnitPrice, item.Quantity, item.Discount)
	return item, nil
}

// Amounts returns total = price x qty and net = total x (1 - discount/100),
// both rounded to currency precision.
func Amounts(price decimal.Decimal, qty int64, discount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	total := price.Mul(decimal.NewFromInt(qty))
	factor := decimal.NewFromInt(1).Sub(discount.Div(hundred))
	return total.Round(currencyPlaces), total.Mul(factor).Round(currencyPlaces)
}

// fitsCurrency reports whether d survives storage in a two-place NUMERIC column.
func fitsCurrency(d decimal.Decimal) bool {
	return d.Round(currencyPlaces).Equal(d)
}

func ledgerPrice(ctx context.Context, prices PriceSource, stockID int64) (decimal.Decimal, error) {
	price, err := prices.UnitPrice(ctx, stockID)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return decimal.Zero, err
	}
	return price, nil
}
