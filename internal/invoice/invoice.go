package invoice

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

var errShopNameRequired = errors.New("shop name is required")

const moneyPlaces = 2

// Line — позиция счёта с посчитанными суммами.
type Line struct {
	Position    int
	Description string
	SKU         string
	Unit        string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Net         decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
}

// Totals — итоги счёта.
type Totals struct {
	Net   decimal.Decimal
	Tax   decimal.Decimal
	Gross decimal.Decimal
}

// Invoice — всё, что нужно шаблону, без обращений к заказу.
type Invoice struct {
	Number       string
	OrderNumber  string
	IssuedAt     time.Time
	OrderDate    time.Time
	Currency     string
	TaxRate      decimal.Decimal
	Shop         Shop
	CustomerName string
	Customer     domain.Customer
	BillingLines []string
	Lines        []Line
	Totals       Totals
}

// Project считает суммы счёта. Любое отрицательное значение или нулевое
// количество отклоняется ошибкой ErrValidation, без приведения к нулю.
func Project(order domain.Order, shop Shop, issuedAt time.Time) (Invoice, error) {
	if err := order.Validate(); err != nil {
		return Invoice{}, err
	}
	if shop.TaxRate.IsNegative() || shop.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return Invoice{}, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrTaxRateInvalid)
	}

	currency := strings.TrimSpace(order.Currency)
	if currency == "" {
		currency = shop.Currency
	}

	inv := Invoice{
		Number:       shop.InvoicePrefix + order.OrderNumber,
		OrderNumber:  order.OrderNumber,
		IssuedAt:     issuedAt,
		OrderDate:    order.CreatedAt,
		Currency:     currency,
		TaxRate:      shop.TaxRate,
		Shop:         shop,
		CustomerName: order.Customer.DisplayName(),
		Customer:     order.Customer,
		BillingLines: order.Billing.Lines(),
		Lines:        make([]Line, 0, len(order.LineItems)),
	}

	for i, item := range order.LineItems {
		if !item.Quantity.IsPositive() {
			return Invoice{}, fmt.Errorf("%w: line %d (%s): %w", domain.ErrValidation, i+1, item.Quantity, domain.ErrQuantityInvalid)
		}
		if item.UnitPrice.IsNegative() {
			return Invoice{}, fmt.Errorf("%w: line %d (%s): %w", domain.ErrValidation, i+1, item.UnitPrice, domain.ErrUnitPriceInvalid)
		}

		net := item.UnitPrice.Mul(item.Quantity).Round(moneyPlaces)
		tax := net.Mul(shop.TaxRate).Round(moneyPlaces)
		line := Line{
			Position:    i + 1,
			Description: strings.TrimSpace(item.Description),
			SKU:         item.SKU,
			Unit:        item.Unit,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Net:         net,
			Tax:         tax,
			Total:       net.Add(tax),
		}
		inv.Lines = append(inv.Lines, line)

		inv.Totals.Net = inv.Totals.Net.Add(line.Net)
		inv.Totals.Tax = inv.Totals.Tax.Add(line.Tax)
		inv.Totals.Gross = inv.Totals.Gross.Add(line.Total)
	}

	return inv, nil
}
