package invoice

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

func testShop() Shop {
	return Shop{
		Name:          "Bakery Ltd",
		AddressLines:  []string{"Main St 1", "12345 Town"},
		Currency:      "EUR",
		TaxRate:       decimal.RequireFromString("0.19"),
		InvoicePrefix: "INV-",
	}
}

func testOrder(items ...domain.LineItem) domain.Order {
	return domain.Order{
		OrderNumber: "1001",
		CreatedAt:   time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Customer:    domain.Customer{FirstName: "Ada", LastName: "Lovelace"},
		Billing:     domain.Address{Street: "Baker St 221b", Zip: "NW1", City: "London"},
		LineItems:   items,
	}
}

func item(qty, price string) domain.LineItem {
	return domain.LineItem{
		Description: "Bread",
		Quantity:    decimal.RequireFromString(qty),
		UnitPrice:   decimal.RequireFromString(price),
	}
}

func TestProject_ComputesTotals(t *testing.T) {
	issued := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	inv, err := Project(testOrder(item("2", "10.00"), item("0.5", "3.33")), testShop(), issued)
	require.NoError(t, err)

	assert.Equal(t, "INV-1001", inv.Number)
	assert.Equal(t, "EUR", inv.Currency)
	assert.Equal(t, "Ada Lovelace", inv.CustomerName)
	require.Len(t, inv.Lines, 2)

	first := inv.Lines[0]
	assert.Equal(t, "20.00", first.Net.StringFixed(2))
	assert.Equal(t, "3.80", first.Tax.StringFixed(2))
	assert.Equal(t, "23.80", first.Total.StringFixed(2))

	second := inv.Lines[1]
	assert.Equal(t, "1.67", second.Net.StringFixed(2))
	assert.Equal(t, "0.32", second.Tax.StringFixed(2))

	assert.Equal(t, "21.67", inv.Totals.Net.StringFixed(2))
	assert.Equal(t, "4.12", inv.Totals.Tax.StringFixed(2))
	assert.Equal(t, "25.79", inv.Totals.Gross.StringFixed(2))
}

func TestProject_OrderCurrencyWins(t *testing.T) {
	order := testOrder(item("1", "1"))
	order.Currency = "USD"

	inv, err := Project(order, testShop(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "USD", inv.Currency)
}

func TestProject_FailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		order  domain.Order
		shop   func(Shop) Shop
		target error
	}{
		{name: "negative price", order: testOrder(item("1", "-0.01")), target: domain.ErrUnitPriceInvalid},
		{name: "zero quantity", order: testOrder(item("0", "5")), target: domain.ErrQuantityInvalid},
		{name: "negative quantity", order: testOrder(item("-2", "5")), target: domain.ErrQuantityInvalid},
		{name: "no items", order: testOrder(), target: domain.ErrLineItemsRequired},
		{
			name:  "tax rate above one",
			order: testOrder(item("1", "5")),
			shop: func(s Shop) Shop {
				s.TaxRate = decimal.RequireFromString("1.5")
				return s
			},
			target: domain.ErrTaxRateInvalid,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			shop := testShop()
			if tc.shop != nil {
				shop = tc.shop(shop)
			}
			_, err := Project(tc.order, shop, time.Now())
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
			assert.True(t, errors.Is(err, tc.target))
		})
	}
}

func TestProject_ZeroPriceAllowed(t *testing.T) {
	inv, err := Project(testOrder(item("1", "0")), testShop(), time.Now())
	require.NoError(t, err)
	assert.True(t, inv.Totals.Gross.IsZero())
}

func TestShop_Validate(t *testing.T) {
	shop := testShop()
	require.NoError(t, shop.Validate())

	shop.Name = " "
	require.Error(t, shop.Validate())

	shop = testShop()
	shop.TaxRate = decimal.RequireFromString("-0.1")
	require.ErrorIs(t, shop.Validate(), domain.ErrTaxRateInvalid)
}
