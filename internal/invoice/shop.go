// Package invoice строит PDF-счёт по заказу: проекция с денежной арифметикой,
// HTML-шаблон и движок печати в PDF.
package invoice

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// Shop — реквизиты продавца, печатаемые в шапке счёта.
type Shop struct {
	Name          string
	AddressLines  []string
	TaxID         string
	Email         string
	Phone         string
	Currency      string
	TaxRate       decimal.Decimal
	Footer        string
	InvoicePrefix string
}

// Validate проверяет ставку налога и обязательное имя продавца.
func (s Shop) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errShopNameRequired
	}
	if s.TaxRate.IsNegative() || s.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return domain.ErrTaxRateInvalid
	}
	return nil
}
