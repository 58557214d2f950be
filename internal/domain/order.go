package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Customer — покупатель, как его отдаёт commerce API.
type Customer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// DisplayName возвращает имя для счёта: компания, если указана, иначе ФИО.
func (c Customer) DisplayName() string {
	if strings.TrimSpace(c.Company) != "" {
		return strings.TrimSpace(c.Company)
	}
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Address — платёжный адрес заказа.
type Address struct {
	Street  string `json:"street,omitempty"`
	Zip     string `json:"zip,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// Lines возвращает непустые строки адреса для вывода в документ.
func (a Address) Lines() []string {
	lines := make([]string, 0, 3)
	if s := strings.TrimSpace(a.Street); s != "" {
		lines = append(lines, s)
	}
	if s := strings.TrimSpace(strings.TrimSpace(a.Zip) + " " + strings.TrimSpace(a.City)); s != "" {
		lines = append(lines, s)
	}
	if s := strings.TrimSpace(a.Country); s != "" {
		lines = append(lines, s)
	}
	return lines
}

// LineItem представляет одну позицию заказа.
type LineItem struct {
	Description string `json:"description"`
	// Quantity — количество, строго больше нуля.
	Quantity decimal.Decimal `json:"quantity"`
	// UnitPrice — цена за единицу без налога, неотрицательная.
	UnitPrice decimal.Decimal `json:"unitPrice"`
	SKU       string          `json:"sku,omitempty"`
	Unit      string          `json:"unit,omitempty"`
}

// Order — заказ из внешней commerce-платформы. Только для чтения.
type Order struct {
	ID          string     `json:"id,omitempty"`
	OrderNumber string     `json:"orderNumber"`
	CreatedAt   time.Time  `json:"createdAt"`
	Currency    string     `json:"currency,omitempty"`
	Customer    Customer   `json:"customer"`
	Billing     Address    `json:"billingAddress"`
	LineItems   []LineItem `json:"lineItems"`
}

// Validate проверяет структурные инварианты заказа до входа в конвейер.
// Числовые поля проверяются при построении счёта.
func (o Order) Validate() error {
	if strings.TrimSpace(o.OrderNumber) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrOrderNumberRequired)
	}
	if len(o.LineItems) == 0 {
		return fmt.Errorf("%w: order %s: %w", ErrValidation, o.OrderNumber, ErrLineItemsRequired)
	}
	return nil
}

// ProcessedSet — множество уже обработанных номеров заказов.
type ProcessedSet struct {
	ids map[string]struct{}
}

// NewProcessedSet строит множество из списка идентификаторов, дубликаты схлопываются.
func NewProcessedSet(ids ...string) ProcessedSet {
	set := ProcessedSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

// Contains сообщает, был ли заказ уже обработан.
func (s ProcessedSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Add добавляет идентификатор; возвращает false, если он уже был в множестве.
func (s *ProcessedSet) Add(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Remove удаляет идентификатор из множества.
func (s *ProcessedSet) Remove(id string) {
	delete(s.ids, id)
}

// Len возвращает размер множества.
func (s ProcessedSet) Len() int {
	return len(s.ids)
}

// IDs возвращает отсортированную копию идентификаторов.
func (s ProcessedSet) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
