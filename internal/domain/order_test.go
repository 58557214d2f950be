package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validOrder() Order {
	return Order{
		OrderNumber: "10001",
		Customer:    Customer{FirstName: "Anna", LastName: "Berg"},
		LineItems: []LineItem{
			{Description: "Mug", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("9.90")},
		},
	}
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Order)
		wantErr error
	}{
		{name: "valid", mutate: func(*Order) {}},
		{
			name:    "missing order number",
			mutate:  func(o *Order) { o.OrderNumber = "  " },
			wantErr: ErrOrderNumberRequired,
		},
		{
			name:    "no line items",
			mutate:  func(o *Order) { o.LineItems = nil },
			wantErr: ErrLineItemsRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := validOrder()
			tt.mutate(&order)

			err := order.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected error to be classified as validation, got %v", err)
			}
		})
	}
}

func TestCustomer_DisplayName(t *testing.T) {
	if got := (Customer{FirstName: "Anna", LastName: "Berg"}).DisplayName(); got != "Anna Berg" {
		t.Fatalf("unexpected display name %q", got)
	}
	if got := (Customer{FirstName: "Anna", Company: "Berg GmbH"}).DisplayName(); got != "Berg GmbH" {
		t.Fatalf("company should win, got %q", got)
	}
}

func TestAddress_LinesSkipsEmpty(t *testing.T) {
	lines := Address{Street: "Main 1", City: "Bonn"}.Lines()
	if len(lines) != 2 || lines[0] != "Main 1" || lines[1] != "Bonn" {
		t.Fatalf("unexpected lines %v", lines)
	}
}

func TestProcessedSet_AddIsIdempotent(t *testing.T) {
	set := NewProcessedSet("b", "a", "a")
	if set.Len() != 2 {
		t.Fatalf("expected 2 ids, got %d", set.Len())
	}
	if set.Add("a") {
		t.Fatal("second add of the same id must report false")
	}
	if set.Add("") {
		t.Fatal("empty id must be ignored")
	}
	if !set.Contains("b") || set.Contains("c") {
		t.Fatal("unexpected membership")
	}
	ids := set.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("expected sorted ids, got %v", ids)
	}
}

func TestProcessedSet_ZeroValueUsable(t *testing.T) {
	var set ProcessedSet
	if set.Contains("x") {
		t.Fatal("zero set must be empty")
	}
	if !set.Add("x") || !set.Contains("x") {
		t.Fatal("zero set must accept adds")
	}
}
