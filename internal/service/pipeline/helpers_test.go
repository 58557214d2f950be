package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

type stubSource struct {
	mu     sync.Mutex
	orders []domain.Order
	err    error
	calls  int
	block  chan struct{}
}

func (s *stubSource) FetchRecentOrders(ctx context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	orders, err := s.orders, s.err
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return orders, err
}

type stubRenderer struct {
	mu       sync.Mutex
	dir      string
	failures map[string]int
	panicOn  string
	calls    map[string]int
}

func newStubRenderer(dir string) *stubRenderer {
	return &stubRenderer{dir: dir, failures: map[string]int{}, calls: map[string]int{}}
}

// failTimes заставляет рендер заказа падать n раз подряд.
func (r *stubRenderer) failTimes(orderNumber string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[orderNumber] = n
}

func (r *stubRenderer) Render(_ context.Context, order domain.Order) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[order.OrderNumber]++

	if order.OrderNumber == r.panicOn {
		panic("renderer exploded")
	}
	if r.failures[order.OrderNumber] > 0 {
		r.failures[order.OrderNumber]--
		return "", &domain.RenderError{OrderNumber: order.OrderNumber, Stage: "engine", Err: errors.New("chrome crashed")}
	}
	return filepath.Join(r.dir, "invoice-"+order.OrderNumber+".pdf"), nil
}

func (r *stubRenderer) Quote(order domain.Order) (decimal.Decimal, error) {
	total := decimal.Zero
	for i, item := range order.LineItems {
		if item.UnitPrice.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: line %d: %w", domain.ErrValidation, i+1, domain.ErrUnitPriceInvalid)
		}
		total = total.Add(item.UnitPrice.Mul(item.Quantity))
	}
	return total, nil
}

func (r *stubRenderer) renderCalls(orderNumber string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[orderNumber]
}

type stubPrinter struct {
	mu    sync.Mutex
	err   error
	paths []string
}

func (p *stubPrinter) Print(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	return p.err
}

func (p *stubPrinter) printed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *recordingNotifier) Dispatch(_ context.Context, event domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) kinds(orderNumber string) []domain.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.EventKind
	for _, e := range n.events {
		if e.OrderNumber == orderNumber {
			out = append(out, e.Kind)
		}
	}
	return out
}

type failingLedger struct {
	domain.Ledger
}

func (failingLedger) Commit(context.Context, string) error {
	return fmt.Errorf("%w: disk full", domain.ErrLedgerWrite)
}

type stubArchiver struct {
	err      error
	archived []string
}

func (a *stubArchiver) Archive(_ context.Context, orderNumber, _ string) error {
	a.archived = append(a.archived, orderNumber)
	return a.err
}

func order(number string, price string) domain.Order {
	return domain.Order{
		OrderNumber: number,
		Currency:    "EUR",
		Customer:    domain.Customer{FirstName: "Ada", LastName: "Lovelace"},
		LineItems: []domain.LineItem{{
			Description: "Widget",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.RequireFromString(price),
		}},
	}
}

type panickingNotifier struct {
	recordingNotifier
	panicOn domain.EventKind
}

func (n *panickingNotifier) Dispatch(ctx context.Context, event domain.Event) {
	if event.Kind == n.panicOn {
		panic("notifier exploded")
	}
	n.recordingNotifier.Dispatch(ctx, event)
}

type reloadFailingLedger struct {
	domain.Ledger
	err error
}

func (l reloadFailingLedger) Load(context.Context) (domain.ProcessedSet, error) {
	return domain.NewProcessedSet(), l.err
}
