package domain

import "time"

// EventKind — тип события конвейера для каналов уведомлений.
type EventKind string

const (
	// EventNewOrder — найден новый, ещё не обработанный заказ.
	EventNewOrder EventKind = "new_order"
	// EventInvoiceReady — счёт построен, заказ зафиксирован в журнале.
	EventInvoiceReady EventKind = "invoice_ready"
	// EventRenderFailed — счёт построить не удалось, заказ будет повторён.
	EventRenderFailed EventKind = "render_failed"
	// EventPrintFailed — печать не удалась, заказ всё равно считается обработанным.
	EventPrintFailed EventKind = "print_failed"
)

// Event передаётся в Notifier.
type Event struct {
	Kind         EventKind
	OrderNumber  string
	Order        Order
	ArtifactPath string
	Err          error
	At           time.Time
}

// NewEvent заполняет время события.
func NewEvent(kind EventKind, order Order) Event {
	return Event{
		Kind:        kind,
		OrderNumber: order.OrderNumber,
		Order:       order,
		At:          time.Now().UTC(),
	}
}

// ErrorText возвращает текст ошибки или пустую строку.
func (e Event) ErrorText() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
