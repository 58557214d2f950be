package kafka

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// EventType — тип события в топике счетов.
type EventType string

const (
	EventTypeNewOrder     EventType = "invoice.new_order"
	EventTypeInvoiceReady EventType = "invoice.ready"
	EventTypeRenderFailed EventType = "invoice.render_failed"
	EventTypePrintFailed  EventType = "invoice.print_failed"
	EventTypeUnknown      EventType = "invoice.unknown"
)

// Topics для Kafka.
const (
	TopicInvoiceEvents   = "invoicer.invoice.events"
	TopicDeadLetterQueue = "invoicer.dlq"
)

// Заголовки сообщений в DLQ.
const (
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// InvoiceEvent — конверт события, публикуемый в Kafka.
type InvoiceEvent struct {
	ID          string           `json:"id"`
	EventType   EventType        `json:"event_type"`
	OrderNumber string           `json:"order_number"`
	Customer    string           `json:"customer,omitempty"`
	Email       string           `json:"email,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Net         *decimal.Decimal `json:"net,omitempty"`
	Artifact    string           `json:"artifact,omitempty"`
	Error       string           `json:"error,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

func eventTypeFor(kind domain.EventKind) EventType {
	switch kind {
	case domain.EventNewOrder:
		return EventTypeNewOrder
	case domain.EventInvoiceReady:
		return EventTypeInvoiceReady
	case domain.EventRenderFailed:
		return EventTypeRenderFailed
	case domain.EventPrintFailed:
		return EventTypePrintFailed
	default:
		return EventTypeUnknown
	}
}

// NewInvoiceEvent строит конверт из события конвейера.
func NewInvoiceEvent(event domain.Event) *InvoiceEvent {
	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	out := &InvoiceEvent{
		ID:          uuid.NewString(),
		EventType:   eventTypeFor(event.Kind),
		OrderNumber: event.OrderNumber,
		Customer:    event.Order.Customer.DisplayName(),
		Email:       event.Order.Customer.Email,
		Currency:    event.Order.Currency,
		Artifact:    event.ArtifactPath,
		Error:       event.ErrorText(),
		Timestamp:   at,
	}
	if len(event.Order.LineItems) > 0 {
		net := decimal.Zero
		for _, item := range event.Order.LineItems {
			net = net.Add(item.UnitPrice.Mul(item.Quantity))
		}
		out.Net = &net
	}
	return out
}
