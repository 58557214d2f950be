package notify

import (
	"context"
	"fmt"

	"github.com/gen2brain/beeep"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// Desktop показывает системное уведомление.
type Desktop struct {
	appName string
	notify  func(title, message string) error
}

// NewDesktop создаёт канал всплывающих уведомлений.
func NewDesktop(appName string) *Desktop {
	if appName == "" {
		appName = "Invoicer"
	}
	return &Desktop{
		appName: appName,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Accepts(kind domain.EventKind) bool {
	return kind != domain.EventInvoiceReady
}

func (d *Desktop) Notify(_ context.Context, event domain.Event) error {
	title, message := desktopText(d.appName, event)
	return d.notify(title, message)
}

func desktopText(app string, event domain.Event) (string, string) {
	customer := event.Order.Customer.DisplayName()
	switch event.Kind {
	case domain.EventNewOrder:
		return app + ": new order", fmt.Sprintf("Order %s from %s", event.OrderNumber, customer)
	case domain.EventRenderFailed:
		return app + ": invoice failed", fmt.Sprintf("Order %s: %s", event.OrderNumber, event.ErrorText())
	case domain.EventPrintFailed:
		return app + ": print failed", fmt.Sprintf("Order %s: %s", event.OrderNumber, event.ErrorText())
	default:
		return app, fmt.Sprintf("Order %s: %s", event.OrderNumber, event.Kind)
	}
}
