package domain

import "time"

// DeadLetter — заказ, который не удалось отрендерить.
//
// Заказ остаётся вне Ledger и повторяется каждый цикл, пока попадает в окно
// выборки. Если окно ушло вперёд, запись остаётся единственным следом такого заказа.
type DeadLetter struct {
	OrderNumber   string    `json:"orderNumber"`
	Attempts      int       `json:"attempts"`
	FirstFailedAt time.Time `json:"firstFailedAt"`
	LastFailedAt  time.Time `json:"lastFailedAt"`
	LastError     string    `json:"lastError"`
	Order         Order     `json:"order"`
}

// NextAttempt обновляет запись после очередной неудачи.
func (d DeadLetter) NextAttempt(order Order, cause error, at time.Time) DeadLetter {
	if d.OrderNumber == "" {
		d.OrderNumber = order.OrderNumber
		d.FirstFailedAt = at
	}
	d.Attempts++
	d.LastFailedAt = at
	d.Order = order
	if cause != nil {
		d.LastError = cause.Error()
	}
	return d
}
