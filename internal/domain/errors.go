package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — заказ или позиция структурно некорректны; заказ отбрасывается до конвейера.
	ErrValidation = errors.New("order validation failed")
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("orderNumber is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrLineItemsRequired = errors.New("order must contain at least one line item")
	// Ошибка при некорректном количестве (<= 0).
	ErrQuantityInvalid = errors.New("line item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrUnitPriceInvalid = errors.New("line item unit price must be non-negative")
	// Ошибка, если ставка налога вне диапазона [0, 1].
	ErrTaxRateInvalid = errors.New("tax rate must be within [0, 1]")

	// ErrFetchTransient — временная ошибка commerce API (5xx, таймаут, сеть).
	ErrFetchTransient = errors.New("order fetch transient failure")
	// ErrFetchFatal — ошибка конфигурации (401/403/404), повторять бессмысленно.
	ErrFetchFatal = errors.New("order fetch non-retryable failure")

	// ErrRender — не удалось построить PDF-счёт.
	ErrRender = errors.New("invoice render failed")
	// ErrEmptyArtifact — движок вернул пустой документ.
	ErrEmptyArtifact = errors.New("rendered artifact is empty")
	// ErrPrint — ошибка печати, на обработку заказа не влияет.
	ErrPrint = errors.New("print failed")
	// ErrNotification — ошибка канала уведомлений, наружу не пробрасывается.
	ErrNotification = errors.New("notification failed")

	// ErrLedgerWrite — не удалось сохранить журнал обработанных заказов. Фатально.
	ErrLedgerWrite = errors.New("ledger write failed")
	// ErrLedgerCorrupt — файл журнала повреждён; при загрузке трактуется как пустой.
	ErrLedgerCorrupt = errors.New("ledger file is corrupt")
	// ErrDeadLetterNotFound — записи о заказе нет в dead-letter списке.
	ErrDeadLetterNotFound = errors.New("dead letter not found")

	// ErrCycleInProgress — предыдущий цикл ещё выполняется, новый пропускается.
	ErrCycleInProgress = errors.New("cycle already in progress")
)

// FetchError описывает неудачную выборку заказов.
type FetchError struct {
	StatusCode int
	Attempts   int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	kind := "non-retryable"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch orders (%s, status %d, attempts %d): %v", kind, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch orders (%s, attempts %d): %v", kind, e.Attempts, e.Err)
}

// Unwrap позволяет сопоставлять ошибку и с причиной, и с классом.
func (e *FetchError) Unwrap() []error {
	class := ErrFetchFatal
	if e.Transient {
		class = ErrFetchTransient
	}
	return []error{class, e.Err}
}

// RenderError описывает сбой построения счёта для конкретного заказа.
type RenderError struct {
	OrderNumber string
	Stage       string
	Err         error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render invoice %s (%s): %v", e.OrderNumber, e.Stage, e.Err)
}

func (e *RenderError) Unwrap() []error {
	return []error{ErrRender, e.Err}
}

// IsTransientFetch проверяет, что выборку можно повторить в следующем цикле.
func IsTransientFetch(err error) bool {
	return errors.Is(err, ErrFetchTransient)
}

// IsFatalFetch проверяет, что выборка упала из-за конфигурации.
func IsFatalFetch(err error) bool {
	return errors.Is(err, ErrFetchFatal)
}

// IsLedgerWrite проверяет, что ошибка требует остановки процесса.
func IsLedgerWrite(err error) bool {
	return errors.Is(err, ErrLedgerWrite)
}
