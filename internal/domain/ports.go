package domain

import (
	"context"
	"time"
)

// OrderSource отдаёт заказы за скользящее окно. Один и тот же заказ может
// приходить в нескольких циклах подряд; дедупликацией занимается Ledger.
type OrderSource interface {
	FetchRecentOrders(ctx context.Context) ([]Order, error)
}

// Ledger хранит номера полностью обработанных заказов.
type Ledger interface {
	// Load читает множество; отсутствующее или повреждённое хранилище даёт пустое множество.
	Load(ctx context.Context) (ProcessedSet, error)
	Contains(id string) bool
	// Commit синхронно и надёжно фиксирует номер; повторный Commit не ошибка.
	Commit(ctx context.Context, id string) error
}

// DeadLetterStore ведёт список заказов, которые не удалось отрендерить.
type DeadLetterStore interface {
	Record(ctx context.Context, order Order, cause error) (DeadLetter, error)
	Clear(ctx context.Context, orderNumber string) error
	Get(ctx context.Context, orderNumber string) (DeadLetter, error)
	List(ctx context.Context) ([]DeadLetter, error)
}

// Renderer превращает заказ в PDF-файл и возвращает путь к нему.
type Renderer interface {
	Render(ctx context.Context, order Order) (string, error)
}

// Printer отправляет готовый файл на принтер.
type Printer interface {
	Print(ctx context.Context, path string) error
}

// Notifier рассылает событие по всем каналам; ошибки каналов не возвращаются.
type Notifier interface {
	Dispatch(ctx context.Context, event Event)
}

// ReportJournal — журнал обработанных заказов для дайджестов.
type ReportJournal interface {
	Append(ctx context.Context, entry ReportEntry) error
	Range(ctx context.Context, from, to time.Time) ([]ReportEntry, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

// ArtifactArchiver копирует готовый PDF во внешнее хранилище.
type ArtifactArchiver interface {
	Archive(ctx context.Context, orderNumber, path string) error
}

// EventPublisher отправляет событие конвейера во внешнюю шину.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
