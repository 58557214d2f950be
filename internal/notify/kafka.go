package notify

import (
	"context"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// Kafka пересылает все события во внешнюю шину.
type Kafka struct {
	publisher domain.EventPublisher
}

// NewKafka оборачивает публикатор событий в канал уведомлений.
func NewKafka(publisher domain.EventPublisher) *Kafka {
	return &Kafka{publisher: publisher}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Notify(ctx context.Context, event domain.Event) error {
	return k.publisher.Publish(ctx, event)
}
