package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// EventPublisher публикует события конвейера в топик счетов.
// События render_failed дополнительно уходят в DLQ-топик с заголовками ошибки.
type EventPublisher struct {
	producer *Producer
	topic    string
	dlqTopic string
}

// NewEventPublisher создаёт публикатор; пустые топики заменяются значениями по умолчанию.
func NewEventPublisher(producer *Producer, topic, dlqTopic string) *EventPublisher {
	if topic == "" {
		topic = TopicInvoiceEvents
	}
	if dlqTopic == "" {
		dlqTopic = TopicDeadLetterQueue
	}
	return &EventPublisher{producer: producer, topic: topic, dlqTopic: dlqTopic}
}

func (p *EventPublisher) Publish(ctx context.Context, event domain.Event) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka event publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	envelope := NewInvoiceEvent(event)
	if err := p.producer.PublishEvent(p.topic, event.OrderNumber, envelope); err != nil {
		return err
	}
	if event.Kind != domain.EventRenderFailed {
		return nil
	}

	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderOriginalTopic), Value: []byte(p.topic)},
		{Key: []byte(HeaderErrorMessage), Value: []byte(event.ErrorText())},
		{Key: []byte(HeaderFailedAt), Value: []byte(envelope.Timestamp.Format(time.RFC3339))},
	}
	return p.producer.PublishEvent(p.dlqTopic, event.OrderNumber, envelope, headers...)
}

var _ domain.EventPublisher = (*EventPublisher)(nil)
