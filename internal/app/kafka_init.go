package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/messaging/kafka"
)

// initKafkaProducer создаёт producer, если список brokers не пуст.
// Возвращает nil, nil для пустого списка.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initEventPublisher связывает producer с топиками событий счетов.
// Без producer возвращает nil: канал kafka просто не подключается.
func initEventPublisher(producer *kafka.Producer, cfg Config) domain.EventPublisher {
	if producer == nil {
		return nil
	}
	return kafka.NewEventPublisher(producer, cfg.KafkaTopic, cfg.KafkaDLQTopic)
}

// closeKafka закрывает producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
