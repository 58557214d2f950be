package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/invoicer/internal/notify"
	"github.com/vladislavdragonenkov/invoicer/internal/service/pipeline"
)

// Operator даёт оператору доступ к dead-letter списку и повторной обработке
// заказов тем же конвейером, что и основной процесс.
type Operator struct {
	deps      *runtimeDependencies
	processor *pipeline.Processor
	fanout    *notify.Fanout
	producer  *kafka.Producer
	logger    *log.Entry
}

// NewOperator открывает хранилища и собирает конвейер без планировщика.
func NewOperator(ctx context.Context, cfg Config) (*Operator, error) {
	logger := log.WithField("component", "operator")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	op := &Operator{deps: deps, logger: logger}

	source, err := newCommerceClient(cfg, logger, nil)
	if err != nil {
		_ = op.Close()
		return nil, fmt.Errorf("init commerce client: %w", err)
	}
	renderer, _, err := newRenderer(cfg, logger)
	if err != nil {
		_ = op.Close()
		return nil, fmt.Errorf("init renderer: %w", err)
	}
	archiver, err := newArchiver(ctx, cfg, logger)
	if err != nil {
		_ = op.Close()
		return nil, err
	}

	op.producer, _ = initKafkaProducer(cfg.KafkaBrokers, logger)
	channels := buildNotifiers(cfg, initEventPublisher(op.producer, cfg), logger, nil)
	op.fanout = channels.fanout

	op.processor, err = newProcessor(deps, source, renderer, newPrinter(cfg, logger, nil), channels.fanout, archiver, logger, nil)
	if err != nil {
		_ = op.Close()
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	return op, nil
}

// List возвращает заказы, которые не удалось обработать.
func (o *Operator) List(ctx context.Context) ([]domain.DeadLetter, error) {
	return o.deps.DeadLetters.List(ctx)
}

// Get возвращает запись по номеру заказа.
func (o *Operator) Get(ctx context.Context, orderNumber string) (domain.DeadLetter, error) {
	return o.deps.DeadLetters.Get(ctx, orderNumber)
}

// Drop удаляет запись без повторной обработки.
func (o *Operator) Drop(ctx context.Context, orderNumber string) error {
	if _, err := o.deps.DeadLetters.Get(ctx, orderNumber); err != nil {
		return err
	}
	return o.deps.DeadLetters.Clear(ctx, orderNumber)
}

// Replay прогоняет заказы через конвейер. Уже учтённые в журнале пропускаются.
func (o *Operator) Replay(ctx context.Context, orders []domain.Order) (pipeline.CycleReport, error) {
	return o.processor.Replay(ctx, orders)
}

// Close дожидается уведомлений и закрывает соединения.
func (o *Operator) Close() error {
	if o.fanout != nil {
		o.fanout.Wait()
	}
	closeKafka(o.producer, o.logger)
	return o.deps.Close()
}
