// Package notify рассылает события конвейера по независимым каналам:
// звук, всплывающее окно, почта, Kafka. Ошибка или паника одного канала
// не влияет ни на другие каналы, ни на обработку заказа.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
	"github.com/vladislavdragonenkov/invoicer/internal/metrics"
)

const defaultChannelTimeout = 30 * time.Second

// Channel — один канал уведомлений.
type Channel interface {
	Name() string
	Notify(ctx context.Context, event domain.Event) error
}

// Filter реализуют каналы, которым нужны не все типы событий.
type Filter interface {
	Accepts(kind domain.EventKind) bool
}

type registration struct {
	channel  Channel
	detached bool
}

// Fanout вызывает каналы по очереди, каждый в своей границе ошибок.
// Отсоединённые каналы запускаются в горутине и не ожидаются.
type Fanout struct {
	channels []registration
	timeout  time.Duration
	logger   *log.Entry
	metrics  *metrics.PipelineMetrics
	wg       sync.WaitGroup
}

// NewFanout создаёт пустой fan-out.
func NewFanout(logger *log.Entry, m *metrics.PipelineMetrics) *Fanout {
	if logger == nil {
		logger = log.WithField("component", "notify")
	}
	return &Fanout{timeout: defaultChannelTimeout, logger: logger, metrics: m}
}

// Add регистрирует канал, который вызывается синхронно.
func (f *Fanout) Add(ch Channel) *Fanout {
	if ch != nil {
		f.channels = append(f.channels, registration{channel: ch})
	}
	return f
}

// AddDetached регистрирует канал, который не блокирует конвейер.
func (f *Fanout) AddDetached(ch Channel) *Fanout {
	if ch != nil {
		f.channels = append(f.channels, registration{channel: ch, detached: true})
	}
	return f
}

// Channels возвращает имена зарегистрированных каналов.
func (f *Fanout) Channels() []string {
	names := make([]string, 0, len(f.channels))
	for _, reg := range f.channels {
		names = append(names, reg.channel.Name())
	}
	return names
}

// Dispatch отправляет событие во все подходящие каналы. Ошибки только логируются.
func (f *Fanout) Dispatch(ctx context.Context, event domain.Event) {
	for _, reg := range f.channels {
		if filter, ok := reg.channel.(Filter); ok && !filter.Accepts(event.Kind) {
			continue
		}
		if reg.detached {
			f.wg.Add(1)
			go func(ch Channel) {
				defer f.wg.Done()
				// Отсоединённый канал переживает отмену цикла.
				f.deliver(context.WithoutCancel(ctx), ch, event)
			}(reg.channel)
			continue
		}
		f.deliver(ctx, reg.channel, event)
	}
}

// Wait дожидается отсоединённых каналов; вызывается при остановке.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

func (f *Fanout) deliver(ctx context.Context, ch Channel, event domain.Event) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	entry := f.logger.WithFields(log.Fields{
		"channel":      ch.Name(),
		"event":        event.Kind,
		"order_number": event.OrderNumber,
	})

	err := safeNotify(ctx, ch, event)
	if err != nil {
		f.metrics.RecordNotification(ch.Name(), "failed")
		entry.WithError(err).Warn("notification failed")
		return
	}
	f.metrics.RecordNotification(ch.Name(), "ok")
	entry.Debug("notification delivered")
}

func safeNotify(ctx context.Context, ch Channel, event domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: channel %s panicked: %v", domain.ErrNotification, ch.Name(), r)
		}
	}()
	if err := ch.Notify(ctx, event); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrNotification, ch.Name(), err)
	}
	return nil
}

var _ domain.Notifier = (*Fanout)(nil)
