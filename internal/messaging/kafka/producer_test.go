package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

func newMockProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return newProducer(mockProducer, log.WithField("component", "kafka-producer-test")), mockProducer
}

func testEvent(kind domain.EventKind) domain.Event {
	order := domain.Order{
		OrderNumber: "1001",
		Currency:    "EUR",
		Customer:    domain.Customer{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		LineItems: []domain.LineItem{
			{Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("10.25")},
		},
	}
	return domain.NewEvent(kind, order)
}

func TestProducer_PublishEvent(t *testing.T) {
	producer, mockProducer := newMockProducer(t)

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got map[string]any
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got["order_number"] != "1001" {
			return errors.New("unexpected order number")
		}
		return nil
	})

	err := producer.PublishEvent(TopicInvoiceEvents, "1001", map[string]string{"order_number": "1001"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	if err := producer.PublishEvent(TopicInvoiceEvents, "1001", struct{}{}); err == nil {
		t.Fatal("expected error, got nil")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_CloseNil(t *testing.T) {
	var producer *Producer
	if err := producer.Close(); err != nil {
		t.Fatalf("closing nil producer should not fail: %v", err)
	}
}

func TestNewProducer_NoBrokers(t *testing.T) {
	if _, err := NewProducer(nil); err == nil {
		t.Fatal("expected error for empty broker list")
	}
}

func TestParseBrokers(t *testing.T) {
	got := ParseBrokers(" broker1:9092, ,broker2:9092,")
	if len(got) != 2 || got[0] != "broker1:9092" || got[1] != "broker2:9092" {
		t.Fatalf("unexpected brokers: %v", got)
	}
	if ParseBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestNewInvoiceEvent(t *testing.T) {
	event := testEvent(domain.EventInvoiceReady)
	event.ArtifactPath = "/out/invoice-1001.pdf"

	envelope := NewInvoiceEvent(event)

	if envelope.EventType != EventTypeInvoiceReady {
		t.Errorf("expected event type %s, got %s", EventTypeInvoiceReady, envelope.EventType)
	}
	if envelope.ID == "" {
		t.Error("expected generated event id")
	}
	if envelope.Customer != "Ada Lovelace" || envelope.Email != "ada@example.com" {
		t.Errorf("unexpected customer fields: %+v", envelope)
	}
	if envelope.Net == nil || envelope.Net.StringFixed(2) != "20.50" {
		t.Errorf("unexpected net: %v", envelope.Net)
	}
	if time.Since(envelope.Timestamp) > time.Minute {
		t.Error("timestamp should be close to current time")
	}
	if NewInvoiceEvent(domain.Event{Kind: "weird"}).EventType != EventTypeUnknown {
		t.Error("unknown kinds must map to EventTypeUnknown")
	}
}

func TestEventPublisher_InvoiceReadyGoesToMainTopic(t *testing.T) {
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageAndSucceed()

	publisher := NewEventPublisher(producer, "", "")
	if err := publisher.Publish(context.Background(), testEvent(domain.EventInvoiceReady)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEventPublisher_RenderFailedAlsoGoesToDLQ(t *testing.T) {
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageAndSucceed()
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			return errors.New("expected dlq topic, got " + msg.Topic)
		}
		for _, h := range msg.Headers {
			if string(h.Key) == HeaderErrorMessage && string(h.Value) == "chrome crashed" {
				return nil
			}
		}
		return errors.New("missing error header")
	})

	event := testEvent(domain.EventRenderFailed)
	event.Err = errors.New("chrome crashed")

	publisher := NewEventPublisher(producer, TopicInvoiceEvents, TopicDeadLetterQueue)
	if err := publisher.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestEventPublisher_NotInitialized(t *testing.T) {
	var publisher *EventPublisher
	if err := publisher.Publish(context.Background(), testEvent(domain.EventNewOrder)); err == nil {
		t.Fatal("expected error for nil publisher")
	}
}
