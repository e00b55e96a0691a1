// Package events публикует подтверждённые изменения статусов заказов в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/mmeshcher/order-tracker/internal/metrics"
	"github.com/mmeshcher/order-tracker/internal/model"
	"github.com/mmeshcher/order-tracker/internal/status"
)

// StatusEvent описывает сообщение об изменении статуса заказа.
type StatusEvent struct {
	EventID         string             `json:"eventId"`
	OrderID         string             `json:"orderId"`
	TrackingID      string             `json:"trackingId"`
	From            model.Status       `json:"from"`
	To              model.Status       `json:"to"`
	Label           string             `json:"label"`
	ProgressPercent int                `json:"progressPercent"`
	PaymentState    model.PaymentState `json:"paymentState"`
	ActorRole       model.Role         `json:"actorRole"`
	ActorID         string             `json:"actorId,omitempty"`
	ChangedAt       time.Time          `json:"changedAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher пишет изменения статусов в топик. Ключом сообщения служит идентификатор заказа,
// поэтому изменения одного заказа попадают в одну партицию в порядке публикации.
type Publisher struct {
	w       messageWriter
	metrics *metrics.Metrics
}

// NewPublisher создаёт публикатора поверх kafka.Writer.
func NewPublisher(brokers []string, topic string, m *metrics.Metrics) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
		metrics: m,
	}
}

// StatusChanged публикует изменение. Реализует tracker.Listener.
func (p *Publisher) StatusChanged(ctx context.Context, ch model.StatusChange) error {
	msg, err := buildMessage(ctx, ch)
	if err != nil {
		p.metrics.ObservePublish(false)
		return err
	}

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.metrics.ObservePublish(false)
		return fmt.Errorf("publish status change %s: %w", ch.ID, err)
	}

	p.metrics.ObservePublish(true)
	return nil
}

// Close освобождает ресурсы writer.
func (p *Publisher) Close() error { return p.w.Close() }

func newEvent(ch model.StatusChange) StatusEvent {
	entry := status.Lookup(ch.To)
	return StatusEvent{
		EventID:         ch.ID,
		OrderID:         ch.OrderID,
		TrackingID:      ch.TrackingID,
		From:            ch.From,
		To:              ch.To,
		Label:           entry.Label,
		ProgressPercent: entry.ProgressPercent,
		PaymentState:    ch.PaymentState,
		ActorRole:       ch.ActorRole,
		ActorID:         ch.ActorID,
		ChangedAt:       ch.ChangedAt,
	}
}

func buildMessage(ctx context.Context, ch model.StatusChange) (kafka.Message, error) {
	body, err := json.Marshal(newEvent(ch))
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal status event: %w", err)
	}

	carrier := headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	return kafka.Message{
		Key:     []byte(ch.OrderID),
		Value:   body,
		Headers: carrier.headers,
		Time:    ch.ChangedAt,
	}, nil
}

// headerCarrier переносит контекст трассировки в заголовки сообщения Kafka.
type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range c.headers {
		if h.Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
