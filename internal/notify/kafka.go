package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	cfg "github.com/sand/storefront-payments/backend/config"
	"github.com/sand/storefront-payments/backend/internal/entities"
)

const eventVersion = 1

var ErrProducerClosed = errors.New("event producer is closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the wire format of payment events on the topic.
type Envelope struct {
	EventID      string                `json:"event_id"`
	EventType    string                `json:"event_type"`
	EventVersion int                   `json:"event_version"`
	OccurredAt   time.Time             `json:"occurred_at"`
	Producer     string                `json:"producer"`
	Payload      entities.Notification `json:"payload"`
}

// Producer publishes payment events keyed by order id, so every event of
// an order lands on the same partition in order.
type Producer struct {
	logger   *slog.Logger
	w        messageWriter
	producer string

	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewProducer(logger *slog.Logger, config *cfg.Config, buf int) *Producer {
	return newProducer(logger, &kafka.Writer{
		Addr:         kafka.TCP(config.Kafka.Brokers...),
		Topic:        config.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, config.App.Name, buf)
}

func newProducer(logger *slog.Logger, w messageWriter, producer string, buf int) *Producer {
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		logger:   logger,
		w:        w,
		producer: producer,
		inbox:    make(chan kafka.Message, buf),
		closeCh:  make(chan struct{}),
	}
}

func (p *Producer) Name() string { return "kafka" }

// Start drains the inbox until Close, then flushes what is left.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				for m := range p.inbox {
					p.write(m)
				}
				p.closeWriter()
				return
			case m, ok := <-p.inbox:
				if !ok {
					p.closeWriter()
					return
				}
				p.write(m)
			}
		}
	}()
}

// Deliver enqueues n without waiting for the broker.
func (p *Producer) Deliver(ctx context.Context, n entities.Notification) error {
	value, err := json.Marshal(Envelope{
		EventID:      uuid.NewString(),
		EventType:    "payment." + string(n.Event.Kind),
		EventVersion: eventVersion,
		OccurredAt:   n.Event.CreatedAt,
		Producer:     p.producer,
		Payload:      n,
	})
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	select {
	case p.inbox <- kafka.Message{Key: []byte(n.Event.OrderID), Value: value, Time: time.Now()}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.Error("Failed to publish payment event", "key", string(m.Key), "error", err)
	}
}

func (p *Producer) closeWriter() {
	if err := p.w.Close(); err != nil {
		p.logger.Error("Failed to close kafka writer", "error", err)
	}
}

// Close stops accepting events; Start's goroutine flushes the rest and exits.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until the queued events are flushed.
func (p *Producer) WaitClosed() { <-p.closeCh }
