package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"
	"gopkg.in/gomail.v2"

	"github.com/sand/storefront-payments/backend/internal/entities"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func notification(kind entities.PaymentEventKind) entities.Notification {
	return entities.Notification{
		Event: entities.PaymentEvent{
			ID:            "evt-1",
			OrderID:       "order-1",
			PaymentID:     "pay-1",
			Kind:          kind,
			ActorID:       "admin-1",
			ReferenceCode: "QK81XYZ2AB",
			Amount:        decimal.RequireFromString("2500"),
			CreatedAt:     time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		},
		OrderNumber:   "ORD-20250314-0A1B2C3D",
		UserID:        "user-1",
		CustomerEmail: pointy.String("buyer@example.com"),
	}
}

type recordingChannel struct {
	name string
	err  error

	mu   sync.Mutex
	got  []entities.Notification
	ctxs []error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Deliver(ctx context.Context, n entities.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	c.ctxs = append(c.ctxs, ctx.Err())
	return c.err
}

func TestDispatcherFansOutAndOutlivesRequest(t *testing.T) {
	ok := &recordingChannel{name: "ok"}
	broken := &recordingChannel{name: "broken", err: errors.New("smtp down")}
	d := NewDispatcher(discardLogger(), ok, broken)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.Notify(ctx, notification(entities.PaymentEventSubmitted))
	d.Wait()

	require.Len(t, ok.got, 1)
	require.Len(t, broken.got, 1)
	require.NoError(t, ok.ctxs[0])
	require.Equal(t, "order-1", ok.got[0].Event.OrderID)
}

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (s *fakeSender) DialAndSend(m ...*gomail.Message) error {
	s.sent = append(s.sent, m...)
	return s.err
}

func TestEmailChannelRecipients(t *testing.T) {
	tests := []struct {
		name    string
		kind    entities.PaymentEventKind
		email   *string
		admin   string
		to      string
		subject string
	}{
		{name: "confirmed goes to customer", kind: entities.PaymentEventConfirmed, email: pointy.String("buyer@example.com"), to: "buyer@example.com", subject: "Payment confirmed"},
		{name: "rejected goes to customer", kind: entities.PaymentEventRejected, email: pointy.String("buyer@example.com"), to: "buyer@example.com", subject: "Payment not confirmed"},
		{name: "confirmed without email", kind: entities.PaymentEventConfirmed},
		{name: "submitted goes to admin", kind: entities.PaymentEventSubmitted, admin: "ops@example.com", to: "ops@example.com", subject: "New payment to verify"},
		{name: "stale goes to admin", kind: entities.PaymentEventStale, admin: "ops@example.com", to: "ops@example.com", subject: "Payment still awaiting"},
		{name: "submitted without admin", kind: entities.PaymentEventSubmitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			ch := &EmailChannel{sender: sender, from: "payments@example.com", admin: tt.admin}

			n := notification(tt.kind)
			n.CustomerEmail = tt.email
			require.NoError(t, ch.Deliver(context.Background(), n))

			if tt.to == "" {
				require.Empty(t, sender.sent)
				return
			}
			require.Len(t, sender.sent, 1)
			require.Equal(t, []string{tt.to}, sender.sent[0].GetHeader("To"))
			require.True(t, strings.HasPrefix(sender.sent[0].GetHeader("Subject")[0], tt.subject))
		})
	}
}

func TestEmailChannelRejectionCarriesReason(t *testing.T) {
	ch := &EmailChannel{sender: &fakeSender{}}
	n := notification(entities.PaymentEventRejected)
	n.Event.Note = pointy.String("code mismatch")

	to, _, body := ch.compose(n)
	require.Equal(t, "buyer@example.com", to)
	require.Contains(t, body, "Reason: code mismatch")
	require.Contains(t, body, "QK81XYZ2AB")
}

func TestEmailChannelSendFailure(t *testing.T) {
	ch := &EmailChannel{sender: &fakeSender{err: errors.New("auth failed")}, admin: "ops@example.com"}
	err := ch.Deliver(context.Background(), notification(entities.PaymentEventSubmitted))
	require.ErrorContains(t, err, "auth failed")
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestProducerPublishesKeyedEnvelopes(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(discardLogger(), w, "storefront-payments", 4)
	p.Start(context.Background())

	require.NoError(t, p.Deliver(context.Background(), notification(entities.PaymentEventSubmitted)))
	require.NoError(t, p.Deliver(context.Background(), notification(entities.PaymentEventConfirmed)))

	p.Close()
	p.WaitClosed()

	require.True(t, w.closed)
	require.Len(t, w.msgs, 2)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &env))
	require.Equal(t, "order-1", string(w.msgs[1].Key))
	require.Equal(t, "payment.confirmed", env.EventType)
	require.Equal(t, "storefront-payments", env.Producer)
	require.Equal(t, "QK81XYZ2AB", env.Payload.Event.ReferenceCode)
	require.NotContains(t, string(w.msgs[1].Value), "buyer@example.com")

	require.ErrorIs(t, p.Deliver(context.Background(), notification(entities.PaymentEventRejected)), ErrProducerClosed)
}

func TestProducerFlushesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(discardLogger(), w, "storefront-payments", 8)

	for range 3 {
		require.NoError(t, p.Deliver(context.Background(), notification(entities.PaymentEventSubmitted)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Start(ctx)
	p.WaitClosed()

	require.Len(t, w.msgs, 3)
	require.True(t, w.closed)
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	hub := NewHub(discardLogger())
	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Add(conn, "admin-1")
		close(registered)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	<-registered
	require.Equal(t, 1, hub.Len())

	require.NoError(t, hub.Deliver(context.Background(), notification(entities.PaymentEventSubmitted)))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got entities.Notification
	require.NoError(t, client.ReadJSON(&got))
	require.Equal(t, entities.PaymentEventSubmitted, got.Event.Kind)
	require.Equal(t, "ORD-20250314-0A1B2C3D", got.OrderNumber)
	require.Nil(t, got.CustomerEmail)

	hub.Close()
	require.Zero(t, hub.Len())
}
