package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/sand/storefront-payments/backend/internal/entities"
)

// RecordingNotifier keeps every notification it receives.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []entities.Notification
}

func (n *RecordingNotifier) Notify(_ context.Context, note entities.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *RecordingNotifier) Sent() []entities.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]entities.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *RecordingNotifier) Kinds() []entities.PaymentEventKind {
	var out []entities.PaymentEventKind
	for _, note := range n.Sent() {
		out = append(out, note.Event.Kind)
	}
	return out
}

// MemoryStatsCache is a StatisticsCache without expiry.
type MemoryStatsCache struct {
	mu          sync.Mutex
	stats       *entities.Statistics
	Invalidated int
}

func (c *MemoryStatsCache) Get(context.Context) (*entities.Statistics, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats == nil {
		return nil, false, nil
	}
	out := *c.stats
	return &out, true, nil
}

func (c *MemoryStatsCache) Set(_ context.Context, stats *entities.Statistics) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := *stats
	c.stats = &out
	return nil
}

func (c *MemoryStatsCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = nil
	c.Invalidated++
	return nil
}

// Clock advances by Step on every call.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start, Step: step}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.Step)
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
