// Package activity keeps running counters and a short history of what the
// hub has done, fed by the hub's lifecycle events on the bus.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/sharedhub/internal/hub"
	"github.com/nfrund/sharedhub/internal/pubsub"
)

const defaultRecentCapacity = 50

// Event is one hub event as seen by the tracker.
type Event struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Connection string          `json:"connection,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Counters are totals since the tracker started.
type Counters struct {
	Opened         int64  `json:"opened"`
	Closed         int64  `json:"closed"`
	ExplicitCloses int64  `json:"explicit_closes"`
	ChannelErrors  int64  `json:"channel_errors"`
	ShutdownCloses int64  `json:"shutdown_closes"`
	ThemeToggles   int64  `json:"theme_toggles"`
	ChatsRelayed   int64  `json:"chats_relayed"`
	ChatDeliveries int64  `json:"chat_deliveries"`
	Live           int64  `json:"live"`
	LastTheme      string `json:"last_theme,omitempty"`
}

// Stats is a snapshot returned by Tracker.Stats. Recent is newest first.
type Stats struct {
	Counters
	Recent []Event `json:"recent"`
}

// Tracker aggregates hub events from a subscriber.
type Tracker struct {
	sub    pubsub.Subscriber
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	counters Counters
	recent   []Event
	next     int
	filled   bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithCapacity sets how many recent events are kept.
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.recent = make([]Event, n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates a tracker reading from sub. Call Start to subscribe.
func NewTracker(sub pubsub.Subscriber, opts ...Option) *Tracker {
	t := &Tracker{
		sub:    sub,
		logger: slog.Default(),
		now:    time.Now,
		recent: make([]Event, defaultRecentCapacity),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "activity")
	return t
}

// Start subscribes to every hub topic. Delivery stops when ctx is done.
func (t *Tracker) Start(ctx context.Context) error {
	for _, topic := range hub.Topics {
		if err := t.sub.Subscribe(ctx, topic, t.handle); err != nil {
			return fmt.Errorf("activity: subscribe %s: %w", topic, err)
		}
	}
	t.logger.Info("Activity tracker subscribed", "topics", len(hub.Topics))
	return nil
}

func (t *Tracker) handle(_ context.Context, msg pubsub.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch msg.Topic {
	case hub.TopicConnectionOpened:
		var ev hub.ConnectionOpened
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Topic, err)
		}
		t.counters.Opened++
		t.counters.Live++
		t.counters.LastTheme = string(ev.Theme)

	case hub.TopicConnectionClosed:
		var ev hub.ConnectionClosed
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Topic, err)
		}
		t.counters.Closed++
		t.counters.Live--
		switch ev.Reason {
		case hub.ReasonExplicit:
			t.counters.ExplicitCloses++
		case hub.ReasonChannelError:
			t.counters.ChannelErrors++
		case hub.ReasonShutdown:
			t.counters.ShutdownCloses++
		}

	case hub.TopicThemeChanged:
		var ev hub.ThemeChanged
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Topic, err)
		}
		t.counters.ThemeToggles++
		t.counters.LastTheme = string(ev.Theme)

	case hub.TopicChatRelayed:
		var ev hub.ChatRelayed
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Topic, err)
		}
		t.counters.ChatsRelayed++
		t.counters.ChatDeliveries += int64(ev.Recipients)

	default:
		t.logger.Debug("Ignoring event on unexpected topic", "topic", msg.Topic)
		return nil
	}

	t.record(Event{
		ID:         uuid.NewString(),
		Topic:      msg.Topic,
		Connection: msg.UserID,
		ReceivedAt: t.now().UTC(),
		Payload:    json.RawMessage(msg.Payload),
	})
	return nil
}

// record appends to the ring. Caller holds mu.
func (t *Tracker) record(ev Event) {
	t.recent[t.next] = ev
	t.next = (t.next + 1) % len(t.recent)
	if t.next == 0 {
		t.filled = true
	}
}

// Stats returns a copy of the counters and the recent events.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.next
	if t.filled {
		n = len(t.recent)
	}
	recent := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (t.next - i + len(t.recent)) % len(t.recent)
		recent = append(recent, t.recent[idx])
	}
	return Stats{Counters: t.counters, Recent: recent}
}
