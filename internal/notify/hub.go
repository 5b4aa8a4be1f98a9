package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/metrics"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 64

// Hub distributes messages to in-process subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Message]struct{}
	closed bool

	bufferSize int
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewHub creates a hub. bufferSize <= 0 selects DefaultBufferSize;
// m may be nil.
func NewHub(bufferSize int, m *metrics.Metrics, logger zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[chan Message]struct{}),
		bufferSize: bufferSize,
		metrics:    m,
		logger:     logger.With().Str("component", "notify").Logger(),
		now:        time.Now,
	}
}

// Subscribe creates a channel receiving every published message. The
// channel is closed by Unsubscribe or Close. Subscribing to a closed hub
// returns an already closed channel.
func (h *Hub) Subscribe() chan Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Message, h.bufferSize)
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes ch.
func (h *Hub) Unsubscribe(ch chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast encodes payload and publishes it locally.
func (h *Hub) Broadcast(ctx context.Context, kind Kind, payload any) {
	msg, err := Encode(kind, payload, h.now())
	if err != nil {
		h.logger.Error().Err(err).Str("event", kind.String()).Msg("failed to encode event")
		return
	}
	h.metrics.RecordEventBroadcast(msg.Event)
	h.Publish(msg)
}

// Publish sends msg to every subscriber without blocking. A subscriber
// whose buffer is full misses the message.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.logger.Warn().Str("event", msg.Event).Msg("event dropped: subscriber buffer full")
			h.metrics.RecordEventDropped(msg.Event)
		}
	}
}

// Close disconnects every subscriber. Later publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

// Ensure Hub implements Notifier.
var _ Notifier = (*Hub)(nil)
