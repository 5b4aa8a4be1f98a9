// Package notify pushes catalog change events to connected clients.
//
// A Hub fans frames out to in-process subscribers, Handler exposes the hub
// over websocket, and RedisRelay shares events between server instances.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a change event.
type Kind int

const (
	KindMovieCreated Kind = iota + 1
	KindMovieUpdated
	KindMovieDeleted
	KindMovieRated
)

// String returns the wire name of the event.
func (k Kind) String() string {
	switch k {
	case KindMovieCreated:
		return "movieCreated"
	case KindMovieUpdated:
		return "movieUpdated"
	case KindMovieDeleted:
		return "movieDeleted"
	case KindMovieRated:
		return "movieRated"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Notifier broadcasts change events. Delivery is best effort: Broadcast
// never blocks on slow subscribers and never fails the caller.
type Notifier interface {
	Broadcast(ctx context.Context, kind Kind, payload any)
}

// Frame is the JSON envelope sent to subscribers.
type Frame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Message is an encoded frame ready for delivery.
type Message struct {
	// Event is the wire name, kept for logs and metrics.
	Event string

	// Body is the JSON encoded Frame.
	Body []byte
}

// Encode builds the message for kind and payload.
func Encode(kind Kind, payload any, now time.Time) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	body, err := json.Marshal(Frame{
		Event:     kind.String(),
		Data:      data,
		Timestamp: now.UTC(),
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode %s frame: %w", kind, err)
	}
	return Message{Event: kind.String(), Body: body}, nil
}

// Decode parses a frame received from a relay.
func Decode(body []byte) (Message, error) {
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Message{}, fmt.Errorf("decode frame: missing event")
	}
	return Message{Event: f.Event, Body: body}, nil
}
