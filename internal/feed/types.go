package feed

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/nft-marketplace/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrHubClosed       = errors.New("feed hub closed")
)

// EventMessage is the JSON frame for one event. Amounts are decimal
// strings; uint64 does not survive a trip through JSON numbers.
type EventMessage struct {
	Type       string `json:"type"` // always "event"
	ID         string `json:"id"`
	Seq        uint64 `json:"seq"`
	Kind       string `json:"kind"`
	Collection string `json:"collection,omitempty"`
	TokenID    string `json:"token_id,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Seller     string `json:"seller,omitempty"`
	Price      string `json:"price,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Reason     string `json:"reason,omitempty"`
	At         int64  `json:"at"` // Microseconds since epoch
}

// MessageTypeEvent is EventMessage.Type.
const MessageTypeEvent = "event"

// NewEventMessage converts ev to its wire form.
func NewEventMessage(ev model.Event) EventMessage {
	m := EventMessage{
		Type:   MessageTypeEvent,
		ID:     ev.ID.String(),
		Seq:    ev.Seq,
		Kind:   string(ev.Kind),
		Actor:  string(ev.Actor),
		Seller: string(ev.Seller),
		Reason: ev.Reason,
		At:     ev.At,
	}
	if ev.Key != (model.AssetKey{}) {
		m.Collection = ev.Key.Collection
		m.TokenID = strconv.FormatUint(ev.Key.TokenID, 10)
	}
	if ev.Price != 0 {
		m.Price = strconv.FormatUint(ev.Price, 10)
	}
	if ev.Amount != 0 {
		m.Amount = strconv.FormatUint(ev.Amount, 10)
	}
	return m
}

// Event converts the frame back to a model.Event.
func (m EventMessage) Event() (model.Event, error) {
	if m.Type != MessageTypeEvent {
		return model.Event{}, fmt.Errorf("unexpected message type %q", m.Type)
	}
	kind := model.EventKind(m.Kind)
	if !kind.Valid() {
		return model.Event{}, fmt.Errorf("unknown event kind %q", m.Kind)
	}
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return model.Event{}, fmt.Errorf("parse event id: %w", err)
	}

	ev := model.Event{
		ID:     id,
		Seq:    m.Seq,
		Kind:   kind,
		Actor:  model.Identity(m.Actor),
		Seller: model.Identity(m.Seller),
		Reason: m.Reason,
		At:     m.At,
	}
	if m.Collection != "" {
		ev.Key.Collection = m.Collection
		if ev.Key.TokenID, err = parseUint(m.TokenID); err != nil {
			return model.Event{}, fmt.Errorf("parse token_id: %w", err)
		}
	}
	if ev.Price, err = parseUint(m.Price); err != nil {
		return model.Event{}, fmt.Errorf("parse price: %w", err)
	}
	if ev.Amount, err = parseUint(m.Amount); err != nil {
		return model.Event{}, fmt.Errorf("parse amount: %w", err)
	}
	return ev, nil
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// HubConfig configures the server side.
type HubConfig struct {
	PingInterval time.Duration // Interval between server pings
	WriteTimeout time.Duration // Write deadline per frame
	BufferSize   int           // Events queued per client before it is dropped
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 15 * time.Second,
		WriteTimeout: 10 * time.Second,
		BufferSize:   1024,
	}
}

// ClientConfig configures a feed client.
type ClientConfig struct {
	URL          string        // ws:// or wss:// URL of /v1/feed
	Token        string        // Bearer token (optional)
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for control frames
	BufferSize   int           // Event channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}
