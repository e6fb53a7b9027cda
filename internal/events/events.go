// Package events announces order lifecycle changes to other services after
// the owning transaction committed.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Event types.
const (
	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderPaymentChange = "order.payment_changed"
)

// Event is a single order lifecycle notification.
type Event struct {
	Type          string
	OrderID       int64
	OrderNumber   string
	Status        string
	PaymentStatus string
	Total         string
	Currency      string
	OccurredAt    time.Time
}

// Encode renders the event as a JSON object.
func (ev Event) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("type")
	e.Str(ev.Type)
	e.FieldStart("order_id")
	e.Int64(ev.OrderID)
	e.FieldStart("order_number")
	e.Str(ev.OrderNumber)
	e.FieldStart("status")
	e.Str(ev.Status)
	e.FieldStart("payment_status")
	e.Str(ev.PaymentStatus)
	if ev.Total != "" {
		e.FieldStart("total")
		e.Str(ev.Total)
		e.FieldStart("currency")
		e.Str(ev.Currency)
	}
	e.FieldStart("occurred_at")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// JSON returns the encoded event.
func (ev Event) JSON() []byte {
	var e jx.Encoder
	ev.Encode(&e)
	return e.Bytes()
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublishQuietly publishes ev and logs failures. Events are sent after commit
// so a broker outage never rolls back an order.
func PublishQuietly(ctx context.Context, p Publisher, ev Event) {
	if err := p.Publish(ctx, ev); err != nil {
		zctx.From(ctx).Warn("Event publish failed",
			zap.String("type", ev.Type),
			zap.Int64("order_id", ev.OrderID),
			zap.Error(err),
		)
	}
}

// Nop drops events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns the recorded events in publish order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
