// Package notify distributes knowledge publication events: in-process fan-out
// to SSE subscribers, PostgreSQL NOTIFY across instances, and signed webhook
// delivery to external endpoints.
package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/hivemind/hivemind/pkg/models"
)

// Channel is the pg_notify channel name.
const Channel = "knowledge_published"

// Event announces a newly published knowledge item. Content is never carried
// in events; consumers fetch by id under their own visibility rules.
type Event struct {
	ID       uuid.UUID       `json:"id"`
	IsPublic bool            `json:"is_public"`
	TenantID string          `json:"tenant_id"`
	Category models.Category `json:"category"`
	Title    string          `json:"title"`
}

// EventFromItem builds the wire event for an item.
func EventFromItem(item *models.KnowledgeItem) Event {
	return Event{
		ID:       item.ID,
		IsPublic: item.IsPublic,
		TenantID: item.TenantID,
		Category: item.Category,
		Title:    item.Title(),
	}
}

// Broker publishes events to every running instance.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub fans events out to in-process subscribers. A subscriber with a tenant
// id receives that tenant's events plus all public ones; an empty tenant id
// receives public events only. Slow subscribers drop events rather than
// block delivery.
type Hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]*subscriber
}

type subscriber struct {
	tenantID string
	ch       chan Event
}

func NewHub() *Hub {
	return &Hub{subs: map[int]*subscriber{}}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the consumer goes away.
func (h *Hub) Subscribe(tenantID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	sub := &subscriber{tenantID: tenantID, ch: make(chan Event, 16)}
	h.subs[id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Dispatch routes one event to every matching subscriber.
func (h *Hub) Dispatch(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !ev.IsPublic && sub.tenantID != ev.TenantID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports active subscribers, for the stats endpoint.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// MemoryBroker dispatches straight to a hub. Used in tests and single
// instance deployments without PostgreSQL.
type MemoryBroker struct {
	hub *Hub
}

func NewMemoryBroker(hub *Hub) *MemoryBroker {
	return &MemoryBroker{hub: hub}
}

func (b *MemoryBroker) Publish(ctx context.Context, ev Event) error {
	b.hub.Dispatch(ev)
	return nil
}

func encodeEvent(ev Event) (string, error) {
	raw, err := json.Marshal(ev)
	return string(raw), err
}

func decodeEvent(payload string) (Event, error) {
	var ev Event
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}
