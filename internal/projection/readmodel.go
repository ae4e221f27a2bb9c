package projection

import (
	"context"
	"sync"
	"time"
)

// OrderRef is one order observed for a client.
type OrderRef struct {
	OrderID    string    `json:"order_id"`
	CheckoutID string    `json:"checkout_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// ClientOrders is the orders-by-client read model document. Absence of a
// document means "no orders observed yet", not an error.
type ClientOrders struct {
	ClientID       string     `json:"client_id"`
	TotalOrders    int        `json:"total_orders"`
	Orders         []OrderRef `json:"orders"`
	LastCheckoutID string     `json:"last_checkout_id,omitempty"`
	LastUpdate     time.Time  `json:"last_update"`
}

// ReadModelStore persists projection documents and the per-stream
// last-applied sequence watermark. The watermark is what lets a caller tell
// "zero orders as of sequence N" apart from "nothing projected yet"
// (watermark 0).
type ReadModelStore interface {
	GetOrdersByClient(ctx context.Context, clientID string) (ClientOrders, bool, error)
	PutOrdersByClient(ctx context.Context, doc ClientOrders) error
	Watermark(ctx context.Context, stream string) (int64, error)
	SetWatermark(ctx context.Context, stream string, sequence int64) error
}

// MemoryReadModel is an in-memory ReadModelStore for tests and
// single-process setups.
type MemoryReadModel struct {
	mu         sync.RWMutex
	docs       map[string]ClientOrders
	watermarks map[string]int64
}

var _ ReadModelStore = (*MemoryReadModel)(nil)

func NewMemoryReadModel() *MemoryReadModel {
	return &MemoryReadModel{
		docs:       make(map[string]ClientOrders),
		watermarks: make(map[string]int64),
	}
}

func (m *MemoryReadModel) GetOrdersByClient(ctx context.Context, clientID string) (ClientOrders, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[clientID]
	return doc, ok, nil
}

func (m *MemoryReadModel) PutOrdersByClient(ctx context.Context, doc ClientOrders) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ClientID] = doc
	return nil
}

func (m *MemoryReadModel) Watermark(ctx context.Context, stream string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watermarks[stream], nil
}

func (m *MemoryReadModel) SetWatermark(ctx context.Context, stream string, sequence int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[stream] = sequence
	return nil
}
