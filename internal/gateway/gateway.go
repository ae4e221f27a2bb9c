// Package gateway abstracts the downstream inventory, catalogue and order
// services behind one interface so the engine's retry and failure handling
// can be exercised with fakes instead of live HTTP calls.
package gateway

import (
	"context"
	"fmt"

	"github.com/magasin/saga-orchestrator/internal/saga"
)

// StockStatus is the inventory service's answer to a stock check.
type StockStatus struct {
	ProductID string
	Available bool
	Quantity  int
}

// ProductInfo is the catalogue service's product record, stored into the
// saga's context data during enrichment.
type ProductInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Category    string  `json:"category,omitempty"`
	Description string  `json:"description,omitempty"`
}

// OrderRequest carries everything the order service needs to record the
// final sale.
type OrderRequest struct {
	SagaID      string
	ClientID    string
	StoreID     string
	Lines       []saga.OrderLine
	TotalAmount float64
}

// Gateway is the set of downstream operations the saga engine drives. Every
// call is idempotent keyed by (saga id, step name), see WithIdempotencyKey.
// Implementations classify failures as saga.KindServiceUnavailable
// (retryable, retried internally up to the configured budget) or
// saga.KindBusinessRejection (terminal, never retried).
type Gateway interface {
	CheckStock(ctx context.Context, storeID, productID string, quantity int) (StockStatus, error)
	ReserveStock(ctx context.Context, storeID, productID string, quantity int) (string, error)
	ReleaseStock(ctx context.Context, reservationID string) error
	CreateOrder(ctx context.Context, req OrderRequest) (string, error)
	GetProduct(ctx context.Context, productID string) (ProductInfo, error)
}

type ctxKey string

const idempotencyKeyCtx ctxKey = "idempotency-key"

// WithIdempotencyKey derives the per-call idempotency key from the saga id
// and step name and attaches it to the context. HTTP implementations send
// it as the X-Idempotency-Key header so downstream services can deduplicate
// at-least-once deliveries.
func WithIdempotencyKey(ctx context.Context, sagaID, step string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx, fmt.Sprintf("%s:%s", sagaID, step))
}

// IdempotencyKeyFromContext returns the attached key, or "" when absent.
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx).(string)
	return key
}
