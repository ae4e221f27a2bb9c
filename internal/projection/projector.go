package projection

import (
	"context"
	"log/slog"
	"time"

	"github.com/magasin/saga-orchestrator/internal/eventlog"
	"github.com/magasin/saga-orchestrator/internal/orchestrator"
)

const defaultBatchSize = 100

// Projector tails the checkout stream and maintains the orders-by-client
// read model. It runs asynchronously and independently of the saga engine
// and may lag arbitrarily behind the log; no read-after-write guarantee is
// made for the read model.
type Projector struct {
	log      eventlog.Log
	store    ReadModelStore
	stream   string
	interval time.Duration
	batch    int
}

func NewProjector(log eventlog.Log, store ReadModelStore, stream string, interval time.Duration) *Projector {
	if interval <= 0 {
		interval = time.Second
	}
	return &Projector{
		log:      log,
		store:    store,
		stream:   stream,
		interval: interval,
		batch:    defaultBatchSize,
	}
}

// Run tails the stream until the context is cancelled.
func (p *Projector) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Sync(ctx); err != nil {
			slog.ErrorContext(ctx, "projection sync failed", "stream", p.stream, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sync applies every entry past the current watermark and returns how many
// were applied. Handlers are idempotent per entry sequence, so replaying a
// batch after a crash is safe.
func (p *Projector) Sync(ctx context.Context) (int, error) {
	applied := 0
	for {
		watermark, err := p.store.Watermark(ctx, p.stream)
		if err != nil {
			return applied, err
		}
		entries, err := p.log.Range(ctx, p.stream, watermark+1, 0, p.batch)
		if err != nil {
			return applied, err
		}
		if len(entries) == 0 {
			return applied, nil
		}
		for _, entry := range entries {
			if err := p.apply(ctx, entry); err != nil {
				return applied, err
			}
			if err := p.store.SetWatermark(ctx, p.stream, entry.Sequence); err != nil {
				return applied, err
			}
			applied++
		}
	}
}

// apply folds one entry into the client's document. Only order-affecting
// events touch the read model; everything else just advances the watermark.
func (p *Projector) apply(ctx context.Context, entry eventlog.Entry) error {
	switch entry.Type {
	case orchestrator.EventOrderCreated,
		orchestrator.EventCheckoutSucceeded,
		orchestrator.EventCheckoutFailed:
	default:
		return nil
	}

	clientID, _ := entry.Payload["client_id"].(string)
	if clientID == "" {
		return nil
	}
	checkoutID, _ := entry.Payload["checkout_id"].(string)

	doc, ok, err := p.store.GetOrdersByClient(ctx, clientID)
	if err != nil {
		return err
	}
	if !ok {
		doc = ClientOrders{ClientID: clientID}
	}

	switch entry.Type {
	case orchestrator.EventOrderCreated, orchestrator.EventCheckoutSucceeded:
		orderID, _ := entry.Payload["commande_id"].(string)
		// OrderCreated and CheckoutSucceeded both reference the same order;
		// record each checkout's order once.
		if orderID != "" && !doc.hasCheckout(checkoutID) {
			doc.Orders = append(doc.Orders, OrderRef{
				OrderID:    orderID,
				CheckoutID: checkoutID,
				Timestamp:  entry.Timestamp,
			})
			doc.TotalOrders = len(doc.Orders)
		}
	case orchestrator.EventCheckoutFailed:
		// Nothing to add; the update below still refreshes the timestamps.
	}

	if checkoutID != "" {
		doc.LastCheckoutID = checkoutID
	}
	doc.LastUpdate = entry.Timestamp
	return p.store.PutOrdersByClient(ctx, doc)
}

func (d ClientOrders) hasCheckout(checkoutID string) bool {
	if checkoutID == "" {
		return false
	}
	for _, o := range d.Orders {
		if o.CheckoutID == checkoutID {
			return true
		}
	}
	return false
}
