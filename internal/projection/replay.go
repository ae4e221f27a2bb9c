// Package projection consumes the domain event log: it rebuilds coarse
// checkout state on demand (replay) and maintains the orders-by-client CQRS
// read model (projector). Read models are a cache, never a source of truth:
// they can always be rebuilt by replaying the log from the beginning.
package projection

import (
	"context"

	"github.com/magasin/saga-orchestrator/internal/eventlog"
	"github.com/magasin/saga-orchestrator/internal/orchestrator"
)

// CheckoutStatus is the coarse status derived from the event stream.
type CheckoutStatus string

const (
	StatusUnknown   CheckoutStatus = "unknown"
	StatusInitiated CheckoutStatus = "initiated"
	StatusSucceeded CheckoutStatus = "succeeded"
	StatusFailed    CheckoutStatus = "failed"
)

// OrderOutcome is the order sub-record of a checkout.
type OrderOutcome struct {
	OrderID string `json:"commande_id,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// CheckoutState is the fold result for one checkout. Replaying any prefix
// of the stream yields a valid intermediate state.
type CheckoutState struct {
	CheckoutID    string          `json:"checkout_id"`
	Status        CheckoutStatus  `json:"status"`
	StockReserved *bool           `json:"stock_reserved,omitempty"`
	StockReleased bool            `json:"stock_released,omitempty"`
	OrderID       string          `json:"commande_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Order         *OrderOutcome   `json:"order,omitempty"`
	Events        []eventlog.Entry `json:"events"`
}

// NewCheckoutState returns the fold's zero state for a checkout.
func NewCheckoutState(checkoutID string) CheckoutState {
	return CheckoutState{CheckoutID: checkoutID, Status: StatusUnknown, Events: []eventlog.Entry{}}
}

// Apply folds one entry into the state. Entries whose payload carries a
// different correlation id are ignored.
func Apply(st CheckoutState, entry eventlog.Entry) CheckoutState {
	checkoutID, _ := entry.Payload["checkout_id"].(string)
	if checkoutID != st.CheckoutID {
		return st
	}

	st.Events = append(st.Events, entry)

	switch entry.Type {
	case orchestrator.EventCheckoutInitiated:
		st.Status = StatusInitiated
	case orchestrator.EventStockReserved:
		st.StockReserved = boolPtr(true)
	case orchestrator.EventStockReservationFailed:
		st.StockReserved = boolPtr(false)
	case orchestrator.EventStockReleased:
		st.StockReleased = true
	case orchestrator.EventOrderCreated:
		st.Order = &OrderOutcome{OrderID: stringField(entry, "commande_id")}
	case orchestrator.EventOrderCreationFailed:
		st.Order = &OrderOutcome{Failed: true, Reason: stringField(entry, "reason")}
	case orchestrator.EventCheckoutSucceeded:
		st.Status = StatusSucceeded
		st.OrderID = stringField(entry, "commande_id")
	case orchestrator.EventCheckoutFailed:
		st.Status = StatusFailed
		st.Reason = stringField(entry, "reason")
	}
	return st
}

// ReplayCheckout replays the stream from the beginning and folds every
// entry matching the checkout id. Cost is O(stream length); checkout
// streams are bounded and replay is diagnostic, not hot-path.
func ReplayCheckout(ctx context.Context, log eventlog.Log, stream, checkoutID string) (CheckoutState, error) {
	entries, err := log.Range(ctx, stream, 0, 0, 0)
	if err != nil {
		return CheckoutState{}, err
	}
	st := NewCheckoutState(checkoutID)
	for _, entry := range entries {
		st = Apply(st, entry)
	}
	return st, nil
}

func stringField(entry eventlog.Entry, key string) string {
	v, _ := entry.Payload[key].(string)
	return v
}

func boolPtr(b bool) *bool { return &b }
