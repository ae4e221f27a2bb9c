// Package sagastore defines durable keyed storage for saga aggregates. The
// whole aggregate, event history included, is persisted as one unit, so
// the stored state and its events can never diverge.
package sagastore

import (
	"context"

	"github.com/magasin/saga-orchestrator/internal/saga"
)

// Store persists saga aggregates keyed by saga id.
//
// Update enforces an optimistic version check: the write succeeds only when
// the stored version matches the aggregate's version, which it then bumps.
// A lost race returns a saga.Error with KindConflict. Sagas are never
// deleted; terminal sagas are retained for audit.
type Store interface {
	Create(ctx context.Context, s *saga.Saga) error
	Update(ctx context.Context, s *saga.Saga) error
	Get(ctx context.Context, id string) (*saga.Saga, error)
	ListByState(ctx context.Context, state saga.State) ([]*saga.Saga, error)
}
