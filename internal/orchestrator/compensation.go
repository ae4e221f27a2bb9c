package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magasin/saga-orchestrator/internal/gateway"
	"github.com/magasin/saga-orchestrator/internal/saga"
)

// compensate releases every reservation the saga still holds. Releases are
// independent, so map iteration order does not matter; each successful
// release removes its entry, so a retried run only retries the remainder.
//
// If a release exhausts its retry budget the run stops: the saga is moved
// to SAGA_ANNULEE with the un-released entries intact and needs_compensation
// still true, and a CompensationFailed error is returned for operator
// attention. An unreleased reservation is never silently dropped.
func (e *Engine) compensate(ctx context.Context, s *saga.Saga) error {
	if err := s.Transition(saga.StateCompensating, saga.EventCompensationRequested,
		"compensation started", map[string]any{"pending": len(s.ReservationIDs)}); err != nil {
		return err
	}
	if err := e.persist(ctx, s); err != nil {
		return err
	}
	slog.InfoContext(ctx, "compensation started", "saga_id", s.ID, "pending", len(s.ReservationIDs))

	var (
		failedProduct string
		releaseErr    error
	)
	for productID, reservationID := range s.ReservationIDs {
		callCtx := gateway.WithIdempotencyKey(ctx, s.ID, "release_stock:"+productID)
		if err := e.gw.ReleaseStock(callCtx, reservationID); err != nil {
			failedProduct = productID
			releaseErr = err
			break
		}
		s.RemoveReservation(productID)
		e.publish(ctx, EventStockReleased, s, map[string]any{
			"product_id":     productID,
			"reservation_id": reservationID,
		})
	}

	if releaseErr != nil {
		slog.ErrorContext(ctx, "compensation incomplete",
			"saga_id", s.ID, "product_id", failedProduct,
			"unreleased", len(s.ReservationIDs), "error", releaseErr)
		if err := s.Transition(saga.StateCancelled, saga.EventCompensationCompleted,
			"compensation incomplete, reservations left unreleased", map[string]any{
				"unreleased": len(s.ReservationIDs),
				"error":      releaseErr.Error(),
			}); err != nil {
			return err
		}
		if err := e.persist(ctx, s); err != nil {
			return err
		}
		return saga.NewCompensationFailed(s.ID,
			fmt.Sprintf("release failed for product %s", failedProduct), releaseErr)
	}

	s.NeedsCompensation = false
	if err := s.Transition(saga.StateCancelled, saga.EventCompensationCompleted,
		"compensation complete, saga cancelled", nil); err != nil {
		return err
	}
	if err := e.persist(ctx, s); err != nil {
		return err
	}
	slog.InfoContext(ctx, "compensation complete", "saga_id", s.ID)
	return nil
}
