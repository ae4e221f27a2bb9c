// Package orchestrator drives checkout sagas across the inventory,
// catalogue and order services: it validates state transitions, invokes the
// gateway, decides success/failure/compensation, and persists the aggregate
// together with its event history after every outcome.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/magasin/saga-orchestrator/internal/eventlog"
	"github.com/magasin/saga-orchestrator/internal/gateway"
	"github.com/magasin/saga-orchestrator/internal/saga"
	"github.com/magasin/saga-orchestrator/internal/sagastore"
)

// DefaultStream is the domain event stream checkout events are published to.
const DefaultStream = "ecommerce.checkout.events"

// Checkout domain event types published to the event log. The projector and
// the replay endpoint consume these.
const (
	EventCheckoutInitiated      = "CheckoutInitiated"
	EventStockReserved          = "StockReserved"
	EventStockReservationFailed = "StockReservationFailed"
	EventStockReleased          = "StockReleased"
	EventOrderCreated           = "OrderCreated"
	EventOrderCreationFailed    = "OrderCreationFailed"
	EventCheckoutSucceeded      = "CheckoutSucceeded"
	EventCheckoutFailed         = "CheckoutFailed"
)

// StartResult is the caller-facing outcome of one saga run.
type StartResult struct {
	SagaID     string
	FinalState saga.State
	Success    bool
	OrderID    string
}

// Engine is the saga state machine driver. Each saga is advanced by a
// single logical owner at a time: steps for one saga id are serialised by a
// per-id lock, and the store's optimistic version check rejects any writer
// that lost the race anyway.
type Engine struct {
	store  sagastore.Store
	log    eventlog.Log
	gw     gateway.Gateway
	stream string
	locks  *xsync.MapOf[string, *sync.Mutex]
}

// Option configures an Engine.
type Option func(*Engine)

// WithStream overrides the domain event stream name.
func WithStream(stream string) Option {
	return func(e *Engine) { e.stream = stream }
}

func New(store sagastore.Store, log eventlog.Log, gw gateway.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		log:    log,
		gw:     gw,
		stream: DefaultStream,
		locks:  xsync.NewMapOf[string, *sync.Mutex](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartSaga creates the aggregate and synchronously drives it to a terminal
// state. Business failures (insufficient stock, rejected order) are part of
// the result, not errors; the returned error reports system-level faults
// only: storage failures and incomplete compensation.
func (e *Engine) StartSaga(ctx context.Context, clientID, storeID string, lines []saga.OrderLine) (StartResult, error) {
	s, err := saga.New(clientID, storeID, lines)
	if err != nil {
		return StartResult{}, err
	}

	ctx, span := otel.Tracer("orchestrator").Start(ctx, "saga.execute")
	span.SetAttributes(
		attribute.String("saga.id", s.ID),
		attribute.String("saga.client_id", clientID),
	)
	defer span.End()

	if err := e.store.Create(ctx, s); err != nil {
		return StartResult{}, err
	}

	mu, _ := e.locks.LoadOrStore(s.ID, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()

	slog.InfoContext(ctx, "saga started", "saga_id", s.ID, "client_id", clientID, "lines", len(lines))
	e.publish(ctx, EventCheckoutInitiated, s, map[string]any{
		"store_id":   s.StoreID,
		"line_count": len(s.Lines),
		"amount":     s.TotalAmount(),
	})

	if ok, err := e.verifyStock(ctx, s); !ok || err != nil {
		return e.result(s), err
	}
	e.enrichProducts(ctx, s)
	if ok, err := e.reserveStock(ctx, s); !ok || err != nil {
		return e.result(s), err
	}
	if ok, err := e.createOrder(ctx, s); !ok || err != nil {
		return e.result(s), err
	}

	if err := s.Transition(saga.StateCompleted, saga.EventSagaCompleted, "saga completed", nil); err != nil {
		return e.result(s), err
	}
	if err := e.persist(ctx, s); err != nil {
		return e.result(s), err
	}
	e.publish(ctx, EventCheckoutSucceeded, s, map[string]any{"commande_id": s.FinalOrderID})
	slog.InfoContext(ctx, "saga completed", "saga_id", s.ID, "order_id", s.FinalOrderID)

	return e.result(s), nil
}

// GetSaga returns the stored aggregate, or a NotFound error.
func (e *Engine) GetSaga(ctx context.Context, id string) (*saga.Saga, error) {
	return e.store.Get(ctx, id)
}

// ListByState returns all sagas currently in the given state.
func (e *Engine) ListByState(ctx context.Context, state saga.State) ([]*saga.Saga, error) {
	return e.store.ListByState(ctx, state)
}

// verifyStock checks availability for every line. Any shortage, or an
// inventory service that stays unreachable past the retry budget, is the
// step's failure outcome: the saga terminates with no compensation, since
// nothing was acquired yet.
func (e *Engine) verifyStock(ctx context.Context, s *saga.Saga) (bool, error) {
	if err := s.Begin(saga.StateVerifyingStock); err != nil {
		return false, err
	}

	for _, line := range s.Lines {
		callCtx := gateway.WithIdempotencyKey(ctx, s.ID, "check_stock:"+line.ProductID)
		status, err := e.gw.CheckStock(callCtx, s.StoreID, line.ProductID, line.Quantity)
		if err == nil && (!status.Available || status.Quantity < line.Quantity) {
			err = saga.NewStockInsufficient(line.ProductID, line.Quantity, status.Quantity)
		}
		if err != nil {
			slog.WarnContext(ctx, "stock verification failed",
				"saga_id", s.ID, "product_id", line.ProductID, "error", err)
			if terr := s.Transition(saga.StateInsufficientStock, saga.EventStockVerificationFailed,
				"stock verification failed", map[string]any{
					"product_id": line.ProductID,
					"requested":  line.Quantity,
					"error":      err.Error(),
				}); terr != nil {
				return false, terr
			}
			if perr := e.persist(ctx, s); perr != nil {
				return false, perr
			}
			e.publish(ctx, EventCheckoutFailed, s, map[string]any{"reason": err.Error()})
			return false, nil
		}
	}

	if err := s.Transition(saga.StateStockVerified, saga.EventStockVerified,
		"stock verified for all products", nil); err != nil {
		return false, err
	}
	return true, e.persist(ctx, s)
}

// enrichProducts pulls catalogue data into the saga context and backfills
// line names and prices. The lookup is advisory: a catalogue failure is
// logged and the saga continues with the caller-supplied values.
func (e *Engine) enrichProducts(ctx context.Context, s *saga.Saga) {
	info := map[string]any{}
	for i := range s.Lines {
		line := &s.Lines[i]
		callCtx := gateway.WithIdempotencyKey(ctx, s.ID, "get_product:"+line.ProductID)
		product, err := e.gw.GetProduct(callCtx, line.ProductID)
		if err != nil {
			slog.WarnContext(ctx, "catalogue enrichment failed",
				"saga_id", s.ID, "product_id", line.ProductID, "error", err)
			continue
		}
		line.ProductName = product.Name
		if product.Price > 0 {
			line.UnitPrice = product.Price
		}
		info[line.ProductID] = map[string]any{
			"id":       product.ID,
			"name":     product.Name,
			"price":    product.Price,
			"category": product.Category,
		}
	}
	if len(info) > 0 {
		s.ContextData["product_info"] = info
	}
}

// reserveStock reserves every line, collecting reservation tokens. A
// partial failure flags the saga for compensation and releases whatever was
// already acquired before terminating.
func (e *Engine) reserveStock(ctx context.Context, s *saga.Saga) (bool, error) {
	if err := s.Begin(saga.StateReservingStock); err != nil {
		return false, err
	}

	var stepErr error
	for _, line := range s.Lines {
		callCtx := gateway.WithIdempotencyKey(ctx, s.ID, "reserve_stock:"+line.ProductID)
		reservationID, err := e.gw.ReserveStock(callCtx, s.StoreID, line.ProductID, line.Quantity)
		if err != nil {
			stepErr = err
			break
		}
		s.AddReservation(line.ProductID, reservationID)
	}

	if stepErr != nil {
		slog.WarnContext(ctx, "stock reservation failed",
			"saga_id", s.ID, "reserved", len(s.ReservationIDs), "error", stepErr)
		if len(s.ReservationIDs) > 0 {
			s.NeedsCompensation = true
		}
		if err := s.Transition(saga.StateReservationFailed, saga.EventStockReservationFailed,
			"stock reservation failed", map[string]any{
				"reserved": len(s.ReservationIDs),
				"error":    stepErr.Error(),
			}); err != nil {
			return false, err
		}
		if err := e.persist(ctx, s); err != nil {
			return false, err
		}
		e.publish(ctx, EventStockReservationFailed, s, map[string]any{"reason": stepErr.Error()})

		var compErr error
		if s.NeedsCompensation {
			compErr = e.compensate(ctx, s)
		}
		e.publish(ctx, EventCheckoutFailed, s, map[string]any{"reason": stepErr.Error()})
		return false, compErr
	}

	reservations := make(map[string]any, len(s.ReservationIDs))
	for productID, reservationID := range s.ReservationIDs {
		reservations[productID] = reservationID
	}
	if err := s.Transition(saga.StateStockReserved, saga.EventStockReserved,
		"stock reserved for all products", map[string]any{"reservations": reservations}); err != nil {
		return false, err
	}
	if err := e.persist(ctx, s); err != nil {
		return false, err
	}
	e.publish(ctx, EventStockReserved, s, map[string]any{"reservations": reservations})
	return true, nil
}

// createOrder records the final sale. Stock is held at this point, so any
// failure flags the saga for compensation before terminating.
func (e *Engine) createOrder(ctx context.Context, s *saga.Saga) (bool, error) {
	if err := s.Begin(saga.StateCreatingOrder); err != nil {
		return false, err
	}

	callCtx := gateway.WithIdempotencyKey(ctx, s.ID, "create_order")
	orderID, err := e.gw.CreateOrder(callCtx, gateway.OrderRequest{
		SagaID:      s.ID,
		ClientID:    s.ClientID,
		StoreID:     s.StoreID,
		Lines:       s.Lines,
		TotalAmount: s.TotalAmount(),
	})
	if err != nil {
		slog.WarnContext(ctx, "order creation failed", "saga_id", s.ID, "error", err)
		s.NeedsCompensation = true
		if terr := s.Transition(saga.StateOrderCreationFailed, saga.EventOrderCreationFailed,
			"order creation failed", map[string]any{"error": err.Error()}); terr != nil {
			return false, terr
		}
		if perr := e.persist(ctx, s); perr != nil {
			return false, perr
		}
		e.publish(ctx, EventOrderCreationFailed, s, map[string]any{"reason": err.Error()})

		compErr := e.compensate(ctx, s)
		e.publish(ctx, EventCheckoutFailed, s, map[string]any{"reason": err.Error()})
		return false, compErr
	}

	if err := s.SetFinalOrderID(orderID); err != nil {
		return false, err
	}
	if err := s.Transition(saga.StateOrderCreated, saga.EventOrderCreated,
		"order created", map[string]any{"commande_id": orderID}); err != nil {
		return false, err
	}
	if err := e.persist(ctx, s); err != nil {
		return false, err
	}
	e.publish(ctx, EventOrderCreated, s, map[string]any{"commande_id": orderID})
	return true, nil
}

func (e *Engine) result(s *saga.Saga) StartResult {
	return StartResult{
		SagaID:     s.ID,
		FinalState: s.State,
		Success:    s.State == saga.StateCompleted,
		OrderID:    s.FinalOrderID,
	}
}

func (e *Engine) persist(ctx context.Context, s *saga.Saga) error {
	if err := e.store.Update(ctx, s); err != nil {
		slog.ErrorContext(ctx, "saga persistence failed", "saga_id", s.ID, "error", err)
		return err
	}
	return nil
}

// publish appends a checkout domain event to the event log. The aggregate's
// own event history is the audit trail; the domain stream feeds the
// projector with at-least-once delivery, so an append failure is logged and
// does not fail the saga.
func (e *Engine) publish(ctx context.Context, eventType string, s *saga.Saga, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["checkout_id"] = s.ID
	payload["client_id"] = s.ClientID
	payload["emitted_at"] = float64(time.Now().UnixMilli()) / 1000.0

	if _, err := e.log.Append(ctx, e.stream, eventType, payload); err != nil {
		slog.WarnContext(ctx, "event log append failed",
			"stream", e.stream, "event_type", eventType, "saga_id", s.ID, "error", err)
	}
}
