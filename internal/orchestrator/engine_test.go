package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magasin/saga-orchestrator/internal/eventlog"
	"github.com/magasin/saga-orchestrator/internal/gateway"
	"github.com/magasin/saga-orchestrator/internal/saga"
	"github.com/magasin/saga-orchestrator/internal/sagastore"
)

// fakeGateway is a scriptable Gateway. Stock levels come from the stock map;
// per-product reserve failures and a global order failure can be injected.
type fakeGateway struct {
	stock      map[string]int
	products   map[string]gateway.ProductInfo
	checkErr   map[string]error
	reserveErr map[string]error
	releaseErr map[string]error
	orderErr   error
	orderID    string
	released   []string
	idemKeys   []string
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		stock:      map[string]int{},
		products:   map[string]gateway.ProductInfo{},
		checkErr:   map[string]error{},
		reserveErr: map[string]error{},
		releaseErr: map[string]error{},
		orderID:    "order-1",
	}
}

func (g *fakeGateway) recordKey(ctx context.Context) {
	g.idemKeys = append(g.idemKeys, gateway.IdempotencyKeyFromContext(ctx))
}

func (g *fakeGateway) CheckStock(ctx context.Context, storeID, productID string, quantity int) (gateway.StockStatus, error) {
	g.recordKey(ctx)
	if err := g.checkErr[productID]; err != nil {
		return gateway.StockStatus{}, err
	}
	available := g.stock[productID]
	return gateway.StockStatus{
		ProductID: productID,
		Available: available >= quantity,
		Quantity:  available,
	}, nil
}

func (g *fakeGateway) ReserveStock(ctx context.Context, storeID, productID string, quantity int) (string, error) {
	g.recordKey(ctx)
	if err := g.reserveErr[productID]; err != nil {
		return "", err
	}
	return "res-" + productID, nil
}

func (g *fakeGateway) ReleaseStock(ctx context.Context, reservationID string) error {
	g.recordKey(ctx)
	if err := g.releaseErr[reservationID]; err != nil {
		return err
	}
	g.released = append(g.released, reservationID)
	return nil
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (string, error) {
	g.recordKey(ctx)
	if g.orderErr != nil {
		return "", g.orderErr
	}
	return g.orderID, nil
}

func (g *fakeGateway) GetProduct(ctx context.Context, productID string) (gateway.ProductInfo, error) {
	g.recordKey(ctx)
	if p, ok := g.products[productID]; ok {
		return p, nil
	}
	return gateway.ProductInfo{}, saga.NewBusinessRejection("catalogue", "unknown product "+productID)
}

func newTestEngine(gw gateway.Gateway) (*Engine, *sagastore.MemoryStore, *eventlog.MemoryLog) {
	store := sagastore.NewMemoryStore()
	log := eventlog.NewMemoryLog()
	return New(store, log, gw), store, log
}

func lines(products ...string) []saga.OrderLine {
	out := make([]saga.OrderLine, 0, len(products))
	for _, p := range products {
		out = append(out, saga.OrderLine{ProductID: p, Quantity: 2, UnitPrice: 10})
	}
	return out
}

func streamTypes(t *testing.T, log *eventlog.MemoryLog) []string {
	t.Helper()
	entries, err := log.Range(context.Background(), DefaultStream, 0, 0, 0)
	require.NoError(t, err)
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type)
	}
	return types
}

func TestStartSagaSuccess(t *testing.T) {
	gw := newFakeGateway()
	gw.stock["p1"] = 10
	gw.stock["p2"] = 10
	gw.products["p1"] = gateway.ProductInfo{ID: "p1", Name: "Clavier", Price: 49.9, Category: "peripherique"}
	gw.products["p2"] = gateway.ProductInfo{ID: "p2", Name: "Souris", Price: 19.9}
	engine, _, log := newTestEngine(gw)

	res, err := engine.StartSaga(context.Background(), "client-1", "store-1", lines("p1", "p2"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, saga.StateCompleted, res.FinalState)
	assert.Equal(t, "order-1", res.OrderID)

	s, err := engine.GetSaga(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, saga.StateCompleted, s.State)
	assert.True(t, s.IsTerminated)
	assert.False(t, s.NeedsCompensation)
	require.Len(t, s.Events, 4)
	assert.Equal(t, saga.EventStockVerified, s.Events[0].Type)
	assert.Equal(t, saga.EventStockReserved, s.Events[1].Type)
	assert.Equal(t, saga.EventOrderCreated, s.Events[2].Type)
	assert.Equal(t, saga.EventSagaCompleted, s.Events[3].Type)

	// Reservations stay on the completed saga; success never releases stock.
	assert.Len(t, s.ReservationIDs, 2)
	assert.Empty(t, gw.released)

	// Catalogue enrichment backfilled names and prices.
	assert.Equal(t, "Clavier", s.Lines[0].ProductName)
	assert.InDelta(t, 49.9, s.Lines[0].UnitPrice, 1e-9)
	assert.Contains(t, s.ContextData, "product_info")

	replayed, err := saga.Replay(s.Events)
	require.NoError(t, err)
	assert.Equal(t, s.State, replayed)

	assert.Equal(t,
		[]string{EventCheckoutInitiated, EventStockReserved, EventOrderCreated, EventCheckoutSucceeded},
		streamTypes(t, log))

	// Every downstream call carried the saga-scoped idempotency key.
	for _, key := range gw.idemKeys {
		assert.Contains(t, key, res.SagaID+":")
	}
}

func TestStartSagaInsufficientStock(t *testing.T) {
	gw := newFakeGateway()
	gw.stock["p1"] = 1
	engine, _, log := newTestEngine(gw)

	res, err := engine.StartSaga(context.Background(), "client-1", "store-1", lines("p1"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, saga.StateInsufficientStock, res.FinalState)

	s, err := engine.GetSaga(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.True(t, s.IsTerminated)
	assert.False(t, s.NeedsCompensation)
	require.Len(t, s.Events, 1)
	assert.Equal(t, saga.EventStockVerificationFailed, s.Events[0].Type)
	assert.Empty(t, s.ReservationIDs)
	assert.Empty(t, gw.released)

	assert.Equal(t, []string{EventCheckoutInitiated, EventCheckoutFailed}, streamTypes(t, log))
}

func TestStartSagaInventoryUnreachable(t *testing.T) {
	gw := newFakeGateway()
	gw.checkErr["p1"] = saga.NewServiceUnavailable("inventaire", "connection refused", nil)
	engine, _, _ := newTestEngine(gw)

	res, err := engine.StartSaga(context.Background(), "client-1", "store-1", lines("p1"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, saga.StateInsufficientStock, res.FinalState)

	s, err := engine.GetSaga(context.Background(), res.SagaID)
	require.NoError(t, err)
	require.Len(t, s.Events, 1)
	assert.Equal(t, saga.EventStockVerificationFailed, s.Events[0].Type)
}

func TestStartSagaPartialReservationCompensates(t *testing.T) {
	gw := newFakeGateway()
	gw.stock["p1"] = 10
	gw.stock["p2"] = 10
	gw.reserveErr["p2"] = saga.NewServiceUnavailable("inventaire", "timeout", nil)
	engine, _, log := newTestEngine(gw)

	res, err := engine.StartSaga(context.Background(), "client-1", "store-1", lines("p1", "p2"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, saga.StateCancelled, res.FinalState)

	s, err := engine.GetSaga(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.True(t, s.IsTerminated)
	assert.False(t, s.NeedsCompensation)
	assert.Empty(t, s.ReservationIDs)
	assert.Equal(t, []string{"res-p1"}, gw.released)

	require.Len(t, s.Events, 4)
	assert.Equal(t, saga.EventStockVerified, s.Events[0].Type)
	assert.Equal(t, saga.EventStockReservationFailed, s.Events[1].Type)
	assert.Equal(t, saga.EventCompensationRequested, s.Events[2].Type)
	assert.Equal(t, saga.EventCompensationCompleted, s.Events[3].Type)

	replayed, err := saga.Replay(s.Events)
	require.NoError(t, err)
	assert.Equal(t, saga.StateCancelled, replayed)

	assert.Equal(t,
		[]string{EventCheckoutInitiated, EventStockReservationFailed, EventStockReleased, EventCheckoutFailed},
		streamTypes(t, log))
}

func TestStartSagaFirstReservationFailureIsTerminal(t *testing.T) {
	gw := newFakeGateway()
	gw.stock["p1"] = 10
	gw.reserveErr["p1"] = saga.NewBusinessRejection("inventaire", "reservation refused")
	engine, _, _ := newTestEngine(gw)

	res, err := engine.StartSaga(context.Background(), "client-1", "store-1", lines("p1"))
	require.NoError(t, err)
	assert.Equal(t, saga.StateReservationFailed, res.FinalState)

	s, err := engine.GetSaga(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.True(t, s.IsTerminated)
	assert.False(t, s.NeedsCompensation)
	assert.Empty(t, gw.released)
	require.Len(t, s.Events, 2)
	assert.Equal(t, saga.EventStockReservationFailed, s.Events[1].Type)
}

func TestStartSagaOrderFailureCompensates(t *testing.T) {
	gw := newFakeGateway()
	gw.stock["p1"] = 10
	gw.orderErr = saga.NewBusinessRejection("commandes", "client bloque")
	engine, _, log := newTestEngine(gw)

	res, err := engine.StartSaga(context.Background(), "client-1", "store-1", lines("p1"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, saga.StateCancelled, res.FinalState)
	assert.Empty(t, res.OrderID)

	s, err := engine.GetSaga(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.Empty(t, s.ReservationIDs)
	assert.False(t, s.NeedsCompensation)
	assert.Equal(t, []string{"res-p1"}, gw.released)

	require.Len(t, s.Events, 5)
	assert.Equal(t, saga.EventStockVerified, s.Events[0].Type)
	assert.Equal(t, saga.EventStockReserved, s.Events[1].Type)
	assert.Equal(t, saga.EventOrderCreationFailed, s.Events[2].Type)
	assert.Equal(t, saga.EventCompensationRequested, s.Events[3].Type)
	assert.Equal(t, saga.EventCompensationCompleted, s.Events[4].Type)

	types := streamTypes(t, log)
	assert.Equal(t,
		[]string{EventCheckoutInitiated, EventStockReserved, EventOrderCreationFailed, EventStockReleased, EventCheckoutFailed},
		types)
}

func TestStartSagaCompensationFailureSurfaces(t *testing.T) {
	gw := newFakeGateway()
	gw.stock["p1"] = 10
	gw.orderErr = saga.NewServiceUnavailable("commandes", "unreachable", nil)
	gw.releaseErr["res-p1"] = saga.NewServiceUnavailable("inventaire", "unreachable", nil)
	engine, _, _ := newTestEngine(gw)

	res, err := engine.StartSaga(context.Background(), "client-1", "store-1", lines("p1"))
	require.Error(t, err)
	assert.Equal(t, saga.KindCompensationFailed, saga.KindOf(err))
	assert.Equal(t, saga.StateCancelled, res.FinalState)

	// The unreleased reservation stays on the aggregate for operator
	// attention.
	s, err := engine.GetSaga(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.True(t, s.NeedsCompensation)
	assert.Equal(t, map[string]string{"p1": "res-p1"}, s.ReservationIDs)
	assert.True(t, s.IsTerminated)
}

func TestStartSagaRejectsInvalidInput(t *testing.T) {
	engine, _, _ := newTestEngine(newFakeGateway())

	_, err := engine.StartSaga(context.Background(), "", "store-1", lines("p1"))
	require.Error(t, err)
	assert.Equal(t, saga.KindInvalidInput, saga.KindOf(err))

	_, err = engine.StartSaga(context.Background(), "client-1", "store-1", nil)
	require.Error(t, err)
	assert.Equal(t, saga.KindInvalidInput, saga.KindOf(err))
}

func TestGetSagaNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(newFakeGateway())

	_, err := engine.GetSaga(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, saga.KindNotFound, saga.KindOf(err))
}

func TestListByState(t *testing.T) {
	gw := newFakeGateway()
	gw.stock["p1"] = 10
	engine, _, _ := newTestEngine(gw)

	res1, err := engine.StartSaga(context.Background(), "client-1", "store-1", lines("p1"))
	require.NoError(t, err)
	res2, err := engine.StartSaga(context.Background(), "client-2", "store-1", lines("p1"))
	require.NoError(t, err)

	completed, err := engine.ListByState(context.Background(), saga.StateCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 2)
	ids := []string{completed[0].ID, completed[1].ID}
	assert.ElementsMatch(t, []string{res1.SagaID, res2.SagaID}, ids)

	cancelled, err := engine.ListByState(context.Background(), saga.StateCancelled)
	require.NoError(t, err)
	assert.Empty(t, cancelled)
}

func TestEnrichmentFailureIsAdvisory(t *testing.T) {
	gw := newFakeGateway()
	gw.stock["p1"] = 10
	// No catalogue record for p1: GetProduct fails, the saga continues.
	engine, _, _ := newTestEngine(gw)

	in := []saga.OrderLine{{ProductID: "p1", Quantity: 1, UnitPrice: 5, ProductName: "Fourni"}}
	res, err := engine.StartSaga(context.Background(), "client-1", "store-1", in)
	require.NoError(t, err)
	assert.True(t, res.Success)

	s, err := engine.GetSaga(context.Background(), res.SagaID)
	require.NoError(t, err)
	assert.Equal(t, "Fourni", s.Lines[0].ProductName)
	assert.InDelta(t, 5, s.Lines[0].UnitPrice, 1e-9)
	assert.NotContains(t, s.ContextData, "product_info")
}
