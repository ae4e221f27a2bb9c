package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magasin/saga-orchestrator/internal/eventlog"
	"github.com/magasin/saga-orchestrator/internal/gateway"
	"github.com/magasin/saga-orchestrator/internal/orchestrator"
	"github.com/magasin/saga-orchestrator/internal/projection"
	"github.com/magasin/saga-orchestrator/internal/sagastore"
)

// stubGateway always succeeds unless failOrders is set.
type stubGateway struct {
	failOrders bool
}

var _ gateway.Gateway = (*stubGateway)(nil)

func (g *stubGateway) CheckStock(ctx context.Context, storeID, productID string, quantity int) (gateway.StockStatus, error) {
	return gateway.StockStatus{ProductID: productID, Available: true, Quantity: 100}, nil
}

func (g *stubGateway) ReserveStock(ctx context.Context, storeID, productID string, quantity int) (string, error) {
	return "res-" + productID, nil
}

func (g *stubGateway) ReleaseStock(ctx context.Context, reservationID string) error {
	return nil
}

func (g *stubGateway) CreateOrder(ctx context.Context, req gateway.OrderRequest) (string, error) {
	if g.failOrders {
		return "", fmt.Errorf("orders down")
	}
	return "order-1", nil
}

func (g *stubGateway) GetProduct(ctx context.Context, productID string) (gateway.ProductInfo, error) {
	return gateway.ProductInfo{ID: productID, Name: "Produit " + productID, Price: 10}, nil
}

type testEnv struct {
	server    *httptest.Server
	projector *projection.Projector
}

func newTestEnv(t *testing.T, gw gateway.Gateway) *testEnv {
	t.Helper()
	store := sagastore.NewMemoryStore()
	log := eventlog.NewMemoryLog()
	readModel := projection.NewMemoryReadModel()
	engine := orchestrator.New(store, log, gw)

	handler := NewHandler(engine, log, readModel, orchestrator.DefaultStream)
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)

	return &testEnv{
		server:    server,
		projector: projection.NewProjector(log, readModel, orchestrator.DefaultStream, 0),
	}
}

func (e *testEnv) startSaga(t *testing.T, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+"/api/sagas", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func validRequest() map[string]any {
	return map[string]any{
		"client_id": "client-1",
		"store_id":  "store-1",
		"lines": []map[string]any{
			{"product_id": "p1", "quantity": 2, "unit_price": 10},
		},
	}
}

func TestStartSagaEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubGateway{})

	resp, body := env.startSaga(t, validRequest())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "SAGA_TERMINEE", body["final_state"])
	assert.Equal(t, "order-1", body["order_id"])
	assert.NotEmpty(t, body["saga_id"])
}

func TestStartSagaBadJSON(t *testing.T) {
	env := newTestEnv(t, &stubGateway{})

	resp, err := http.Post(env.server.URL+"/api/sagas", "application/json",
		bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_json", body["error"])
}

func TestStartSagaInvalidRequest(t *testing.T) {
	env := newTestEnv(t, &stubGateway{})

	resp, body := env.startSaga(t, map[string]any{"client_id": "", "store_id": "store-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestStartSagaBusinessFailureIsNotAnHTTPError(t *testing.T) {
	env := newTestEnv(t, &stubGateway{failOrders: true})

	resp, body := env.startSaga(t, validRequest())
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "SAGA_ANNULEE", body["final_state"])
}

func TestGetSagaEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubGateway{})

	_, created := env.startSaga(t, validRequest())
	sagaID := created["saga_id"].(string)

	resp, err := http.Get(env.server.URL + "/api/sagas/" + sagaID)
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	summary := body["summary"].(map[string]any)
	assert.Equal(t, sagaID, summary["saga_id"])
	assert.Equal(t, "SAGA_TERMINEE", summary["state"])
	assert.EqualValues(t, 4, summary["event_count"])

	events := body["events"].([]any)
	assert.Len(t, events, 4)
}

func TestGetSagaNotFound(t *testing.T) {
	env := newTestEnv(t, &stubGateway{})

	resp, err := http.Get(env.server.URL + "/api/sagas/does-not-exist")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "saga_not_found", body["error"])
}

func TestListSagasEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubGateway{})

	env.startSaga(t, validRequest())
	env.startSaga(t, validRequest())

	resp, err := http.Get(env.server.URL + "/api/sagas?state=SAGA_TERMINEE")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	resp, err = http.Get(env.server.URL + "/api/sagas")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "state_required", body["error"])
}

func TestStreamEventsEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubGateway{})
	env.startSaga(t, validRequest())

	url := fmt.Sprintf("%s/api/event-store/streams/%s/events?from=1&count=2",
		env.server.URL, orchestrator.DefaultStream)
	resp, err := http.Get(url)
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, orchestrator.DefaultStream, body["stream"])

	events := body["events"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.EqualValues(t, 1, first["sequence_id"])
	assert.Equal(t, orchestrator.EventCheckoutInitiated, first["event_type"])
}

func TestReplayCheckoutEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubGateway{})
	_, created := env.startSaga(t, validRequest())
	sagaID := created["saga_id"].(string)

	resp, err := http.Get(env.server.URL + "/api/event-store/replay/checkout/" + sagaID)
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sagaID, body["checkout_id"])
	assert.Equal(t, "succeeded", body["status"])
	assert.Equal(t, "order-1", body["commande_id"])
}

func TestOrdersByClientEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubGateway{})

	// Before anything is projected: no data, watermark zero.
	resp, err := http.Get(env.server.URL + "/api/event-store/cqrs/orders-by-client/client-1")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["total_orders"])
	assert.EqualValues(t, 0, body["watermark"])
	assert.Equal(t, "no data", body["message"])

	env.startSaga(t, validRequest())
	_, err = env.projector.Sync(context.Background())
	require.NoError(t, err)

	resp, err = http.Get(env.server.URL + "/api/event-store/cqrs/orders-by-client/client-1")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total_orders"])
	assert.NotZero(t, body["watermark"])

	orders := body["orders"].([]any)
	require.Len(t, orders, 1)
	order := orders[0].(map[string]any)
	assert.Equal(t, "order-1", order["order_id"])
}
