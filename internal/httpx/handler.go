// Package httpx exposes the orchestrator over HTTP: the saga API, the
// event-store range/replay API and the CQRS orders-by-client query.
package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/magasin/saga-orchestrator/internal/eventlog"
	"github.com/magasin/saga-orchestrator/internal/orchestrator"
	"github.com/magasin/saga-orchestrator/internal/projection"
	"github.com/magasin/saga-orchestrator/internal/saga"
)

// Handler serves the public API.
type Handler struct {
	engine    *orchestrator.Engine
	log       eventlog.Log
	readModel projection.ReadModelStore
	stream    string
}

func NewHandler(engine *orchestrator.Engine, log eventlog.Log, readModel projection.ReadModelStore, stream string) *Handler {
	return &Handler{engine: engine, log: log, readModel: readModel, stream: stream}
}

// StartSaga runs one checkout saga synchronously and reports its terminal
// state. Business failures are a normal response with success=false; only
// system faults surface as HTTP errors.
func (h *Handler) StartSaga(w http.ResponseWriter, r *http.Request) {
	var req StartSagaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	lines := make([]saga.OrderLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = saga.OrderLine{
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			ProductName: l.ProductName,
		}
	}

	result, err := h.engine.StartSaga(r.Context(), req.ClientID, req.StoreID, lines)
	if err != nil {
		switch saga.KindOf(err) {
		case saga.KindInvalidInput:
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case saga.KindCompensationFailed:
			// The saga is terminal but flagged: reservations are left
			// unreleased and need operator attention.
			slog.ErrorContext(r.Context(), "saga ended with failed compensation",
				"saga_id", result.SagaID, "error", err)
			writeError(w, http.StatusInternalServerError, "compensation_failed", err.Error())
		default:
			slog.ErrorContext(r.Context(), "saga execution fault", "error", err)
			writeError(w, http.StatusInternalServerError, "saga_fault", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, StartSagaResponse{
		SagaID:     result.SagaID,
		FinalState: result.FinalState,
		Success:    result.Success,
		OrderID:    result.OrderID,
	})
}

// GetSaga returns the full aggregate view for one saga.
func (h *Handler) GetSaga(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s, err := h.engine.GetSaga(r.Context(), id)
	if err != nil {
		if saga.KindOf(err) == saga.KindNotFound {
			writeError(w, http.StatusNotFound, "saga_not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, mapSaga(s))
}

// ListSagas returns summaries of every saga in the requested state.
func (h *Handler) ListSagas(w http.ResponseWriter, r *http.Request) {
	state := saga.State(r.URL.Query().Get("state"))
	if state == "" {
		writeError(w, http.StatusBadRequest, "state_required", "query parameter 'state' is required")
		return
	}

	sagas, err := h.engine.ListByState(r.Context(), state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error())
		return
	}

	summaries := make([]saga.Summary, len(sagas))
	for i, s := range sagas {
		summaries[i] = s.Summarize()
	}
	writeJSON(w, http.StatusOK, SagaListResponse{State: state, Count: len(summaries), Sagas: summaries})
}

// StreamEvents serves a range read over one event stream.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	from := queryInt64(r, "from")
	to := queryInt64(r, "to")
	count := int(queryInt64(r, "count"))
	if count == 0 {
		count = 100
	}

	entries, err := h.log.Range(r.Context(), stream, from, to, count)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "event_log_error", err.Error())
		return
	}

	events := make([]StreamEntryDTO, len(entries))
	for i, e := range entries {
		events[i] = StreamEntryDTO{
			Sequence:  e.Sequence,
			Type:      e.Type,
			Timestamp: e.Timestamp,
			Payload:   e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, StreamEventsResponse{Stream: stream, Events: events})
}

// ReplayCheckout rebuilds the coarse checkout state from the stream.
func (h *Handler) ReplayCheckout(w http.ResponseWriter, r *http.Request) {
	checkoutID := chi.URLParam(r, "checkoutID")

	state, err := projection.ReplayCheckout(r.Context(), h.log, h.stream, checkoutID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "event_log_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// OrdersByClient queries the CQRS read model. An absent document is not an
// error: the response carries zeros plus the projection watermark so the
// caller can tell "no orders as of sequence N" from "nothing projected yet".
func (h *Handler) OrdersByClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	watermark, err := h.readModel.Watermark(r.Context(), h.stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read_model_error", err.Error())
		return
	}

	doc, ok, err := h.readModel.GetOrdersByClient(r.Context(), clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read_model_error", err.Error())
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, OrdersByClientResponse{
			ClientID:  clientID,
			Watermark: watermark,
			Message:   "no data",
		})
		return
	}

	writeJSON(w, http.StatusOK, OrdersByClientResponse{
		ClientID:    clientID,
		TotalOrders: doc.TotalOrders,
		Orders:      doc.Orders,
		Watermark:   watermark,
	})
}

func queryInt64(r *http.Request, key string) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
