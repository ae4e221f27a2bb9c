package httpx

import (
	"time"

	"github.com/magasin/saga-orchestrator/internal/projection"
	"github.com/magasin/saga-orchestrator/internal/saga"
)

type StartSagaRequest struct {
	ClientID string         `json:"client_id"`
	StoreID  string         `json:"store_id"`
	Lines    []OrderLineDTO `json:"lines"`
}

type OrderLineDTO struct {
	ProductID   string  `json:"product_id"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	ProductName string  `json:"product_name,omitempty"`
}

type StartSagaResponse struct {
	SagaID     string     `json:"saga_id"`
	FinalState saga.State `json:"final_state"`
	Success    bool       `json:"success"`
	OrderID    string     `json:"order_id,omitempty"`
}

type SagaEventDTO struct {
	ID         string         `json:"id"`
	Type       saga.EventType `json:"event_type"`
	PriorState saga.State     `json:"prior_state,omitempty"`
	NewState   saga.State     `json:"new_state"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type SagaResponse struct {
	Summary        saga.Summary      `json:"summary"`
	Lines          []OrderLineDTO    `json:"lines"`
	ReservationIDs map[string]string `json:"reservation_ids,omitempty"`
	ContextData    map[string]any    `json:"context_data,omitempty"`
	Events         []SagaEventDTO    `json:"events"`
}

type SagaListResponse struct {
	State saga.State     `json:"state"`
	Count int            `json:"count"`
	Sagas []saga.Summary `json:"sagas"`
}

type StreamEventsResponse struct {
	Stream string          `json:"stream"`
	Events []StreamEntryDTO `json:"events"`
}

type StreamEntryDTO struct {
	Sequence  int64          `json:"sequence_id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

type OrdersByClientResponse struct {
	ClientID    string                `json:"client_id"`
	TotalOrders int                   `json:"total_orders"`
	Orders      []projection.OrderRef `json:"orders"`
	Watermark   int64                 `json:"watermark"`
	Message     string                `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func mapSaga(s *saga.Saga) SagaResponse {
	lines := make([]OrderLineDTO, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = OrderLineDTO{
			ProductID:   l.ProductID,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			ProductName: l.ProductName,
		}
	}
	events := make([]SagaEventDTO, len(s.Events))
	for i, ev := range s.Events {
		events[i] = SagaEventDTO{
			ID:         ev.ID,
			Type:       ev.Type,
			PriorState: ev.PriorState,
			NewState:   ev.NewState,
			Message:    ev.Message,
			Data:       ev.Data,
			Timestamp:  ev.Timestamp,
		}
	}
	return SagaResponse{
		Summary:        s.Summarize(),
		Lines:          lines,
		ReservationIDs: s.ReservationIDs,
		ContextData:    s.ContextData,
		Events:         events,
	}
}
