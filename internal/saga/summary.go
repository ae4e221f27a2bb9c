package saga

import "time"

// Summary is the execution digest returned by the status API.
type Summary struct {
	SagaID             string             `json:"saga_id"`
	ClientID           string             `json:"client_id"`
	StoreID            string             `json:"store_id"`
	State              State              `json:"state"`
	IsTerminated       bool               `json:"is_terminated"`
	NeedsCompensation  bool               `json:"needs_compensation"`
	TotalAmount        float64            `json:"total_amount"`
	TotalQuantity      int                `json:"total_quantity"`
	LineCount          int                `json:"line_count"`
	EventCount         int                `json:"event_count"`
	ActiveReservations int                `json:"active_reservations"`
	FinalOrderID       string             `json:"final_order_id,omitempty"`
	TotalDuration      float64            `json:"total_duration_seconds"`
	StepDurations      map[string]float64 `json:"step_durations,omitempty"`
	StepAttempts       map[string]int     `json:"step_attempts,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	EndedAt            *time.Time         `json:"ended_at,omitempty"`
}

// Summarize builds the execution summary for the saga.
func (s *Saga) Summarize() Summary {
	var total float64
	if n := len(s.Events); n > 0 {
		total = s.Events[n-1].Timestamp.Sub(s.CreatedAt).Seconds()
	}
	return Summary{
		SagaID:             s.ID,
		ClientID:           s.ClientID,
		StoreID:            s.StoreID,
		State:              s.State,
		IsTerminated:       s.IsTerminated,
		NeedsCompensation:  s.NeedsCompensation,
		TotalAmount:        s.TotalAmount(),
		TotalQuantity:      s.TotalQuantity(),
		LineCount:          len(s.Lines),
		EventCount:         len(s.Events),
		ActiveReservations: len(s.ReservationIDs),
		FinalOrderID:       s.FinalOrderID,
		TotalDuration:      total,
		StepDurations:      s.StepDurations,
		StepAttempts:       s.StepAttempts,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
		EndedAt:            s.EndedAt,
	}
}
