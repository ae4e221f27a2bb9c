// Package saga defines the checkout saga aggregate: a state machine that
// tracks one distributed purchase attempt across the inventory, catalogue
// and order services.
//
// The aggregate is event-sourced: every outcome transition appends an Event
// to the aggregate's history, and replaying that history in order must
// reproduce the stored state exactly. Wire values for states and event types
// are kept as-is from the upstream services (French identifiers), so the
// persisted form stays compatible with the rest of the platform.
package saga

import (
	"time"

	"github.com/google/uuid"
)

// State is the saga state machine enumeration.
type State string

const (
	StatePending             State = "EN_ATTENTE"
	StateVerifyingStock      State = "VERIFICATION_STOCK"
	StateStockVerified       State = "STOCK_VERIFIE"
	StateReservingStock      State = "RESERVATION_STOCK"
	StateStockReserved       State = "STOCK_RESERVE"
	StateCreatingOrder       State = "CREATION_COMMANDE"
	StateOrderCreated        State = "COMMANDE_CREEE"
	StateCompleted           State = "SAGA_TERMINEE"
	StateInsufficientStock   State = "ECHEC_STOCK_INSUFFISANT"
	StateReservationFailed   State = "ECHEC_RESERVATION_STOCK"
	StateOrderCreationFailed State = "ECHEC_CREATION_COMMANDE"
	StateCompensating        State = "COMPENSATION_EN_COURS"
	StateCancelled           State = "SAGA_ANNULEE"
)

// EventType identifies the kind of transition recorded in the saga history.
type EventType string

const (
	EventSagaStarted             EventType = "SAGA_DEMARRE"
	EventStockVerified           EventType = "STOCK_VERIFIE_SUCCES"
	EventStockVerificationFailed EventType = "STOCK_VERIFIE_ECHEC"
	EventStockReserved           EventType = "STOCK_RESERVE_SUCCES"
	EventStockReservationFailed  EventType = "STOCK_RESERVE_ECHEC"
	EventOrderCreated            EventType = "COMMANDE_CREEE_SUCCES"
	EventOrderCreationFailed     EventType = "COMMANDE_CREEE_ECHEC"
	EventCompensationRequested   EventType = "COMPENSATION_DEMANDEE"
	EventCompensationCompleted   EventType = "COMPENSATION_TERMINEE"
	EventSagaCompleted           EventType = "SAGA_TERMINEE_SUCCES"
)

// transitions enumerates every legal (from, to) pair. Anything else is an
// InvalidTransition error. Working states (VERIFICATION_STOCK,
// RESERVATION_STOCK, CREATION_COMMANDE, COMPENSATION_EN_COURS) are entered
// silently via Begin; outcome states are entered via Transition, which
// records an Event.
var transitions = map[State][]State{
	StatePending:             {StateVerifyingStock},
	StateVerifyingStock:      {StateStockVerified, StateInsufficientStock},
	StateStockVerified:       {StateReservingStock},
	StateReservingStock:      {StateStockReserved, StateReservationFailed},
	StateStockReserved:       {StateCreatingOrder},
	StateCreatingOrder:       {StateOrderCreated, StateOrderCreationFailed},
	StateOrderCreated:        {StateCompleted},
	StateReservationFailed:   {StateCompensating},
	StateOrderCreationFailed: {StateCompensating},
	StateCompensating:        {StateCancelled},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderLine is one product line of the purchase request.
type OrderLine struct {
	ProductID   string  `json:"product_id"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	ProductName string  `json:"product_name,omitempty"`
}

// Amount returns the line total.
func (l OrderLine) Amount() float64 {
	return float64(l.Quantity) * l.UnitPrice
}

// Event is one immutable entry in the saga's event-sourced history.
// NewState always equals the aggregate's state immediately after the event
// was appended.
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"event_type"`
	PriorState State          `json:"prior_state,omitempty"`
	NewState   State          `json:"new_state"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Saga is the aggregate root for one checkout attempt.
//
// The event list is append-only and is the sole audit trail; ReservationIDs
// is mutated only by the reservation step and by compensation;
// FinalOrderID is set at most once. Once IsTerminated is true no further
// transition may be applied.
type Saga struct {
	ID          string         `json:"id"`
	ClientID    string         `json:"client_id"`
	StoreID     string         `json:"store_id"`
	Lines       []OrderLine    `json:"order_lines"`
	State       State          `json:"state"`
	ContextData map[string]any `json:"context_data,omitempty"`

	// ReservationIDs maps product id -> reservation token. Compensation
	// walks this map and removes each entry it manages to release.
	ReservationIDs map[string]string `json:"reservation_ids,omitempty"`

	FinalOrderID      string `json:"final_order_id,omitempty"`
	IsTerminated      bool   `json:"is_terminated"`
	NeedsCompensation bool   `json:"needs_compensation"`

	// Version backs the optimistic single-writer check in the store.
	Version int64 `json:"version"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Events []Event `json:"events"`

	// Step observability, recorded on every outcome transition.
	StepDurations map[string]float64 `json:"step_durations,omitempty"`
	StepAttempts  map[string]int     `json:"step_attempts,omitempty"`
}

// New builds a fresh saga in EN_ATTENTE for the given purchase request.
func New(clientID, storeID string, lines []OrderLine) (*Saga, error) {
	if clientID == "" {
		return nil, invalidInput("client_id is required")
	}
	if storeID == "" {
		return nil, invalidInput("store_id is required")
	}
	if len(lines) == 0 {
		return nil, invalidInput("at least one order line is required")
	}
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, invalidInput("order line product_id is required")
		}
		if l.Quantity <= 0 {
			return nil, invalidInput("order line quantity must be positive")
		}
		if l.UnitPrice < 0 {
			return nil, invalidInput("order line unit price cannot be negative")
		}
	}

	now := time.Now().UTC()
	return &Saga{
		ID:             uuid.NewString(),
		ClientID:       clientID,
		StoreID:        storeID,
		Lines:          lines,
		State:          StatePending,
		ContextData:    map[string]any{},
		ReservationIDs: map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
		StepDurations:  map[string]float64{},
		StepAttempts:   map[string]int{},
	}, nil
}

// Begin moves the saga into a step's working state without recording an
// event. The step's outcome transition carries the event.
func (s *Saga) Begin(to State) error {
	if s.IsTerminated {
		return NewInvalidTransition(s.ID, s.State, to)
	}
	if !CanTransition(s.State, to) {
		return NewInvalidTransition(s.ID, s.State, to)
	}
	s.State = to
	s.UpdatedAt = time.Now().UTC()
	s.StepAttempts[string(to)]++
	return nil
}

// Transition moves the saga to an outcome state and appends the matching
// event. The aggregate is left unchanged when the transition is illegal.
func (s *Saga) Transition(to State, typ EventType, message string, data map[string]any) error {
	if s.IsTerminated {
		return NewInvalidTransition(s.ID, s.State, to)
	}
	if !CanTransition(s.State, to) {
		return NewInvalidTransition(s.ID, s.State, to)
	}

	now := time.Now().UTC()
	prior := s.State

	s.Events = append(s.Events, Event{
		ID:         uuid.NewString(),
		Type:       typ,
		PriorState: prior,
		NewState:   to,
		Message:    message,
		Data:       data,
		Timestamp:  now,
	})
	s.State = to
	s.UpdatedAt = now
	s.recordStepDuration(prior, now)

	if s.terminalIn(to) {
		s.IsTerminated = true
		ended := now
		s.EndedAt = &ended
	}
	return nil
}

// terminalIn reports whether reaching to ends the saga. Failure states that
// still owe a compensation run are not terminal; they continue through
// COMPENSATION_EN_COURS.
func (s *Saga) terminalIn(to State) bool {
	switch to {
	case StateCompleted, StateCancelled, StateInsufficientStock:
		return true
	case StateReservationFailed, StateOrderCreationFailed:
		return !s.NeedsCompensation
	}
	return false
}

func (s *Saga) recordStepDuration(prior State, now time.Time) {
	if len(s.Events) < 2 {
		if len(s.Events) == 1 {
			s.StepDurations[string(prior)] = now.Sub(s.CreatedAt).Seconds()
		}
		return
	}
	previous := s.Events[len(s.Events)-2].Timestamp
	s.StepDurations[string(prior)] = now.Sub(previous).Seconds()
}

// AddReservation records a reservation token obtained for a product.
func (s *Saga) AddReservation(productID, reservationID string) {
	s.ReservationIDs[productID] = reservationID
	s.UpdatedAt = time.Now().UTC()
}

// RemoveReservation drops a released reservation from the map.
func (s *Saga) RemoveReservation(productID string) {
	delete(s.ReservationIDs, productID)
	s.UpdatedAt = time.Now().UTC()
}

// SetFinalOrderID records the downstream order id. It may be set only once.
func (s *Saga) SetFinalOrderID(orderID string) error {
	if s.FinalOrderID != "" {
		return invalidInput("final order id already set")
	}
	s.FinalOrderID = orderID
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// TotalAmount is the sum of all line totals.
func (s *Saga) TotalAmount() float64 {
	var total float64
	for _, l := range s.Lines {
		total += l.Amount()
	}
	return total
}

// TotalQuantity is the total number of items across all lines.
func (s *Saga) TotalQuantity() int {
	var total int
	for _, l := range s.Lines {
		total += l.Quantity
	}
	return total
}

// Replay folds an event history from EN_ATTENTE and returns the resulting
// state. It validates that each event's prior state is reachable from the
// running state (directly, or through the single silent working-state hop
// Begin performs) and that every recorded transition is legal.
func Replay(events []Event) (State, error) {
	state := StatePending
	for _, ev := range events {
		if ev.PriorState != state {
			if !CanTransition(state, ev.PriorState) {
				return state, NewInvalidTransition("", state, ev.PriorState)
			}
			state = ev.PriorState
		}
		if !CanTransition(state, ev.NewState) {
			return state, NewInvalidTransition("", state, ev.NewState)
		}
		state = ev.NewState
	}
	return state, nil
}
