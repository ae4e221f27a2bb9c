package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(AttachRequestMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/api/sagas", handler.StartSaga)
	r.Get("/api/sagas", handler.ListSagas)
	r.Get("/api/sagas/{id}", handler.GetSaga)

	r.Get("/api/event-store/streams/{stream}/events", handler.StreamEvents)
	r.Get("/api/event-store/replay/checkout/{checkoutID}", handler.ReplayCheckout)
	r.Get("/api/event-store/cqrs/orders-by-client/{clientID}", handler.OrdersByClient)

	return r
}
