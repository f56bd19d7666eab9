package httpapi

import (
	"net/http"

	"github.com/harinnig/heymateBackend/internal/directory"
	"github.com/harinnig/heymateBackend/internal/lifecycle"
	"github.com/harinnig/heymateBackend/internal/middleware"
	"github.com/harinnig/heymateBackend/internal/places"
)

// NewRouter wires the public API. Every /v1 route runs behind the
// actor-identity middleware; /health does not. dir is nil when an
// external registry owns provider profiles; the profile routes then
// answer not found instead of writing to a store nothing reads.
func NewRouter(svc *lifecycle.Service, dir *directory.Local, chain *places.Chain) http.Handler {
	h := NewHandlers(svc, dir, chain)

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/requests", h.HandleCreateRequest)
	api.HandleFunc("GET /v1/requests", h.HandleListMyRequests)
	api.HandleFunc("GET /v1/requests/{id}", h.HandleGetRequest)
	api.HandleFunc("POST /v1/requests/{id}/offers", h.HandleSubmitOffer)
	api.HandleFunc("POST /v1/requests/{id}/accept", h.HandleAcceptOffer)
	api.HandleFunc("POST /v1/requests/{id}/reject", h.HandleRejectRequest)
	api.HandleFunc("POST /v1/requests/{id}/payments", h.HandleCreatePaymentOrder)
	api.HandleFunc("POST /v1/requests/{id}/payments/confirm", h.HandleConfirmPayment)
	api.HandleFunc("POST /v1/requests/{id}/complete", h.HandleMarkCompleted)
	api.HandleFunc("POST /v1/requests/{id}/cancel", h.HandleCancelRequest)
	api.HandleFunc("GET /v1/requests/{id}/receipt", h.HandleReceipt)
	api.HandleFunc("GET /v1/feed", h.HandleOpenFeed)
	api.HandleFunc("GET /v1/search", h.HandleSearchRequests)
	api.HandleFunc("GET /v1/nearby", h.HandleNearby)
	api.HandleFunc("POST /v1/providers", h.HandleUpsertProvider)
	api.HandleFunc("POST /v1/providers/availability", h.HandleSetAvailability)

	mux := http.NewServeMux()
	mux.Handle("/v1/", middleware.Actor(api))
	mux.HandleFunc("GET /health", handleHealth)

	var handler http.Handler = mux
	handler = middleware.Logging(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(handler)
	return handler
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"heymated"}`))
}
