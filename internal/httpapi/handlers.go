package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/harinnig/heymateBackend/internal/directory"
	"github.com/harinnig/heymateBackend/internal/lifecycle"
	"github.com/harinnig/heymateBackend/internal/middleware"
	"github.com/harinnig/heymateBackend/internal/model"
	"github.com/harinnig/heymateBackend/internal/places"
)

type Handlers struct {
	svc   *lifecycle.Service
	dir   *directory.Local
	chain *places.Chain
}

func NewHandlers(svc *lifecycle.Service, dir *directory.Local, chain *places.Chain) *Handlers {
	return &Handlers{svc: svc, dir: dir, chain: chain}
}

// HandleCreateRequest handles POST /v1/requests
func (h *Handlers) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := middleware.GetActor(ctx)

	var body struct {
		Title        string         `json:"title"`
		Description  string         `json:"description"`
		Category     string         `json:"category"`
		Budget       *float64       `json:"budget,omitempty"`
		Location     model.GeoPoint `json:"location"`
		RadiusMeters float64        `json:"radius_meters"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	req, err := h.svc.CreateRequest(ctx, actor, lifecycle.CreateRequestInput{
		Title:        body.Title,
		Description:  body.Description,
		Category:     body.Category,
		Budget:       body.Budget,
		Location:     body.Location,
		RadiusMeters: body.RadiusMeters,
	})
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// HandleGetRequest handles GET /v1/requests/{id}
func (h *Handlers) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	req, err := h.svc.GetRequest(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandleListMyRequests handles GET /v1/requests
func (h *Handlers) HandleListMyRequests(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	reqs, err := h.svc.ListMyRequests(r.Context(), actor, queryInt(r, "limit"))
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(reqs), "requests": reqs})
}

// HandleSubmitOffer handles POST /v1/requests/{id}/offers
func (h *Handlers) HandleSubmitOffer(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	var body struct {
		Price   float64 `json:"price"`
		Message string  `json:"message"`
		ETA     string  `json:"eta"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	offer, err := h.svc.SubmitOffer(r.Context(), actor, r.PathValue("id"), lifecycle.SubmitOfferInput{
		Price:   body.Price,
		Message: body.Message,
		ETA:     body.ETA,
	})
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// HandleAcceptOffer handles POST /v1/requests/{id}/accept
func (h *Handlers) HandleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	var body struct {
		OfferID       string              `json:"offer_id"`
		PaymentMethod model.PaymentMethod `json:"payment_method"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	req, err := h.svc.AcceptOffer(r.Context(), actor, r.PathValue("id"), body.OfferID, body.PaymentMethod)
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandleRejectRequest handles POST /v1/requests/{id}/reject
func (h *Handlers) HandleRejectRequest(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	if err := h.svc.RejectRequest(r.Context(), actor, r.PathValue("id")); err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

// HandleCreatePaymentOrder handles POST /v1/requests/{id}/payments
func (h *Handlers) HandleCreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	order, err := h.svc.CreatePaymentOrder(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// HandleConfirmPayment handles POST /v1/requests/{id}/payments/confirm
func (h *Handlers) HandleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	var body struct {
		PaymentRef string `json:"payment_ref"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	req, err := h.svc.ConfirmPayment(r.Context(), actor, r.PathValue("id"), body.PaymentRef)
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandleMarkCompleted handles POST /v1/requests/{id}/complete
func (h *Handlers) HandleMarkCompleted(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	req, err := h.svc.MarkCompleted(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandleCancelRequest handles POST /v1/requests/{id}/cancel
func (h *Handlers) HandleCancelRequest(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())

	var body struct {
		Reason string `json:"reason"`
	}
	// Reason is optional; an empty body is fine.
	_ = decodeJSON(r, &body)

	req, err := h.svc.CancelRequest(r.Context(), actor, r.PathValue("id"), body.Reason)
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandleReceipt handles GET /v1/requests/{id}/receipt
func (h *Handlers) HandleReceipt(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	receipt, err := h.svc.Receipt(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// HandleOpenFeed handles GET /v1/feed
func (h *Handlers) HandleOpenFeed(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.GetActor(r.Context())
	reqs, err := h.svc.ListOpenRequests(r.Context(), actor, r.URL.Query().Get("category"), queryInt(r, "limit"))
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(reqs), "requests": reqs})
}

// HandleSearchRequests handles GET /v1/search
func (h *Handlers) HandleSearchRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.SearchRequests(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit"))
	if err != nil {
		writeTaxonomyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(reqs), "requests": reqs})
}

// HandleNearby handles GET /v1/nearby
func (h *Handlers) HandleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("longitude"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_location", "latitude and longitude are required")
		return
	}
	radius, _ := strconv.ParseFloat(q.Get("radius"), 64)

	found := h.chain.Lookup(r.Context(), places.Query{
		Category:     q.Get("category"),
		Point:        model.GeoPoint{Latitude: lat, Longitude: lon},
		RadiusMeters: radius,
		Limit:        queryInt(r, "limit"),
	})
	writeJSON(w, http.StatusOK, map[string]any{"count": len(found), "places": found})
}

// HandleUpsertProvider handles POST /v1/providers
func (h *Handlers) HandleUpsertProvider(w http.ResponseWriter, r *http.Request) {
	if h.dir == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "provider profiles are managed by the directory service")
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	if actor.Role != lifecycle.RoleProvider {
		writeError(w, r, http.StatusForbidden, "not_authorized", "only providers register profiles")
		return
	}

	var p model.Provider
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	p.ProviderID = actor.ID
	for _, c := range p.Categories {
		if !model.ValidCategory(c) {
			writeError(w, r, http.StatusBadRequest, "invalid_category", "unknown category "+c)
			return
		}
	}

	h.dir.Upsert(p)
	writeJSON(w, http.StatusOK, p)
}

// HandleSetAvailability handles POST /v1/providers/availability
func (h *Handlers) HandleSetAvailability(w http.ResponseWriter, r *http.Request) {
	if h.dir == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "provider profiles are managed by the directory service")
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	if actor.Role != lifecycle.RoleProvider {
		writeError(w, r, http.StatusForbidden, "not_authorized", "only providers set availability")
		return
	}

	var body struct {
		Available bool `json:"available"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	if err := h.dir.SetAvailable(actor.ID, body.Available); err != nil {
		writeError(w, r, http.StatusNotFound, "not_found", "provider profile not registered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider_id": actor.ID, "available": body.Available})
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	defer func() { _ = r.Body.Close() }()
	if len(body) == 0 {
		return io.EOF
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeTaxonomyError maps service errors onto HTTP statuses. Conflicts
// carry the current status so clients can resynchronize.
func writeTaxonomyError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *model.StatusConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSONError(w, r, http.StatusConflict, "conflict", conflict.Reason, string(conflict.Current))
	case errors.Is(err, model.ErrValidation):
		writeError(w, r, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, model.ErrNotAuthorized):
		writeError(w, r, http.StatusForbidden, "not_authorized", err.Error())
	case errors.Is(err, model.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, model.ErrPayment):
		writeError(w, r, http.StatusPaymentRequired, "payment_failed", err.Error())
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSONError(w, r, status, code, message, "")
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message, currentStatus string) {
	payload := map[string]any{
		"code":       code,
		"message":    message,
		"request_id": middleware.GetRequestID(r.Context()),
	}
	if currentStatus != "" {
		payload["current_status"] = currentStatus
	}
	writeJSON(w, status, map[string]any{"error": payload})
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
