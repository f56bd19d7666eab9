package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harinnig/heymateBackend/internal/directory"
	"github.com/harinnig/heymateBackend/internal/matching"
	"github.com/harinnig/heymateBackend/internal/model"
	"github.com/harinnig/heymateBackend/internal/notify"
	"github.com/harinnig/heymateBackend/internal/payment"
	"github.com/harinnig/heymateBackend/internal/store"
)

// Role distinguishes the two actor kinds every operation receives.
type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
)

// Actor is the pre-validated identity attached to each call. The
// service never parses credentials; upstream middleware resolves them.
type Actor struct {
	ID   string
	Role Role
}

// Policy holds the lifecycle decisions that are deployment
// configuration rather than hard rules.
type Policy struct {
	// AllowCancelActive permits cancelling a request that is already
	// active. When false, cancellation is only possible before
	// activation.
	AllowCancelActive bool

	// CashSkipsPayment routes cash acceptances straight to active,
	// skipping the payment_pending stop.
	CashSkipsPayment bool
}

// DefaultRadiusMeters is used when a request omits its search radius.
const DefaultRadiusMeters = 10000

// DefaultListLimit caps list and search responses.
const DefaultListLimit = 50

// Service is the request state machine. Every transition is one
// guarded store write; matching and notification side effects run only
// after the write commits and never roll it back.
type Service struct {
	requests store.RequestStore
	engine   *matching.Engine
	fanout   *notify.Fanout
	gateway  payment.Gate
	cash     payment.Gate
	orders   payment.OrderStore
	jobs     directory.JobCounter
	policy   Policy
}

func New(
	requests store.RequestStore,
	engine *matching.Engine,
	fanout *notify.Fanout,
	gateway payment.Gate,
	cash payment.Gate,
	orders payment.OrderStore,
	jobs directory.JobCounter,
	policy Policy,
) *Service {
	return &Service{
		requests: requests,
		engine:   engine,
		fanout:   fanout,
		gateway:  gateway,
		cash:     cash,
		orders:   orders,
		jobs:     jobs,
		policy:   policy,
	}
}

// CreateRequestInput carries the requester-supplied fields.
type CreateRequestInput struct {
	Title        string
	Description  string
	Category     string
	Budget       *float64
	Location     model.GeoPoint
	RadiusMeters float64
}

// CreateRequest opens a new request in pending and dispatches the
// first candidate batch. Matching failures never fail creation.
func (s *Service) CreateRequest(ctx context.Context, actor Actor, in CreateRequestInput) (*model.Request, error) {
	if actor.Role != RoleUser {
		return nil, fmt.Errorf("%w: only users create requests", model.ErrNotAuthorized)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", model.ErrValidation)
	}
	if strings.TrimSpace(in.Category) == "" {
		return nil, fmt.Errorf("%w: category is required", model.ErrValidation)
	}
	if !model.ValidCategory(in.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", model.ErrValidation, in.Category)
	}
	if in.Budget != nil && *in.Budget < 0 {
		return nil, fmt.Errorf("%w: budget cannot be negative", model.ErrValidation)
	}
	radius := in.RadiusMeters
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}

	now := time.Now().UTC()
	req := &model.Request{
		ID:                generateID("req_"),
		RequesterID:       actor.ID,
		Title:             strings.TrimSpace(in.Title),
		Description:       strings.TrimSpace(in.Description),
		Category:          in.Category,
		Budget:            in.Budget,
		Location:          in.Location,
		RadiusMeters:      radius,
		Status:            model.StatusPending,
		Offers:            []model.Offer{},
		PaymentStatus:     model.PaymentUnpaid,
		RejectedBy:        []string{},
		NotifiedProviders: []string{},
		StatusHistory:     []model.StatusEntry{},
		CreatedAt:         now,
		Version:           1,
	}
	req.PushStatus(model.StatusPending, "request created", now)

	if err := s.requests.Insert(ctx, req); err != nil {
		return nil, fmt.Errorf("insert request: %w", err)
	}

	slog.InfoContext(ctx, "request_created",
		"request_id", req.ID,
		"requester_id", actor.ID,
		"category", req.Category,
	)

	s.engine.Dispatch(ctx, req)
	return req, nil
}

// SubmitOfferInput carries the provider-supplied offer fields.
type SubmitOfferInput struct {
	Price   float64
	Message string
	ETA     string
}

// SubmitOffer appends a priced offer to a pending request. The append
// is a single guarded write: if the request left pending, or the
// provider already offered, the write fails instead of landing.
func (s *Service) SubmitOffer(ctx context.Context, actor Actor, requestID string, in SubmitOfferInput) (*model.Offer, error) {
	if actor.Role != RoleProvider {
		return nil, fmt.Errorf("%w: only providers submit offers", model.ErrNotAuthorized)
	}
	if in.Price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", model.ErrValidation)
	}

	offer := model.Offer{
		OfferID:    generateID("offer_"),
		ProviderID: actor.ID,
		Price:      in.Price,
		Message:    strings.TrimSpace(in.Message),
		ETA:        strings.TrimSpace(in.ETA),
		Status:     model.OfferPending,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.requests.AppendOffer(ctx, requestID, offer)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: request %s", model.ErrNotFound, requestID)
	case errors.Is(err, store.ErrDuplicateOffer):
		return nil, model.Conflictf(model.StatusPending, "duplicate offer")
	case errors.Is(err, store.ErrNotPending):
		current := model.RequestStatus("")
		if snap, gerr := s.requests.Get(ctx, requestID); gerr == nil {
			current = snap.Status
		}
		return nil, model.Conflictf(current, "request no longer open")
	default:
		return nil, fmt.Errorf("append offer: %w", err)
	}

	req, err := s.requests.Get(ctx, requestID)
	if err == nil {
		s.fanout.Emit(ctx, []string{notify.UserChannel(req.RequesterID)}, notify.EventNewOffer, map[string]any{
			"request_id":  requestID,
			"offer_id":    offer.OfferID,
			"provider_id": offer.ProviderID,
			"price":       offer.Price,
			"eta":         offer.ETA,
		})
	}

	slog.InfoContext(ctx, "offer_submitted",
		"request_id", requestID,
		"offer_id", offer.OfferID,
		"provider_id", actor.ID,
		"price", in.Price,
	)
	return &offer, nil
}

// AcceptOffer assigns the chosen provider and moves the request to
// payment_pending, or straight to active when cash settlement skips
// the payment stop. The whole mutation is one conditional write keyed
// on the pending status and the version read, so a concurrent accept
// or a late offer can never be silently overwritten.
func (s *Service) AcceptOffer(ctx context.Context, actor Actor, requestID, offerID string, method model.PaymentMethod) (*model.Request, error) {
	if method == "" {
		method = model.MethodGateway
	}
	if method != model.MethodGateway && method != model.MethodCash {
		return nil, fmt.Errorf("%w: unknown payment method %q", model.ErrValidation, method)
	}

	req, err := s.getOwned(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.StatusPending {
		return nil, model.Conflictf(req.Status, "request is not open for acceptance")
	}

	chosen := req.OfferByID(offerID)
	if chosen == nil {
		return nil, fmt.Errorf("%w: offer %s", model.ErrNotFound, offerID)
	}

	for i := range req.Offers {
		if req.Offers[i].OfferID == offerID {
			req.Offers[i].Status = model.OfferAccepted
		} else {
			req.Offers[i].Status = model.OfferRejected
		}
	}

	target := model.StatusPaymentPending
	if method == model.MethodCash && s.policy.CashSkipsPayment {
		// No gateway order on the cash path; record a synthetic
		// reference so the settlement is still traceable.
		target = model.StatusActive
		req.PaymentRef = payment.CashReference()
	}

	now := time.Now().UTC()
	req.Status = target
	req.AssignedProvider = chosen.ProviderID
	req.AcceptedOfferID = chosen.OfferID
	req.FinalAmount = chosen.Price
	req.PaymentMethod = method
	req.PushStatus(target, fmt.Sprintf("offer %s accepted", chosen.OfferID), now)

	if err := s.requests.ReplaceIfStatus(ctx, req, model.StatusPending); err != nil {
		return nil, s.conflictFromStale(ctx, requestID, err, "acceptance lost a concurrent update")
	}

	s.fanout.Emit(ctx, []string{notify.ProviderChannel(chosen.ProviderID)}, notify.EventOfferAccepted, map[string]any{
		"request_id": req.ID,
		"offer_id":   chosen.OfferID,
		"amount":     chosen.Price,
		"status":     string(req.Status),
	})
	s.fanout.Emit(ctx, []string{notify.UserChannel(req.RequesterID)}, notify.EventStatusUpdate, map[string]any{
		"request_id":        req.ID,
		"status":            string(req.Status),
		"assigned_provider": req.AssignedProvider,
	})

	slog.InfoContext(ctx, "offer_accepted",
		"request_id", req.ID,
		"offer_id", chosen.OfferID,
		"provider_id", chosen.ProviderID,
		"amount", chosen.Price,
		"status", string(req.Status),
	)
	return req, nil
}

// RejectRequest records a provider's decline and re-dispatches the
// next eligible batch. It never changes the request's status, and a
// repeated decline is a no-op.
func (s *Service) RejectRequest(ctx context.Context, actor Actor, requestID string) error {
	if actor.Role != RoleProvider {
		return fmt.Errorf("%w: only providers decline requests", model.ErrNotAuthorized)
	}

	if err := s.requests.AddRejected(ctx, requestID, actor.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: request %s", model.ErrNotFound, requestID)
		}
		return fmt.Errorf("record rejection: %w", err)
	}

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("reload request: %w", err)
	}
	if req.Status == model.StatusPending {
		s.engine.Dispatch(ctx, req)
	}

	slog.InfoContext(ctx, "request_rejected",
		"request_id", requestID,
		"provider_id", actor.ID,
	)
	return nil
}

// CreatePaymentOrder opens a payment order for a request awaiting
// payment. The order expires; confirmation must arrive while it is
// still active.
func (s *Service) CreatePaymentOrder(ctx context.Context, actor Actor, requestID string) (payment.Order, error) {
	req, err := s.getOwned(ctx, actor, requestID)
	if err != nil {
		return payment.Order{}, err
	}
	if req.Status != model.StatusPaymentPending {
		return payment.Order{}, model.Conflictf(req.Status, "request is not awaiting payment")
	}

	order, err := s.gateFor(req.PaymentMethod).CreateOrder(ctx, req.ID, req.FinalAmount, req.PaymentMethod)
	if err != nil {
		return payment.Order{}, err
	}

	slog.InfoContext(ctx, "payment_order_created",
		"request_id", req.ID,
		"order_id", order.OrderID,
		"amount", order.Amount,
	)
	return order, nil
}

// ConfirmPayment verifies the payment reference and activates the
// request. On a verification failure the request stays in
// payment_pending.
func (s *Service) ConfirmPayment(ctx context.Context, actor Actor, requestID, paymentRef string) (*model.Request, error) {
	req, err := s.getOwned(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.StatusPaymentPending {
		return nil, model.Conflictf(req.Status, "request is not awaiting payment")
	}

	verified, err := s.gateFor(req.PaymentMethod).Verify(ctx, req.ID, paymentRef)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	req.Status = model.StatusActive
	req.PaymentStatus = model.PaymentPaid
	req.PaymentRef = verified.Reference
	req.PushStatus(model.StatusActive, "payment confirmed", now)

	if err := s.requests.ReplaceIfStatus(ctx, req, model.StatusPaymentPending); err != nil {
		return nil, s.conflictFromStale(ctx, requestID, err, "payment confirmation lost a concurrent update")
	}

	if err := s.orders.Delete(ctx, req.ID); err != nil {
		slog.WarnContext(ctx, "failed to drop settled payment order",
			"request_id", req.ID, "error", err)
	}

	s.fanout.Emit(ctx, []string{notify.ProviderChannel(req.AssignedProvider)}, notify.EventPaymentConfirmed, map[string]any{
		"request_id": req.ID,
		"amount":     req.FinalAmount,
		"message":    "payment received, start service",
	})
	s.fanout.Emit(ctx, []string{notify.UserChannel(req.RequesterID)}, notify.EventStatusUpdate, map[string]any{
		"request_id": req.ID,
		"status":     string(req.Status),
	})

	slog.InfoContext(ctx, "payment_confirmed",
		"request_id", req.ID,
		"payment_ref", req.PaymentRef,
		"amount", req.FinalAmount,
	)
	return req, nil
}

// MarkCompleted closes out an active request. Only the assigned
// provider may complete; the completed-job increment is delegated and
// never rolls back the transition.
func (s *Service) MarkCompleted(ctx context.Context, actor Actor, requestID string) (*model.Request, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: request %s", model.ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	if actor.Role != RoleProvider || req.AssignedProvider != actor.ID {
		return nil, fmt.Errorf("%w: only the assigned provider completes a request", model.ErrNotAuthorized)
	}
	if req.Status != model.StatusActive {
		return nil, model.Conflictf(req.Status, "request is not active")
	}

	now := time.Now().UTC()
	req.Status = model.StatusCompleted
	req.CompletedAt = &now
	req.PushStatus(model.StatusCompleted, "service completed", now)

	if err := s.requests.ReplaceIfStatus(ctx, req, model.StatusActive); err != nil {
		return nil, s.conflictFromStale(ctx, requestID, err, "completion lost a concurrent update")
	}

	if err := s.jobs.IncrementCompletedJobs(ctx, actor.ID); err != nil {
		slog.WarnContext(ctx, "failed to increment completed jobs",
			"provider_id", actor.ID, "error", err)
	}

	s.fanout.Emit(ctx, []string{notify.UserChannel(req.RequesterID)}, notify.EventStatusUpdate, map[string]any{
		"request_id":   req.ID,
		"status":       string(req.Status),
		"completed_at": now,
	})

	slog.InfoContext(ctx, "request_completed",
		"request_id", req.ID,
		"provider_id", actor.ID,
	)
	return req, nil
}

// CancelRequest moves a non-terminal request to cancelled. Whether an
// active request can still be cancelled is a policy decision.
func (s *Service) CancelRequest(ctx context.Context, actor Actor, requestID, reason string) (*model.Request, error) {
	req, err := s.getOwned(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, model.Conflictf(req.Status, "request already closed")
	}
	if req.Status == model.StatusActive && !s.policy.AllowCancelActive {
		return nil, model.Conflictf(req.Status, "active requests cannot be cancelled")
	}

	prior := req.Status
	now := time.Now().UTC()
	req.Status = model.StatusCancelled
	req.CancelledAt = &now
	req.CancelReason = strings.TrimSpace(reason)
	message := "request cancelled"
	if req.CancelReason != "" {
		message = "request cancelled: " + req.CancelReason
	}
	req.PushStatus(model.StatusCancelled, message, now)

	if err := s.requests.ReplaceIfStatus(ctx, req, prior); err != nil {
		return nil, s.conflictFromStale(ctx, requestID, err, "cancellation lost a concurrent update")
	}

	channels := []string{notify.UserChannel(req.RequesterID)}
	if req.AssignedProvider != "" {
		channels = append(channels, notify.ProviderChannel(req.AssignedProvider))
	}
	s.fanout.Emit(ctx, channels, notify.EventRequestCancelled, map[string]any{
		"request_id": req.ID,
		"reason":     req.CancelReason,
	})

	slog.InfoContext(ctx, "request_cancelled",
		"request_id", req.ID,
		"prior_status", string(prior),
		"reason", req.CancelReason,
	)
	return req, nil
}

// GetRequest returns a request visible to the actor: its owner, any
// provider it was offered to or assigned, or any provider while it is
// still open.
func (s *Service) GetRequest(ctx context.Context, actor Actor, requestID string) (*model.Request, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: request %s", model.ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	if !s.canView(actor, req) {
		return nil, fmt.Errorf("%w: request %s", model.ErrNotAuthorized, requestID)
	}
	return req, nil
}

// ListMyRequests returns the actor's own requests, newest first.
func (s *Service) ListMyRequests(ctx context.Context, actor Actor, limit int) ([]model.Request, error) {
	if actor.Role != RoleUser {
		return nil, fmt.Errorf("%w: only users list their requests", model.ErrNotAuthorized)
	}
	return s.requests.ListByRequester(ctx, actor.ID, normalizeLimit(limit))
}

// ListOpenRequests returns the open feed for a provider: pending
// requests in the category the provider has not declined.
func (s *Service) ListOpenRequests(ctx context.Context, actor Actor, category string, limit int) ([]model.Request, error) {
	if actor.Role != RoleProvider {
		return nil, fmt.Errorf("%w: only providers browse the open feed", model.ErrNotAuthorized)
	}
	if category != "" && !model.ValidCategory(category) {
		return nil, fmt.Errorf("%w: unknown category %q", model.ErrValidation, category)
	}
	return s.requests.ListOpenForProvider(ctx, category, actor.ID, normalizeLimit(limit))
}

// SearchRequests finds open requests matching a free-text query.
func (s *Service) SearchRequests(ctx context.Context, q string, limit int) ([]model.Request, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: query is required", model.ErrValidation)
	}
	return s.requests.Search(ctx, q, normalizeLimit(limit))
}

// Receipt returns the fee breakdown for a settled request.
func (s *Service) Receipt(ctx context.Context, actor Actor, requestID string) (payment.Receipt, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return payment.Receipt{}, fmt.Errorf("%w: request %s", model.ErrNotFound, requestID)
		}
		return payment.Receipt{}, fmt.Errorf("load request: %w", err)
	}
	if req.RequesterID != actor.ID && req.AssignedProvider != actor.ID {
		return payment.Receipt{}, fmt.Errorf("%w: request %s", model.ErrNotAuthorized, requestID)
	}
	if req.PaymentStatus != model.PaymentPaid && req.Status != model.StatusCompleted {
		return payment.Receipt{}, model.Conflictf(req.Status, "request has no settled payment")
	}
	return payment.BuildReceipt(req.FinalAmount, ""), nil
}

func (s *Service) getOwned(ctx context.Context, actor Actor, requestID string) (*model.Request, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: request %s", model.ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	if actor.Role != RoleUser || req.RequesterID != actor.ID {
		return nil, fmt.Errorf("%w: not the request owner", model.ErrNotAuthorized)
	}
	return req, nil
}

func (s *Service) canView(actor Actor, req *model.Request) bool {
	switch actor.Role {
	case RoleUser:
		return req.RequesterID == actor.ID
	case RoleProvider:
		if req.Status == model.StatusPending {
			return true
		}
		return req.AssignedProvider == actor.ID || req.HasOfferFrom(actor.ID)
	}
	return false
}

func (s *Service) gateFor(method model.PaymentMethod) payment.Gate {
	if method == model.MethodCash {
		return s.cash
	}
	return s.gateway
}

// conflictFromStale turns a lost conditional write into a
// ConflictError carrying the status actually stored now.
func (s *Service) conflictFromStale(ctx context.Context, requestID string, err error, reason string) error {
	if !errors.Is(err, store.ErrStale) {
		return fmt.Errorf("update request: %w", err)
	}
	current := model.RequestStatus("")
	if snap, gerr := s.requests.Get(ctx, requestID); gerr == nil {
		current = snap.Status
	}
	return model.Conflictf(current, "%s", reason)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}

func generateID(prefix string) string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return prefix + hex.EncodeToString(b[:8])
}
