package lifecycle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/harinnig/heymateBackend/internal/directory"
	"github.com/harinnig/heymateBackend/internal/matching"
	"github.com/harinnig/heymateBackend/internal/model"
	"github.com/harinnig/heymateBackend/internal/notify"
	"github.com/harinnig/heymateBackend/internal/payment"
	"github.com/harinnig/heymateBackend/internal/store"
)

const testGatewaySecret = "test-secret"

type captureTransport struct {
	mu   sync.Mutex
	sent []notify.Envelope
}

func (t *captureTransport) Send(ctx context.Context, env notify.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, env)
	return nil
}

func (t *captureTransport) Name() string { return "capture" }

func (t *captureTransport) byType(eventType string) []notify.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []notify.Envelope
	for _, env := range t.sent {
		if env.EventType == eventType {
			out = append(out, env)
		}
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *store.MemoryStore
	dir    *directory.Local
	events *captureTransport
	orders payment.OrderStore
}

func newFixture(policy Policy) *fixture {
	st := store.NewMemoryStore()
	dir := directory.NewLocal()
	events := &captureTransport{}
	fanout := notify.NewFanout(events)
	engine := matching.New(dir, st, fanout, 0)
	orders := payment.NewMemoryOrderStore()
	svc := New(st, engine, fanout,
		payment.NewGatewayGate(testGatewaySecret, orders),
		payment.NewCashGate(),
		orders, dir, policy)
	return &fixture{svc: svc, store: st, dir: dir, events: events, orders: orders}
}

func (f *fixture) addProvider(id, category string) {
	f.dir.Upsert(model.Provider{
		ProviderID: id,
		Name:       id,
		Categories: []string{category},
		Location:   model.GeoPoint{Latitude: 12.97, Longitude: 77.59},
		Available:  true,
	})
}

func (f *fixture) createRequest(t *testing.T, owner string) *model.Request {
	t.Helper()
	req, err := f.svc.CreateRequest(context.Background(), Actor{ID: owner, Role: RoleUser}, CreateRequestInput{
		Title:    "Leak fix",
		Category: "Plumbing",
		Location: model.GeoPoint{Latitude: 12.97, Longitude: 77.59, Address: "Indiranagar"},
	})
	if err != nil {
		t.Fatalf("CreateRequest() error: %v", err)
	}
	return req
}

func signRef(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testGatewaySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return orderID + "|" + paymentID + "|" + hex.EncodeToString(mac.Sum(nil))
}

func TestCreateRequest(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		title    string
		category string
		wantErr  error
	}{
		{name: "valid request", role: RoleUser, title: "Leak fix", category: "Plumbing"},
		{name: "missing title", role: RoleUser, title: "  ", category: "Plumbing", wantErr: model.ErrValidation},
		{name: "missing category", role: RoleUser, title: "Leak fix", category: "", wantErr: model.ErrValidation},
		{name: "unknown category", role: RoleUser, title: "Leak fix", category: "Gardening", wantErr: model.ErrValidation},
		{name: "provider cannot create", role: RoleProvider, title: "Leak fix", category: "Plumbing", wantErr: model.ErrNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Policy{})
			req, err := f.svc.CreateRequest(context.Background(), Actor{ID: "user_1", Role: tt.role}, CreateRequestInput{
				Title:    tt.title,
				Category: tt.category,
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CreateRequest() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateRequest() unexpected error: %v", err)
			}
			if req.Status != model.StatusPending {
				t.Errorf("status = %v, want pending", req.Status)
			}
			if req.Offers == nil || len(req.Offers) != 0 {
				t.Errorf("offers = %v, want non-nil empty", req.Offers)
			}
			if req.RejectedBy == nil || req.NotifiedProviders == nil {
				t.Error("rejected/notified sets must be non-nil")
			}
			if len(req.StatusHistory) != 1 || req.StatusHistory[0].Status != model.StatusPending {
				t.Errorf("history = %v, want one pending entry", req.StatusHistory)
			}
			if req.RadiusMeters != DefaultRadiusMeters {
				t.Errorf("radius = %v, want default %v", req.RadiusMeters, DefaultRadiusMeters)
			}
			if req.Version != 1 {
				t.Errorf("version = %v, want 1", req.Version)
			}
		})
	}
}

func TestCreateRequestNotifiesProviders(t *testing.T) {
	f := newFixture(Policy{})
	f.addProvider("prov_a", "Plumbing")
	f.addProvider("prov_b", "Plumbing")
	f.addProvider("prov_c", "Cleaning")

	req := f.createRequest(t, "user_1")

	got := f.events.byType(notify.EventNewRequest)
	if len(got) != 2 {
		t.Fatalf("new-request events = %d, want 2", len(got))
	}

	stored, err := f.store.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(stored.NotifiedProviders) != 2 {
		t.Errorf("notifiedProviders = %v, want 2 entries", stored.NotifiedProviders)
	}
}

func TestSubmitOffer(t *testing.T) {
	f := newFixture(Policy{})
	req := f.createRequest(t, "user_1")
	ctx := context.Background()
	provider := Actor{ID: "prov_a", Role: RoleProvider}

	t.Run("appends one pending offer", func(t *testing.T) {
		offer, err := f.svc.SubmitOffer(ctx, provider, req.ID, SubmitOfferInput{Price: 500, ETA: "30m"})
		if err != nil {
			t.Fatalf("SubmitOffer() error: %v", err)
		}
		if offer.Status != model.OfferPending {
			t.Errorf("offer status = %v, want pending", offer.Status)
		}
		stored, _ := f.store.Get(ctx, req.ID)
		if len(stored.Offers) != 1 {
			t.Fatalf("offers = %d, want 1", len(stored.Offers))
		}
		if got := f.events.byType(notify.EventNewOffer); len(got) != 1 {
			t.Errorf("new-offer events = %d, want 1", len(got))
		}
	})

	t.Run("duplicate offer conflicts", func(t *testing.T) {
		_, err := f.svc.SubmitOffer(ctx, provider, req.ID, SubmitOfferInput{Price: 450})
		if !errors.Is(err, model.ErrConflict) {
			t.Fatalf("SubmitOffer() error = %v, want conflict", err)
		}
		stored, _ := f.store.Get(ctx, req.ID)
		if len(stored.Offers) != 1 {
			t.Errorf("offers = %d, want still 1", len(stored.Offers))
		}
	})

	t.Run("non-positive price rejected", func(t *testing.T) {
		_, err := f.svc.SubmitOffer(ctx, Actor{ID: "prov_b", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 0})
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("SubmitOffer() error = %v, want validation", err)
		}
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := f.svc.SubmitOffer(ctx, provider, "req_missing", SubmitOfferInput{Price: 100})
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("SubmitOffer() error = %v, want not found", err)
		}
	})
}

func TestAcceptOffer(t *testing.T) {
	ctx := context.Background()
	owner := Actor{ID: "user_1", Role: RoleUser}

	t.Run("gateway acceptance goes to payment_pending", func(t *testing.T) {
		f := newFixture(Policy{})
		req := f.createRequest(t, owner.ID)
		offerA, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 500})
		offerB, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_b", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 600})

		got, err := f.svc.AcceptOffer(ctx, owner, req.ID, offerA.OfferID, model.MethodGateway)
		if err != nil {
			t.Fatalf("AcceptOffer() error: %v", err)
		}
		if got.Status != model.StatusPaymentPending {
			t.Errorf("status = %v, want payment_pending", got.Status)
		}
		if got.AssignedProvider != "prov_a" || got.AcceptedOfferID != offerA.OfferID {
			t.Errorf("assignment = %s/%s, want prov_a/%s", got.AssignedProvider, got.AcceptedOfferID, offerA.OfferID)
		}
		if got.FinalAmount != 500 {
			t.Errorf("finalAmount = %v, want 500", got.FinalAmount)
		}
		if got.OfferByID(offerA.OfferID).Status != model.OfferAccepted {
			t.Error("chosen offer not accepted")
		}
		if got.OfferByID(offerB.OfferID).Status != model.OfferRejected {
			t.Error("sibling offer not rejected")
		}
		if len(f.events.byType(notify.EventOfferAccepted)) != 1 {
			t.Error("assigned provider not notified")
		}
	})

	t.Run("cash acceptance skips payment when policy allows", func(t *testing.T) {
		f := newFixture(Policy{CashSkipsPayment: true})
		req := f.createRequest(t, owner.ID)
		offer, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 300})

		got, err := f.svc.AcceptOffer(ctx, owner, req.ID, offer.OfferID, model.MethodCash)
		if err != nil {
			t.Fatalf("AcceptOffer() error: %v", err)
		}
		if got.Status != model.StatusActive {
			t.Errorf("status = %v, want active", got.Status)
		}
		if !strings.HasPrefix(got.PaymentRef, "CASH_") {
			t.Errorf("payment ref = %q, want CASH_ reference", got.PaymentRef)
		}
		if got.PaymentStatus != model.PaymentUnpaid {
			t.Errorf("payment status = %v, want unpaid", got.PaymentStatus)
		}
	})

	t.Run("cash acceptance stops at payment_pending by default", func(t *testing.T) {
		f := newFixture(Policy{})
		req := f.createRequest(t, owner.ID)
		offer, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 300})

		got, err := f.svc.AcceptOffer(ctx, owner, req.ID, offer.OfferID, model.MethodCash)
		if err != nil {
			t.Fatalf("AcceptOffer() error: %v", err)
		}
		if got.Status != model.StatusPaymentPending {
			t.Errorf("status = %v, want payment_pending", got.Status)
		}
	})

	t.Run("non-owner cannot accept", func(t *testing.T) {
		f := newFixture(Policy{})
		req := f.createRequest(t, owner.ID)
		offer, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 300})

		_, err := f.svc.AcceptOffer(ctx, Actor{ID: "user_2", Role: RoleUser}, req.ID, offer.OfferID, model.MethodGateway)
		if !errors.Is(err, model.ErrNotAuthorized) {
			t.Errorf("AcceptOffer() error = %v, want authorization", err)
		}
	})

	t.Run("unknown offer", func(t *testing.T) {
		f := newFixture(Policy{})
		req := f.createRequest(t, owner.ID)
		_, err := f.svc.AcceptOffer(ctx, owner, req.ID, "offer_missing", model.MethodGateway)
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("AcceptOffer() error = %v, want not found", err)
		}
	})

	t.Run("second accept conflicts", func(t *testing.T) {
		f := newFixture(Policy{})
		req := f.createRequest(t, owner.ID)
		offerA, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 300})
		offerB, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_b", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 250})

		if _, err := f.svc.AcceptOffer(ctx, owner, req.ID, offerA.OfferID, model.MethodGateway); err != nil {
			t.Fatalf("first AcceptOffer() error: %v", err)
		}
		_, err := f.svc.AcceptOffer(ctx, owner, req.ID, offerB.OfferID, model.MethodGateway)
		if !errors.Is(err, model.ErrConflict) {
			t.Fatalf("second AcceptOffer() error = %v, want conflict", err)
		}

		stored, _ := f.store.Get(ctx, req.ID)
		if stored.AssignedProvider != "prov_a" {
			t.Errorf("assignedProvider = %v, want prov_a untouched", stored.AssignedProvider)
		}
	})
}

func TestOfferAfterAcceptConflicts(t *testing.T) {
	f := newFixture(Policy{})
	ctx := context.Background()
	owner := Actor{ID: "user_1", Role: RoleUser}
	req := f.createRequest(t, owner.ID)
	offer, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 500})
	if _, err := f.svc.AcceptOffer(ctx, owner, req.ID, offer.OfferID, model.MethodGateway); err != nil {
		t.Fatalf("AcceptOffer() error: %v", err)
	}

	_, err := f.svc.SubmitOffer(ctx, Actor{ID: "prov_b", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 400})
	var conflict *model.StatusConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("SubmitOffer() error = %v, want StatusConflictError", err)
	}
	if conflict.Current != model.StatusPaymentPending {
		t.Errorf("conflict current = %v, want payment_pending", conflict.Current)
	}
}

func TestRejectRequest(t *testing.T) {
	f := newFixture(Policy{})
	f.addProvider("prov_a", "Plumbing")
	f.addProvider("prov_b", "Plumbing")
	ctx := context.Background()
	req := f.createRequest(t, "user_1")

	if err := f.svc.RejectRequest(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID); err != nil {
		t.Fatalf("RejectRequest() error: %v", err)
	}
	// Idempotent.
	if err := f.svc.RejectRequest(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID); err != nil {
		t.Fatalf("repeat RejectRequest() error: %v", err)
	}

	stored, _ := f.store.Get(ctx, req.ID)
	if len(stored.RejectedBy) != 1 || stored.RejectedBy[0] != "prov_a" {
		t.Errorf("rejectedBy = %v, want [prov_a]", stored.RejectedBy)
	}
	if stored.Status != model.StatusPending {
		t.Errorf("status = %v, reject must not change status", stored.Status)
	}

	candidates, err := f.dir.Query(ctx, "Plumbing", stored.Location, stored.RadiusMeters, stored.RejectedBy)
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	for _, c := range candidates {
		if c.ProviderID == "prov_a" {
			t.Error("rejected provider still returned by directory query")
		}
	}
}

func TestPaymentFlow(t *testing.T) {
	f := newFixture(Policy{})
	ctx := context.Background()
	owner := Actor{ID: "user_1", Role: RoleUser}
	req := f.createRequest(t, owner.ID)
	offer, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 500})
	if _, err := f.svc.AcceptOffer(ctx, owner, req.ID, offer.OfferID, model.MethodGateway); err != nil {
		t.Fatalf("AcceptOffer() error: %v", err)
	}

	order, err := f.svc.CreatePaymentOrder(ctx, owner, req.ID)
	if err != nil {
		t.Fatalf("CreatePaymentOrder() error: %v", err)
	}
	if order.Amount != 500 {
		t.Errorf("order amount = %v, want 500", order.Amount)
	}

	t.Run("bad signature rejected", func(t *testing.T) {
		_, err := f.svc.ConfirmPayment(ctx, owner, req.ID, order.OrderID+"|pay_1|deadbeef")
		if !errors.Is(err, model.ErrPayment) {
			t.Fatalf("ConfirmPayment() error = %v, want payment error", err)
		}
		stored, _ := f.store.Get(ctx, req.ID)
		if stored.Status != model.StatusPaymentPending {
			t.Errorf("status = %v, must stay payment_pending after failed verify", stored.Status)
		}
	})

	t.Run("valid signature activates", func(t *testing.T) {
		got, err := f.svc.ConfirmPayment(ctx, owner, req.ID, signRef(order.OrderID, "pay_1"))
		if err != nil {
			t.Fatalf("ConfirmPayment() error: %v", err)
		}
		if got.Status != model.StatusActive {
			t.Errorf("status = %v, want active", got.Status)
		}
		if got.PaymentStatus != model.PaymentPaid {
			t.Errorf("paymentStatus = %v, want paid", got.PaymentStatus)
		}
		if got.PaymentRef != "pay_1" {
			t.Errorf("paymentRef = %v, want pay_1", got.PaymentRef)
		}
		if len(f.events.byType(notify.EventPaymentConfirmed)) != 1 {
			t.Error("assigned provider not told to start")
		}
	})

	t.Run("second confirm conflicts", func(t *testing.T) {
		_, err := f.svc.ConfirmPayment(ctx, owner, req.ID, signRef(order.OrderID, "pay_2"))
		if !errors.Is(err, model.ErrConflict) {
			t.Errorf("ConfirmPayment() error = %v, want conflict", err)
		}
	})
}

func TestMarkCompleted(t *testing.T) {
	f := newFixture(Policy{CashSkipsPayment: true})
	f.addProvider("prov_a", "Plumbing")
	ctx := context.Background()
	owner := Actor{ID: "user_1", Role: RoleUser}
	req := f.createRequest(t, owner.ID)
	offer, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 500})
	if _, err := f.svc.AcceptOffer(ctx, owner, req.ID, offer.OfferID, model.MethodCash); err != nil {
		t.Fatalf("AcceptOffer() error: %v", err)
	}

	t.Run("only assigned provider completes", func(t *testing.T) {
		_, err := f.svc.MarkCompleted(ctx, Actor{ID: "prov_b", Role: RoleProvider}, req.ID)
		if !errors.Is(err, model.ErrNotAuthorized) {
			t.Errorf("MarkCompleted() error = %v, want authorization", err)
		}
	})

	t.Run("assigned provider completes", func(t *testing.T) {
		got, err := f.svc.MarkCompleted(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID)
		if err != nil {
			t.Fatalf("MarkCompleted() error: %v", err)
		}
		if got.Status != model.StatusCompleted {
			t.Errorf("status = %v, want completed", got.Status)
		}
		if got.CompletedAt == nil {
			t.Error("completedAt not stamped")
		}
		p, err := f.dir.Get("prov_a")
		if err != nil {
			t.Fatalf("Get provider error: %v", err)
		}
		if p.CompletedJobs != 1 {
			t.Errorf("completedJobs = %v, want 1", p.CompletedJobs)
		}
	})

	t.Run("completing twice conflicts", func(t *testing.T) {
		_, err := f.svc.MarkCompleted(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID)
		if !errors.Is(err, model.ErrConflict) {
			t.Errorf("MarkCompleted() error = %v, want conflict", err)
		}
	})
}

func TestCancelRequest(t *testing.T) {
	ctx := context.Background()
	owner := Actor{ID: "user_1", Role: RoleUser}

	t.Run("cancel pending with no offers", func(t *testing.T) {
		f := newFixture(Policy{})
		req := f.createRequest(t, owner.ID)

		got, err := f.svc.CancelRequest(ctx, owner, req.ID, "changed my mind")
		if err != nil {
			t.Fatalf("CancelRequest() error: %v", err)
		}
		if got.Status != model.StatusCancelled {
			t.Errorf("status = %v, want cancelled", got.Status)
		}
		if got.AssignedProvider != "" {
			t.Errorf("assignedProvider = %v, want empty", got.AssignedProvider)
		}
		if got.CancelledAt == nil || got.CancelReason != "changed my mind" {
			t.Errorf("cancellation stamp missing: at=%v reason=%q", got.CancelledAt, got.CancelReason)
		}
		if len(got.StatusHistory) != 2 {
			t.Fatalf("history entries = %d, want exactly 2", len(got.StatusHistory))
		}
		if got.StatusHistory[0].Status != model.StatusPending || got.StatusHistory[1].Status != model.StatusCancelled {
			t.Errorf("history = %v, want [pending cancelled]", got.StatusHistory)
		}
	})

	t.Run("active not cancellable by default", func(t *testing.T) {
		f := newFixture(Policy{CashSkipsPayment: true})
		req := f.createRequest(t, owner.ID)
		offer, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 100})
		if _, err := f.svc.AcceptOffer(ctx, owner, req.ID, offer.OfferID, model.MethodCash); err != nil {
			t.Fatalf("AcceptOffer() error: %v", err)
		}

		_, err := f.svc.CancelRequest(ctx, owner, req.ID, "")
		if !errors.Is(err, model.ErrConflict) {
			t.Errorf("CancelRequest() error = %v, want conflict", err)
		}
	})

	t.Run("active cancellable when policy allows", func(t *testing.T) {
		f := newFixture(Policy{CashSkipsPayment: true, AllowCancelActive: true})
		req := f.createRequest(t, owner.ID)
		offer, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 100})
		if _, err := f.svc.AcceptOffer(ctx, owner, req.ID, offer.OfferID, model.MethodCash); err != nil {
			t.Fatalf("AcceptOffer() error: %v", err)
		}

		got, err := f.svc.CancelRequest(ctx, owner, req.ID, "provider unreachable")
		if err != nil {
			t.Fatalf("CancelRequest() error: %v", err)
		}
		if got.Status != model.StatusCancelled {
			t.Errorf("status = %v, want cancelled", got.Status)
		}
		// Assigned provider hears about it too.
		cancelled := f.events.byType(notify.EventRequestCancelled)
		foundProviderChannel := false
		for _, env := range cancelled {
			if env.Channel == notify.ProviderChannel("prov_a") {
				foundProviderChannel = true
			}
		}
		if !foundProviderChannel {
			t.Error("assigned provider not notified of cancellation")
		}
	})

	t.Run("terminal request not cancellable", func(t *testing.T) {
		f := newFixture(Policy{})
		req := f.createRequest(t, owner.ID)
		if _, err := f.svc.CancelRequest(ctx, owner, req.ID, ""); err != nil {
			t.Fatalf("CancelRequest() error: %v", err)
		}
		_, err := f.svc.CancelRequest(ctx, owner, req.ID, "")
		if !errors.Is(err, model.ErrConflict) {
			t.Errorf("repeat CancelRequest() error = %v, want conflict", err)
		}
	})
}

func TestFullLifecycleScenario(t *testing.T) {
	f := newFixture(Policy{})
	f.addProvider("prov_a", "Plumbing")
	ctx := context.Background()
	owner := Actor{ID: "user_1", Role: RoleUser}

	req := f.createRequest(t, owner.ID)
	if req.Status != model.StatusPending || len(req.Offers) != 0 {
		t.Fatalf("created request: status=%v offers=%d", req.Status, len(req.Offers))
	}

	offer, err := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 500})
	if err != nil {
		t.Fatalf("SubmitOffer() error: %v", err)
	}

	accepted, err := f.svc.AcceptOffer(ctx, owner, req.ID, offer.OfferID, model.MethodGateway)
	if err != nil {
		t.Fatalf("AcceptOffer() error: %v", err)
	}
	if accepted.Status != model.StatusPaymentPending || accepted.AssignedProvider != "prov_a" {
		t.Fatalf("after accept: status=%v assigned=%v", accepted.Status, accepted.AssignedProvider)
	}

	if _, err := f.svc.SubmitOffer(ctx, Actor{ID: "prov_b", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 400}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("late offer error = %v, want conflict", err)
	}

	order, err := f.svc.CreatePaymentOrder(ctx, owner, req.ID)
	if err != nil {
		t.Fatalf("CreatePaymentOrder() error: %v", err)
	}
	active, err := f.svc.ConfirmPayment(ctx, owner, req.ID, signRef(order.OrderID, "pay_final"))
	if err != nil {
		t.Fatalf("ConfirmPayment() error: %v", err)
	}
	if active.Status != model.StatusActive {
		t.Fatalf("after payment: status=%v", active.Status)
	}

	done, err := f.svc.MarkCompleted(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID)
	if err != nil {
		t.Fatalf("MarkCompleted() error: %v", err)
	}
	if done.Status != model.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("after complete: status=%v completedAt=%v", done.Status, done.CompletedAt)
	}
	p, _ := f.dir.Get("prov_a")
	if p.CompletedJobs != 1 {
		t.Errorf("completedJobs = %v, want 1", p.CompletedJobs)
	}

	receipt, err := f.svc.Receipt(ctx, owner, req.ID)
	if err != nil {
		t.Fatalf("Receipt() error: %v", err)
	}
	if receipt.AgreedAmount != "500.00" || receipt.PlatformFee != "50.00" || receipt.ProviderPayout != "450.00" {
		t.Errorf("receipt = %+v, want 500.00/50.00/450.00", receipt)
	}
}

func TestConcurrentOffers(t *testing.T) {
	f := newFixture(Policy{})
	ctx := context.Background()
	req := f.createRequest(t, "user_1")

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := Actor{ID: "prov_" + string(rune('a'+i)), Role: RoleProvider}
			_, errs[i] = f.svc.SubmitOffer(ctx, actor, req.ID, SubmitOfferInput{Price: float64(100 + i)})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("SubmitOffer(%d) error: %v", i, err)
		}
	}
	stored, _ := f.store.Get(ctx, req.ID)
	if len(stored.Offers) != n {
		t.Errorf("offers = %d, want %d", len(stored.Offers), n)
	}
}

func TestConcurrentAccepts(t *testing.T) {
	f := newFixture(Policy{})
	ctx := context.Background()
	owner := Actor{ID: "user_1", Role: RoleUser}
	req := f.createRequest(t, owner.ID)
	offerA, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 500})
	offerB, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_b", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 450})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, offerID := range []string{offerA.OfferID, offerB.OfferID} {
		wg.Add(1)
		go func(i int, offerID string) {
			defer wg.Done()
			_, results[i] = f.svc.AcceptOffer(ctx, owner, req.ID, offerID, model.MethodGateway)
		}(i, offerID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, model.ErrConflict) {
			t.Errorf("AcceptOffer() error = %v, want nil or conflict", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("accepts succeeded = %d, want exactly 1", succeeded)
	}

	stored, _ := f.store.Get(ctx, req.ID)
	accepted := 0
	for _, o := range stored.Offers {
		if o.Status == model.OfferAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("accepted offers = %d, want exactly 1", accepted)
	}
	if stored.AssignedProvider == "" {
		t.Error("assignedProvider empty after successful accept")
	}
}

func TestAssignedProviderStatusInvariant(t *testing.T) {
	f := newFixture(Policy{})
	ctx := context.Background()
	owner := Actor{ID: "user_1", Role: RoleUser}
	req := f.createRequest(t, owner.ID)

	check := func(label string) {
		t.Helper()
		stored, err := f.store.Get(ctx, req.ID)
		if err != nil {
			t.Fatalf("%s: Get() error: %v", label, err)
		}
		assigned := stored.AssignedProvider != ""
		inAssignedPhase := stored.Status == model.StatusPaymentPending ||
			stored.Status == model.StatusActive ||
			stored.Status == model.StatusCompleted
		if assigned != inAssignedPhase {
			t.Errorf("%s: assigned=%v but status=%v", label, assigned, stored.Status)
		}
	}

	check("pending")
	offer, _ := f.svc.SubmitOffer(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID, SubmitOfferInput{Price: 500})
	check("after offer")
	if _, err := f.svc.AcceptOffer(ctx, owner, req.ID, offer.OfferID, model.MethodGateway); err != nil {
		t.Fatalf("AcceptOffer() error: %v", err)
	}
	check("after accept")
	order, _ := f.svc.CreatePaymentOrder(ctx, owner, req.ID)
	if _, err := f.svc.ConfirmPayment(ctx, owner, req.ID, signRef(order.OrderID, "pay_1")); err != nil {
		t.Fatalf("ConfirmPayment() error: %v", err)
	}
	check("after payment")
	if _, err := f.svc.MarkCompleted(ctx, Actor{ID: "prov_a", Role: RoleProvider}, req.ID); err != nil {
		t.Fatalf("MarkCompleted() error: %v", err)
	}
	check("after completion")
}

func TestListAndSearch(t *testing.T) {
	f := newFixture(Policy{})
	ctx := context.Background()
	owner := Actor{ID: "user_1", Role: RoleUser}
	req := f.createRequest(t, owner.ID)

	t.Run("list my requests", func(t *testing.T) {
		got, err := f.svc.ListMyRequests(ctx, owner, 0)
		if err != nil {
			t.Fatalf("ListMyRequests() error: %v", err)
		}
		if len(got) != 1 || got[0].ID != req.ID {
			t.Errorf("ListMyRequests() = %v, want the created request", got)
		}
	})

	t.Run("open feed excludes rejected provider", func(t *testing.T) {
		provider := Actor{ID: "prov_x", Role: RoleProvider}
		feed, err := f.svc.ListOpenRequests(ctx, provider, "Plumbing", 0)
		if err != nil {
			t.Fatalf("ListOpenRequests() error: %v", err)
		}
		if len(feed) != 1 {
			t.Fatalf("feed = %d entries, want 1", len(feed))
		}
		if err := f.svc.RejectRequest(ctx, provider, req.ID); err != nil {
			t.Fatalf("RejectRequest() error: %v", err)
		}
		feed, err = f.svc.ListOpenRequests(ctx, provider, "Plumbing", 0)
		if err != nil {
			t.Fatalf("ListOpenRequests() error: %v", err)
		}
		if len(feed) != 0 {
			t.Errorf("feed after reject = %d entries, want 0", len(feed))
		}
	})

	t.Run("search matches title", func(t *testing.T) {
		got, err := f.svc.SearchRequests(ctx, "leak", 0)
		if err != nil {
			t.Fatalf("SearchRequests() error: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("search = %d results, want 1", len(got))
		}
	})

	t.Run("empty query rejected", func(t *testing.T) {
		_, err := f.svc.SearchRequests(ctx, "  ", 0)
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("SearchRequests() error = %v, want validation", err)
		}
	})
}
