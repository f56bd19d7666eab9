package model

import "time"

// RequestStatus represents the current phase of a service request.
type RequestStatus string

const (
	StatusPending        RequestStatus = "pending"
	StatusPaymentPending RequestStatus = "payment_pending"
	StatusActive         RequestStatus = "active"
	StatusCompleted      RequestStatus = "completed"
	StatusCancelled      RequestStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentMethod is the declared payment method on an accepted offer.
type PaymentMethod string

const (
	MethodGateway PaymentMethod = "gateway"
	MethodCash    PaymentMethod = "cash"
)

// Categories is the closed set of service categories.
var Categories = []string{
	"Plumbing", "Electrical", "Cleaning", "Painting",
	"Carpentry", "AC Repair", "Car Wash", "Moving",
	"Salon", "Pet Care", "Tutoring", "Food Delivery", "Other",
}

// ValidCategory reports whether c is in the closed category set.
func ValidCategory(c string) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// GeoPoint is a WGS84 coordinate with a free-text address.
type GeoPoint struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
	Address   string  `json:"address,omitempty" bson:"address,omitempty"`
}

// Offer is a priced proposal from one provider against one request. It is
// owned by its request and immutable after the request leaves the open
// phase, except for the status flip performed by acceptance.
type Offer struct {
	OfferID    string      `json:"offer_id" bson:"offer_id"`
	ProviderID string      `json:"provider_id" bson:"provider_id"`
	Price      float64     `json:"price" bson:"price"`
	Message    string      `json:"message,omitempty" bson:"message,omitempty"`
	ETA        string      `json:"eta,omitempty" bson:"eta,omitempty"`
	Status     OfferStatus `json:"status" bson:"status"`
	CreatedAt  time.Time   `json:"created_at" bson:"created_at"`
}

// StatusEntry is one line of the append-only status history.
type StatusEntry struct {
	Status    RequestStatus `json:"status" bson:"status"`
	Message   string        `json:"message" bson:"message"`
	Timestamp time.Time     `json:"timestamp" bson:"timestamp"`
}

// Request is a unit of work posted by a requester. Every Request is
// constructed with non-nil collections; mutation code never patches them
// defensively.
type Request struct {
	ID           string   `json:"request_id" bson:"request_id"`
	RequesterID  string   `json:"requester_id" bson:"requester_id"`
	Title        string   `json:"title" bson:"title"`
	Description  string   `json:"description" bson:"description"`
	Category     string   `json:"category" bson:"category"`
	Budget       *float64 `json:"budget,omitempty" bson:"budget,omitempty"`
	Location     GeoPoint `json:"location" bson:"location"`
	RadiusMeters float64  `json:"radius_meters" bson:"radius_meters"`

	Status RequestStatus `json:"status" bson:"status"`
	Offers []Offer       `json:"offers" bson:"offers"`

	AssignedProvider string  `json:"assigned_provider,omitempty" bson:"assigned_provider,omitempty"`
	AcceptedOfferID  string  `json:"accepted_offer_id,omitempty" bson:"accepted_offer_id,omitempty"`
	FinalAmount      float64 `json:"final_amount,omitempty" bson:"final_amount,omitempty"`

	PaymentStatus PaymentStatus `json:"payment_status" bson:"payment_status"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty" bson:"payment_method,omitempty"`
	PaymentRef    string        `json:"payment_ref,omitempty" bson:"payment_ref,omitempty"`

	RejectedBy        []string `json:"rejected_by" bson:"rejected_by"`
	NotifiedProviders []string `json:"notified_providers" bson:"notified_providers"`

	StatusHistory []StatusEntry `json:"status_history" bson:"status_history"`

	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`

	// Version counts committed writes; conditional updates bump it.
	Version int64 `json:"version" bson:"version"`
}

// OfferByID returns the offer with the given id, or nil.
func (r *Request) OfferByID(offerID string) *Offer {
	for i := range r.Offers {
		if r.Offers[i].OfferID == offerID {
			return &r.Offers[i]
		}
	}
	return nil
}

// HasOfferFrom reports whether the provider already has an offer on r.
func (r *Request) HasOfferFrom(providerID string) bool {
	for i := range r.Offers {
		if r.Offers[i].ProviderID == providerID {
			return true
		}
	}
	return false
}

// HasRejected reports whether the provider previously declined r.
func (r *Request) HasRejected(providerID string) bool {
	for _, id := range r.RejectedBy {
		if id == providerID {
			return true
		}
	}
	return false
}

// PushStatus appends one history entry. History is append-only; nothing
// in the codebase rewrites or reorders it.
func (r *Request) PushStatus(status RequestStatus, message string, at time.Time) {
	r.StatusHistory = append(r.StatusHistory, StatusEntry{
		Status:    status,
		Message:   message,
		Timestamp: at,
	})
}
