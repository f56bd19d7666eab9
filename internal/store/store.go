package store

import (
	"context"
	"errors"

	"github.com/harinnig/heymateBackend/internal/model"
)

// Store errors. The lifecycle layer maps these onto its own taxonomy.
var (
	ErrNotFound       = errors.New("request not found")
	ErrStale          = errors.New("request changed since read")
	ErrNotPending     = errors.New("request not pending")
	ErrDuplicateOffer = errors.New("duplicate offer from provider")
	ErrAlreadyExists  = errors.New("request already exists")
)

// RequestStore persists Request records and exposes the conditional
// primitives the state machine relies on. Every write is atomic at
// single-request granularity; guarded writes commit only when the
// record's observed prior state matches.
type RequestStore interface {
	// Insert stores a new request. The request's Version must be 1.
	Insert(ctx context.Context, req *model.Request) error

	// Get returns a snapshot of the request.
	Get(ctx context.Context, requestID string) (*model.Request, error)

	// ReplaceIfStatus replaces the whole record, guarded on the stored
	// status still being expect AND the stored version still matching
	// req.Version, so a write that raced in between (even one that
	// left the status unchanged, like an offer append) is never
	// overwritten. On success the stored version is req.Version+1 and
	// req is updated to match. Returns ErrStale when either guard
	// fails.
	ReplaceIfStatus(ctx context.Context, req *model.Request, expect model.RequestStatus) error

	// AppendOffer atomically appends an offer, guarded on the request
	// being pending and the provider not having offered yet. Returns
	// ErrNotPending or ErrDuplicateOffer when a guard fails.
	AppendOffer(ctx context.Context, requestID string, offer model.Offer) error

	// AddRejected adds a provider to the rejectedBy set. Idempotent.
	AddRejected(ctx context.Context, requestID, providerID string) error

	// AddNotified unions provider ids into the notifiedProviders set.
	AddNotified(ctx context.Context, requestID string, providerIDs []string) error

	// ListByRequester returns the requester's requests, newest first.
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]model.Request, error)

	// ListOpenForProvider returns pending requests in the category that
	// the provider has not rejected, newest first.
	ListOpenForProvider(ctx context.Context, category, providerID string, limit int) ([]model.Request, error)

	// Search returns pending requests whose title, category or
	// description contains q (case-insensitive), capped to limit.
	Search(ctx context.Context, q string, limit int) ([]model.Request, error)

	Close() error
}
