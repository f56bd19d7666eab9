package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harinnig/heymateBackend/internal/model"
)

// PostgresStore is a RequestStore on a single requests table. The full
// record lives in a JSONB document; status, version and the query keys
// are denormalized into columns so guarded writes are plain conditional
// UPDATEs with a rows-affected check.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, req *model.Request) error {
	doc, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	query := `INSERT INTO requests (request_id, requester_id, category, status, created_at, version, doc)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (request_id) DO NOTHING`
	tag, err := s.db.Exec(ctx, query,
		req.ID, req.RequesterID, req.Category, string(req.Status), req.CreatedAt, req.Version, doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, requestID string) (*model.Request, error) {
	query := `SELECT doc, version FROM requests WHERE request_id = $1`

	var doc []byte
	var version int64
	err := s.db.QueryRow(ctx, query, requestID).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRequest(doc, version)
}

func (s *PostgresStore) ReplaceIfStatus(ctx context.Context, req *model.Request, expect model.RequestStatus) error {
	doc, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	query := `UPDATE requests
	          SET doc = $1, status = $2, version = version + 1
	          WHERE request_id = $3 AND status = $4 AND version = $5`
	tag, err := s.db.Exec(ctx, query, doc, string(req.Status), req.ID, string(expect), req.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if exists, err := s.exists(ctx, req.ID); err == nil && !exists {
			return ErrNotFound
		}
		return ErrStale
	}
	req.Version++
	return nil
}

func (s *PostgresStore) AppendOffer(ctx context.Context, requestID string, offer model.Offer) error {
	offerDoc, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}
	dupGuard, err := json.Marshal([]map[string]string{{"provider_id": offer.ProviderID}})
	if err != nil {
		return fmt.Errorf("marshal guard: %w", err)
	}

	// Both guards in the WHERE clause; the append commits only while
	// the request is pending and the provider has not offered yet.
	query := `UPDATE requests
	          SET doc = jsonb_set(doc, '{offers}', doc->'offers' || $2::jsonb),
	              version = version + 1
	          WHERE request_id = $1
	            AND status = $3
	            AND NOT doc->'offers' @> $4::jsonb`
	tag, err := s.db.Exec(ctx, query, requestID, offerDoc, string(model.StatusPending), dupGuard)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyOfferMiss(ctx, requestID, offer.ProviderID)
	}
	return nil
}

func (s *PostgresStore) classifyOfferMiss(ctx context.Context, requestID, providerID string) error {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != model.StatusPending {
		return ErrNotPending
	}
	if req.HasOfferFrom(providerID) {
		return ErrDuplicateOffer
	}
	return ErrStale
}

func (s *PostgresStore) AddRejected(ctx context.Context, requestID, providerID string) error {
	return s.addToSet(ctx, requestID, "rejected_by", providerID)
}

func (s *PostgresStore) AddNotified(ctx context.Context, requestID string, providerIDs []string) error {
	for _, id := range providerIDs {
		if err := s.addToSet(ctx, requestID, "notified_providers", id); err != nil {
			return err
		}
	}
	return nil
}

// addToSet appends value to a JSONB string-array field unless already
// present. Idempotent by construction.
func (s *PostgresStore) addToSet(ctx context.Context, requestID, field, value string) error {
	member, err := json.Marshal([]string{value})
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE requests
	          SET doc = jsonb_set(doc, '{%s}', doc->'%s' || $2::jsonb),
	              version = version + 1
	          WHERE request_id = $1
	            AND NOT doc->'%s' @> $2::jsonb`, field, field, field)
	tag, err := s.db.Exec(ctx, query, requestID, member)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if exists, err := s.exists(ctx, requestID); err == nil && !exists {
			return ErrNotFound
		}
		// Already a member.
	}
	return nil
}

func (s *PostgresStore) ListByRequester(ctx context.Context, requesterID string, limit int) ([]model.Request, error) {
	query := `SELECT doc, version FROM requests
	          WHERE requester_id = $1
	          ORDER BY created_at DESC LIMIT $2`
	return s.list(ctx, query, requesterID, listLimit(limit))
}

func (s *PostgresStore) ListOpenForProvider(ctx context.Context, category, providerID string, limit int) ([]model.Request, error) {
	guard, err := json.Marshal([]string{providerID})
	if err != nil {
		return nil, err
	}
	query := `SELECT doc, version FROM requests
	          WHERE ($1 = '' OR category = $1) AND status = $2
	            AND NOT doc->'rejected_by' @> $3::jsonb
	          ORDER BY created_at DESC LIMIT $4`
	return s.list(ctx, query, category, string(model.StatusPending), guard, listLimit(limit))
}

func (s *PostgresStore) Search(ctx context.Context, q string, limit int) ([]model.Request, error) {
	pattern := "%" + escapeLike(q) + "%"
	query := `SELECT doc, version FROM requests
	          WHERE status = $1
	            AND (doc->>'title' ILIKE $2 OR category ILIKE $2 OR doc->>'description' ILIKE $2)
	          ORDER BY created_at DESC LIMIT $3`
	return s.list(ctx, query, string(model.StatusPending), pattern, listLimit(limit))
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]model.Request, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Request
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		req, err := decodeRequest(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) exists(ctx context.Context, requestID string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM requests WHERE request_id = $1`, requestID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// decodeRequest unmarshals the stored document; the version column is
// authoritative over whatever the document carries.
func decodeRequest(doc []byte, version int64) (*model.Request, error) {
	var req model.Request
	if err := json.Unmarshal(doc, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	req.Version = version
	return &req, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func escapeLike(q string) string {
	out := make([]byte, 0, len(q))
	for i := 0; i < len(q); i++ {
		switch q[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, q[i])
	}
	return string(out)
}
