package store

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harinnig/heymateBackend/internal/model"
)

const mongoOpTimeout = 5 * time.Second

// MongoStore is a RequestStore backed by a single MongoDB collection.
// One document per request; every guarded write is a filtered
// single-document update, so atomicity comes from the server.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	return &MongoStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "requester_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "category", Value: 1}, {Key: "status", Value: 1}},
		},
	}
	_, err := s.coll.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoStore) Insert(ctx context.Context, req *model.Request) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := s.coll.InsertOne(ctx, req)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *MongoStore) Get(ctx context.Context, requestID string) (*model.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var req model.Request
	err := s.coll.FindOne(ctx, bson.M{"request_id": requestID}).Decode(&req)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (s *MongoStore) ReplaceIfStatus(ctx context.Context, req *model.Request, expect model.RequestStatus) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	next := *req
	next.Version = req.Version + 1

	res, err := s.coll.ReplaceOne(ctx,
		bson.M{"request_id": req.ID, "status": expect, "version": req.Version},
		&next,
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Distinguish a lost race from a missing record.
		if exists, err := s.exists(ctx, req.ID); err == nil && !exists {
			return ErrNotFound
		}
		return ErrStale
	}
	req.Version = next.Version
	return nil
}

func (s *MongoStore) AppendOffer(ctx context.Context, requestID string, offer model.Offer) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	// Both guards live in the filter: the push commits only while the
	// request is still pending and the provider has not offered.
	res, err := s.coll.UpdateOne(ctx,
		bson.M{
			"request_id":         requestID,
			"status":             model.StatusPending,
			"offers.provider_id": bson.M{"$ne": offer.ProviderID},
		},
		bson.M{
			"$push": bson.M{"offers": offer},
			"$inc":  bson.M{"version": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.classifyOfferMiss(ctx, requestID, offer.ProviderID)
	}
	return nil
}

// classifyOfferMiss re-reads the record to report which guard failed.
// Diagnostic only; the write itself already settled atomically.
func (s *MongoStore) classifyOfferMiss(ctx context.Context, requestID, providerID string) error {
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

func (s *MongoStore) AddRejected(ctx context.Context, requestID, providerID string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"request_id": requestID},
		bson.M{"$addToSet": bson.M{"rejected_by": providerID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) AddNotified(ctx context.Context, requestID string, providerIDs []string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"request_id": requestID},
		bson.M{"$addToSet": bson.M{"notified_providers": bson.M{"$each": providerIDs}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListByRequester(ctx context.Context, requesterID string, limit int) ([]model.Request, error) {
	return s.list(ctx, bson.M{"requester_id": requesterID}, limit)
}

func (s *MongoStore) ListOpenForProvider(ctx context.Context, category, providerID string, limit int) ([]model.Request, error) {
	filter := bson.M{
		"status":      model.StatusPending,
		"rejected_by": bson.M{"$ne": providerID},
	}
	if category != "" {
		filter["category"] = category
	}
	return s.list(ctx, filter, limit)
}

func (s *MongoStore) Search(ctx context.Context, q string, limit int) ([]model.Request, error) {
	filter := bson.M{"status": model.StatusPending}
	if q != "" {
		rx := primitive.Regex{Pattern: regexp.QuoteMeta(q), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"title": rx},
			bson.M{"category": rx},
			bson.M{"description": rx},
		}
	}
	return s.list(ctx, filter, limit)
}

func (s *MongoStore) list(ctx context.Context, filter bson.M, limit int) ([]model.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []model.Request
	for cur.Next(ctx) {
		var req model.Request
		if err := cur.Decode(&req); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, cur.Err()
}

func (s *MongoStore) exists(ctx context.Context, requestID string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"request_id": requestID}, options.Count().SetLimit(1))
	return n > 0, err
}

func (s *MongoStore) Close() error {
	// Client is shared and closed by the caller.
	return nil
}
