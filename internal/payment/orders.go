package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harinnig/heymateBackend/internal/model"
)

var ErrOrderNotFound = errors.New("payment order not found")

// Order is a pending payment order awaiting confirmation.
type Order struct {
	OrderID   string              `json:"order_id" bson:"order_id"`
	RequestID string              `json:"request_id" bson:"request_id"`
	Amount    float64             `json:"amount" bson:"amount"`
	Method    model.PaymentMethod `json:"method" bson:"method"`
	CreatedAt time.Time           `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time           `json:"expires_at" bson:"expires_at"`
}

// OrderStore keeps pending orders keyed by request id. Entries expire;
// expiry is checked on every read, never trusted to a background sweep
// alone.
type OrderStore interface {
	Put(ctx context.Context, order Order) error
	GetActive(ctx context.Context, requestID string) (Order, error)
	Delete(ctx context.Context, requestID string) error
}

// MemoryOrderStore holds pending orders in memory with expiry checked
// on read and stale entries dropped on write.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]Order)}
}

func (s *MemoryOrderStore) Put(ctx context.Context, order Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for id, o := range s.orders {
		if o.ExpiresAt.Before(now) {
			delete(s.orders, id)
		}
	}
	s.orders[order.RequestID] = order
	return nil
}

func (s *MemoryOrderStore) GetActive(ctx context.Context, requestID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[requestID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if order.ExpiresAt.Before(time.Now().UTC()) {
		delete(s.orders, requestID)
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *MemoryOrderStore) Delete(ctx context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, requestID)
	return nil
}

// MongoOrderStore persists pending orders with a server-side TTL index;
// reads still check expiry because the TTL monitor only runs
// periodically.
type MongoOrderStore struct {
	coll *mongo.Collection
}

func NewMongoOrderStore(client *mongo.Client, dbName, collName string) *MongoOrderStore {
	return &MongoOrderStore{coll: client.Database(dbName).Collection(collName)}
}

func (s *MongoOrderStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	_, err := s.coll.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *MongoOrderStore) Put(ctx context.Context, order Order) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"request_id": order.RequestID},
		order,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *MongoOrderStore) GetActive(ctx context.Context, requestID string) (Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var order Order
	err := s.coll.FindOne(ctx, bson.M{
		"request_id": requestID,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&order)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return order, nil
}

func (s *MongoOrderStore) Delete(ctx context.Context, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.coll.DeleteOne(ctx, bson.M{"request_id": requestID})
	return err
}
