package store

import (
	"SignalFlow/backend/go/internal/models"
	"context"
	"errors"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a signal does not exist.
var ErrNotFound = errors.New("signal not found")

// SignalStore defines the interface for signal persistence.
type SignalStore interface {
	Save(ctx context.Context, signal *models.SignalRecord) error
	GetByID(ctx context.Context, recordID string) (*models.SignalRecord, error)
	List(ctx context.Context, limit int) ([]*models.SignalRecord, error)
}

// MongoSignalStore is an implementation of SignalStore using MongoDB.
// Documents are keyed by record id, so replaying an event overwrites the same document.
type MongoSignalStore struct {
	collection *mongo.Collection
}

// NewMongoSignalStore creates a new MongoSignalStore.
func NewMongoSignalStore(collection *mongo.Collection) *MongoSignalStore {
	return &MongoSignalStore{collection: collection}
}

// Save upserts a signal by its record id.
func (s *MongoSignalStore) Save(ctx context.Context, signal *models.SignalRecord) error {
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": signal.RecordID}, signal, options.Replace().SetUpsert(true))
	return err
}

// GetByID retrieves a signal by its record id.
func (s *MongoSignalStore) GetByID(ctx context.Context, recordID string) (*models.SignalRecord, error) {
	var signal models.SignalRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": recordID}).Decode(&signal)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &signal, nil
}

// List returns the most recently generated signals.
func (s *MongoSignalStore) List(ctx context.Context, limit int) ([]*models.SignalRecord, error) {
	opts := options.Find()
	opts.SetSort(bson.D{{Key: "generated_at", Value: -1}})
	opts.SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	signals := []*models.SignalRecord{}
	if err = cursor.All(ctx, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// MemorySignalStore keeps signals in process memory. It is used when MongoDB is not configured.
type MemorySignalStore struct {
	mu      sync.RWMutex
	signals map[string]models.SignalRecord
}

// NewMemorySignalStore creates an empty MemorySignalStore.
func NewMemorySignalStore() *MemorySignalStore {
	return &MemorySignalStore{signals: make(map[string]models.SignalRecord)}
}

func (s *MemorySignalStore) Save(_ context.Context, signal *models.SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[signal.RecordID] = *signal
	return nil
}

func (s *MemorySignalStore) GetByID(_ context.Context, recordID string) (*models.SignalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	signal, ok := s.signals[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	return &signal, nil
}

func (s *MemorySignalStore) List(_ context.Context, limit int) ([]*models.SignalRecord, error) {
	s.mu.RLock()
	signals := make([]*models.SignalRecord, 0, len(s.signals))
	for _, sig := range s.signals {
		sig := sig
		signals = append(signals, &sig)
	}
	s.mu.RUnlock()

	sort.Slice(signals, func(i, j int) bool {
		return signals[i].GeneratedAt.After(signals[j].GeneratedAt)
	})
	if limit > 0 && len(signals) > limit {
		signals = signals[:limit]
	}
	return signals, nil
}
