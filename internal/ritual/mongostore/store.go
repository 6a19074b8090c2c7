// Package mongostore is an optional MongoDB-backed alternative to
// ritual.RunStore's JSON-file persistence, for deployments that already run
// a MongoDB cluster and want run records durable there instead of on local
// disk.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/afewell-hh/demon/internal/ritual"
)

// Store persists ritual.RunRecords to a MongoDB collection, keyed by runId.
type Store struct {
	collection *mongo.Collection
}

// New constructs a Store using an already-connected collection.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// Connect dials uri and returns a Store backed by database.collection.
func Connect(ctx context.Context, uri, database, collection string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("ritual/mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ritual/mongostore: ping: %w", err)
	}
	return New(client.Database(database).Collection(collection)), nil
}

// runDocument is the BSON document shape for a run record.
type runDocument struct {
	RunID          string                 `bson:"_id"`
	App            string                 `bson:"app"`
	Ritual         string                 `bson:"ritual"`
	Version        string                 `bson:"version"`
	Status         string                 `bson:"status"`
	CreatedAt      time.Time              `bson:"createdAt"`
	UpdatedAt      time.Time              `bson:"updatedAt"`
	CompletedAt    *time.Time             `bson:"completedAt,omitempty"`
	Parameters     map[string]interface{} `bson:"parameters,omitempty"`
	ResultEnvelope map[string]interface{} `bson:"resultEnvelope,omitempty"`
	Error          string                 `bson:"error,omitempty"`
	IdempotencyKey string                 `bson:"idempotencyKey,omitempty"`
}

func toDocument(rec ritual.RunRecord) runDocument {
	return runDocument{
		RunID:          rec.RunID,
		App:            rec.App,
		Ritual:         rec.Ritual,
		Version:        rec.Version,
		Status:         string(rec.Status),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		CompletedAt:    rec.CompletedAt,
		Parameters:     rec.Parameters,
		ResultEnvelope: rec.ResultEnvelope,
		Error:          rec.Error,
		IdempotencyKey: rec.IdempotencyKey,
	}
}

func fromDocument(doc runDocument) ritual.RunRecord {
	return ritual.RunRecord{
		RunID:          doc.RunID,
		App:            doc.App,
		Ritual:         doc.Ritual,
		Version:        doc.Version,
		Status:         ritual.RunStatus(doc.Status),
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		CompletedAt:    doc.CompletedAt,
		Parameters:     doc.Parameters,
		ResultEnvelope: doc.ResultEnvelope,
		Error:          doc.Error,
		IdempotencyKey: doc.IdempotencyKey,
	}
}

// Insert stores a new run record, upserting by runId so a retried insert
// (e.g. after a crash between insert and the caller observing success) is
// idempotent rather than erroring on a duplicate key.
func (s *Store) Insert(ctx context.Context, rec ritual.RunRecord) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": rec.RunID}, toDocument(rec), opts)
	if err != nil {
		return fmt.Errorf("ritual/mongostore: insert run %s: %w", rec.RunID, err)
	}
	return nil
}

// Update loads runID, applies mutate, and writes the result back.
func (s *Store) Update(ctx context.Context, runID string, mutate func(ritual.RunRecord) ritual.RunRecord) error {
	rec, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	updated := mutate(rec)
	updated.RunID = runID
	return s.Insert(ctx, updated)
}

// Get returns the run record for runID.
func (s *Store) Get(ctx context.Context, runID string) (ritual.RunRecord, error) {
	var doc runDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ritual.RunRecord{}, ritual.ErrRunNotFound
		}
		return ritual.RunRecord{}, fmt.Errorf("ritual/mongostore: get run %s: %w", runID, err)
	}
	return fromDocument(doc), nil
}

// ListByAppRitual returns app+ritual's runs, optionally filtered by status,
// newest-created first, truncated to limit (0 means unbounded).
func (s *Store) ListByAppRitual(ctx context.Context, app, ritualName string, status ritual.RunStatus, limit int) ([]ritual.RunRecord, error) {
	filter := bson.M{"app": app, "ritual": ritualName}
	if status != "" {
		filter["status"] = string(status)
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("ritual/mongostore: list runs for %s/%s: %w", app, ritualName, err)
	}
	defer cursor.Close(ctx)

	var records []ritual.RunRecord
	for cursor.Next(ctx) {
		var doc runDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("ritual/mongostore: decode run document: %w", err)
		}
		records = append(records, fromDocument(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("ritual/mongostore: cursor error: %w", err)
	}
	return records, nil
}
