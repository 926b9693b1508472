package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/artpar/metergate/domain/retention"
	"github.com/artpar/metergate/ports"
)

// LogStore implements ports.LogStore over MongoDB collections. Event
// documents keep an auto ObjectID _id, so sorting by _id yields
// insertion order; the application-level id lives in the "id" field.
type LogStore struct {
	db *DB
}

// NewLogStore creates a log store over the wrapped database.
func NewLogStore(db *DB) *LogStore {
	return &LogStore{db: db}
}

type eventDoc struct {
	OID        bson.ObjectID `bson:"_id,omitempty"`
	ID         string        `bson:"id"`
	Key        string        `bson:"key"`
	Count      int64         `bson:"count"`
	Aggregated bool          `bson:"aggregated"`
	Timestamp  time.Time     `bson:"timestamp"`
}

type seriesDoc struct {
	ID      string            `bson:"_id"`
	Samples []seriesSampleDoc `bson:"samples"`
}

type seriesSampleDoc struct {
	Date          time.Time `bson:"date"`
	Position      float64   `bson:"position"`
	Clicks        int64     `bson:"clicks"`
	Impressions   int64     `bson:"impressions"`
	CTR           float64   `bson:"ctr"`
	Aggregated    bool      `bson:"aggregated,omitempty"`
	OriginalCount int64     `bson:"original_count,omitempty"`
}

// AddEvent appends an event record to a collection.
func (s *LogStore) AddEvent(ctx context.Context, collection string, r retention.EventRecord) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, eventDoc{
		ID:         r.ID,
		Key:        r.Key,
		Count:      r.Occurrences(),
		Aggregated: r.Aggregated,
		Timestamp:  r.Timestamp.UTC(),
	})
	return err
}

// PutSeries creates or replaces an entity's sample series.
func (s *LogStore) PutSeries(ctx context.Context, collection, entityID string, samples []retention.Sample) error {
	doc := seriesDoc{ID: entityID, Samples: toSampleDocs(samples)}
	opts := options.Replace().SetUpsert(true)
	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": entityID}, doc, opts)
	return err
}

// DeleteOlderThan removes documents strictly older than cutoff.
func (s *LogStore) DeleteOlderThan(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	res, err := s.db.Collection(collection).DeleteMany(ctx, bson.M{
		"timestamp": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// EventsOlderThan returns records older than cutoff in insertion order.
func (s *LogStore) EventsOlderThan(ctx context.Context, collection string, cutoff time.Time) ([]retention.EventRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{
		"timestamp": bson.M{"$lt": cutoff.UTC()},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []eventDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	records := make([]retention.EventRecord, len(docs))
	for i, d := range docs {
		records[i] = retention.EventRecord{
			ID:         d.ID,
			Key:        d.Key,
			Count:      d.Count,
			Aggregated: d.Aggregated,
			Timestamp:  d.Timestamp,
		}
	}
	return records, nil
}

// RewriteCanonical updates a surviving record in place.
func (s *LogStore) RewriteCanonical(ctx context.Context, collection string, rw retention.CanonicalRewrite) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"id": rw.ID}, bson.M{"$set": bson.M{
		"count":      rw.Count,
		"timestamp":  rw.LastOccurrence.UTC(),
		"aggregated": true,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// DeleteByID removes records by ID.
func (s *LogStore) DeleteByID(ctx context.Context, collection string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.Collection(collection).DeleteMany(ctx, bson.M{
		"id": bson.M{"$in": ids},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// SeriesIDs lists entity IDs holding a sample series.
func (s *LogStore) SeriesIDs(ctx context.Context, collection string) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{
		"samples": bson.M{"$exists": true},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// Series returns an entity's stored sample list.
func (s *LogStore) Series(ctx context.Context, collection, entityID string) ([]retention.Sample, error) {
	var doc seriesDoc
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": entityID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	samples := make([]retention.Sample, len(doc.Samples))
	for i, d := range doc.Samples {
		samples[i] = retention.Sample{
			Date:          d.Date,
			Position:      d.Position,
			Clicks:        d.Clicks,
			Impressions:   d.Impressions,
			CTR:           d.CTR,
			Aggregated:    d.Aggregated,
			OriginalCount: d.OriginalCount,
		}
	}
	return samples, nil
}

// ReplaceSeries overwrites an entity's stored sample list.
func (s *LogStore) ReplaceSeries(ctx context.Context, collection, entityID string, samples []retention.Sample) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": entityID}, bson.M{
		"$set": bson.M{"samples": toSampleDocs(samples)},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func toSampleDocs(samples []retention.Sample) []seriesSampleDoc {
	docs := make([]seriesSampleDoc, len(samples))
	for i, s := range samples {
		docs[i] = seriesSampleDoc{
			Date:          s.Date.UTC(),
			Position:      s.Position,
			Clicks:        s.Clicks,
			Impressions:   s.Impressions,
			CTR:           s.CTR,
			Aggregated:    s.Aggregated,
			OriginalCount: s.OriginalCount,
		}
	}
	return docs
}

// Ensure interface compliance.
var _ ports.LogStore = (*LogStore)(nil)
