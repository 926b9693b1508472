package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/artpar/metergate/domain/usage"
	"github.com/artpar/metergate/ports"
)

// UsageStore implements ports.UsageStore on a MongoDB collection.
type UsageStore struct {
	coll *mongo.Collection
}

// NewUsageStore creates a usage store over the named collection.
func NewUsageStore(db *DB, collection string) *UsageStore {
	return &UsageStore{coll: db.Collection(collection)}
}

type usageDoc struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	IP           string    `bson:"ip,omitempty"`
	Action       string    `bson:"action"`
	Provider     string    `bson:"provider,omitempty"`
	TokensUsed   int64     `bson:"tokens_used"`
	Cost         float64   `bson:"cost"`
	Success      bool      `bson:"success"`
	ErrorMessage string    `bson:"error_message,omitempty"`
	Status       string    `bson:"status"`
	Timestamp    time.Time `bson:"timestamp"`
}

func toUsageDoc(e usage.Entry) usageDoc {
	return usageDoc{
		ID:           e.ID,
		UserID:       e.UserID,
		IP:           e.IP,
		Action:       e.Action,
		Provider:     e.Provider,
		TokensUsed:   e.TokensUsed,
		Cost:         e.Cost,
		Success:      e.Success,
		ErrorMessage: e.ErrorMessage,
		Status:       string(e.Status),
		Timestamp:    e.Timestamp.UTC(),
	}
}

func (d usageDoc) entry() usage.Entry {
	return usage.Entry{
		ID:           d.ID,
		UserID:       d.UserID,
		IP:           d.IP,
		Action:       d.Action,
		Provider:     d.Provider,
		TokensUsed:   d.TokensUsed,
		Cost:         d.Cost,
		Success:      d.Success,
		ErrorMessage: d.ErrorMessage,
		Status:       usage.Status(d.Status),
		Timestamp:    d.Timestamp,
	}
}

// Insert appends a usage entry.
func (s *UsageStore) Insert(ctx context.Context, e usage.Entry) error {
	_, err := s.coll.InsertOne(ctx, toUsageDoc(e))
	if err != nil {
		return fmt.Errorf("insert usage entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (s *UsageStore) Get(ctx context.Context, id string) (usage.Entry, error) {
	var doc usageDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return usage.Entry{}, ports.ErrNotFound
		}
		return usage.Entry{}, err
	}
	return doc.entry(), nil
}

// Update rewrites an existing entry (reservation finalization).
func (s *UsageStore) Update(ctx context.Context, e usage.Entry) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": e.ID}, bson.M{"$set": bson.M{
		"provider":      e.Provider,
		"tokens_used":   e.TokensUsed,
		"cost":          e.Cost,
		"success":       e.Success,
		"error_message": e.ErrorMessage,
		"status":        string(e.Status),
	}})
	if err != nil {
		return fmt.Errorf("update usage entry: %w", err)
	}
	if res.MatchedCount == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// CountSince counts entries for (userID, action) at or after since.
func (s *UsageStore) CountSince(ctx context.Context, userID, action string, since time.Time) (int64, error) {
	filter := bson.M{
		"user_id":   userID,
		"timestamp": bson.M{"$gte": since.UTC()},
	}
	if action != "" {
		filter["action"] = action
	}
	return s.coll.CountDocuments(ctx, filter)
}

// CountByIPSince counts entries from an IP at or after since.
func (s *UsageStore) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{
		"ip":        ip,
		"timestamp": bson.M{"$gte": since.UTC()},
	})
}

// LastEntry returns the most recent entry for (userID, action) at or
// after since.
func (s *UsageStore) LastEntry(ctx context.Context, userID, action string, since time.Time) (usage.Entry, error) {
	return s.findLatest(ctx, bson.M{
		"user_id":   userID,
		"action":    action,
		"timestamp": bson.M{"$gte": since.UTC()},
	})
}

// LatestPending returns the most recent pending entry for
// (userID, action) at or after since.
func (s *UsageStore) LatestPending(ctx context.Context, userID, action string, since time.Time) (usage.Entry, error) {
	return s.findLatest(ctx, bson.M{
		"user_id":   userID,
		"action":    action,
		"status":    string(usage.StatusPending),
		"timestamp": bson.M{"$gte": since.UTC()},
	})
}

func (s *UsageStore) findLatest(ctx context.Context, filter bson.M) (usage.Entry, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	var doc usageDoc
	err := s.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return usage.Entry{}, ports.ErrNotFound
		}
		return usage.Entry{}, err
	}
	return doc.entry(), nil
}

// SumCostSince sums cost over finalized entries for a user.
func (s *UsageStore) SumCostSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{
			"user_id":   userID,
			"status":    string(usage.StatusFinal),
			"timestamp": bson.M{"$gte": since.UTC()},
		}},
		bson.M{"$group": bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$cost"},
		}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("sum cost: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total float64 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("sum cost decode: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

// Recent returns the last n entries for a user, newest first.
func (s *UsageStore) Recent(ctx context.Context, userID string, n int) ([]usage.Entry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(n))
	cursor, err := s.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []usageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	entries := make([]usage.Entry, len(docs))
	for i, d := range docs {
		entries[i] = d.entry()
	}
	return entries, nil
}

// DeleteOlderThan removes entries strictly older than cutoff.
func (s *UsageStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{
		"timestamp": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
