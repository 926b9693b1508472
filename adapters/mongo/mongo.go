// Package mongo provides document-store implementations of storage
// ports using the official MongoDB driver. The managed collections keep
// the shapes retention policies expect: dated event documents with a
// grouping key, and entities embedding an ordered sample series.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DB wraps a connected client scoped to one database.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, uri, database string) (*DB, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &DB{client: client, db: client.Database(database)}, nil
}

// Collection returns a handle to a named collection.
func (d *DB) Collection(name string) *mongo.Collection {
	return d.db.Collection(name)
}

// Migrate creates the indexes windowed counts depend on.
func (d *DB) Migrate(ctx context.Context, usageCollection string) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "action", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "ip", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	_, err := d.db.Collection(usageCollection).Indexes().CreateMany(ctx, models)
	if err != nil {
		return fmt.Errorf("create usage indexes: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
