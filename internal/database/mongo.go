package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB wraps the document store that holds execution records and logs.
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	dbName   string
}

// Collection names
const (
	CollectionExecutions    = "executions"
	CollectionExecutionLogs = "execution_logs"
)

// NewMongoDB connects with pooling and verifies the connection.
func NewMongoDB(uri string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(5).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := extractDBName(uri)
	if dbName == "" {
		dbName = "agentflow"
	}

	db := &MongoDB{
		client:   client,
		database: client.Database(dbName),
		dbName:   dbName,
	}

	slog.Info("mongodb connected", "database", dbName)
	return db, nil
}

// extractDBName pulls the database name out of a MongoDB URI.
// mongodb://localhost:27017/agentflow?authSource=admin -> agentflow
func extractDBName(uri string) string {
	lastSlash := -1
	questionMark := -1
	for i, c := range uri {
		if c == '/' {
			lastSlash = i
		}
		if c == '?' && questionMark == -1 {
			questionMark = i
		}
	}
	if lastSlash == -1 {
		return ""
	}
	start := lastSlash + 1
	end := len(uri)
	if questionMark != -1 && questionMark > lastSlash {
		end = questionMark
	}
	if start >= end {
		return ""
	}
	return uri[start:end]
}

// Initialize creates indexes for all collections.
func (m *MongoDB) Initialize(ctx context.Context) error {
	if err := m.createIndexes(ctx, CollectionExecutions, []mongo.IndexModel{
		{Keys: bson.D{{Key: "executionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "workflowId", Value: 1}, {Key: "startedAt", Value: -1}}},
		{Keys: bson.D{{Key: "success", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create executions indexes: %w", err)
	}

	if err := m.createIndexes(ctx, CollectionExecutionLogs, []mongo.IndexModel{
		{Keys: bson.D{{Key: "executionId", Value: 1}, {Key: "sequence", Value: 1}}},
		{Keys: bson.D{{Key: "workflowId", Value: 1}, {Key: "startedAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create execution_logs indexes: %w", err)
	}

	slog.Info("mongodb indexes initialized")
	return nil
}

func (m *MongoDB) createIndexes(ctx context.Context, collectionName string, indexes []mongo.IndexModel) error {
	collection := m.database.Collection(collectionName)
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Collection returns a collection handle.
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Close closes the MongoDB connection.
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// Ping checks if the connection is alive.
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}
