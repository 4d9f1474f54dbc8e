package logs

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"agentflow/internal/database"
)

// Store is the persistence sink for execution records, logs, and user
// stats. The sink is append-only for records and log entries.
type Store interface {
	PersistLog(ctx context.Context, entry *Entry) error
	PersistExecution(ctx context.Context, record *ExecutionRecord) error
	UpsertUserStats(ctx context.Context, userID string, delta UserStats) error
}

// DBStore persists log entries to MongoDB and user stats to MySQL.
type DBStore struct {
	mongo *database.MongoDB
	sql   *database.DB
}

func NewDBStore(mongo *database.MongoDB, sql *database.DB) *DBStore {
	return &DBStore{mongo: mongo, sql: sql}
}

func (s *DBStore) PersistLog(ctx context.Context, entry *Entry) error {
	_, err := s.mongo.Collection(database.CollectionExecutionLogs).InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to persist log entry: %w", err)
	}
	return nil
}

func (s *DBStore) PersistExecution(ctx context.Context, record *ExecutionRecord) error {
	_, err := s.mongo.Collection(database.CollectionExecutions).InsertOne(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to persist execution record: %w", err)
	}
	return nil
}

// ListByExecution returns an execution's persisted entries in sequence order.
func (s *DBStore) ListByExecution(ctx context.Context, executionID string) ([]Entry, error) {
	cursor, err := s.mongo.Collection(database.CollectionExecutionLogs).Find(ctx,
		bson.M{"executionId": executionID},
		options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode execution logs: %w", err)
	}
	return entries, nil
}

// ListByWorkflow returns a workflow's execution records, most recent first.
// Per-block detail is fetched separately by execution id.
func (s *DBStore) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	cursor, err := s.mongo.Collection(database.CollectionExecutions).Find(ctx,
		bson.M{"workflowId": workflowID},
		options.Find().
			SetSort(bson.D{{Key: "startedAt", Value: -1}}).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow executions: %w", err)
	}
	defer cursor.Close(ctx)

	var records []ExecutionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode workflow executions: %w", err)
	}
	return records, nil
}

// UpsertUserStats inserts a fresh stats row or atomically increments the
// existing one.
func (s *DBStore) UpsertUserStats(ctx context.Context, userID string, delta UserStats) error {
	if s.sql == nil {
		return nil
	}
	_, err := s.sql.ExecContext(ctx, `
		INSERT INTO user_workflow_stats
			(user_id, total_executions, successful_executions, failed_executions,
			 total_cost, total_tokens, last_execution_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			total_executions = total_executions + VALUES(total_executions),
			successful_executions = successful_executions + VALUES(successful_executions),
			failed_executions = failed_executions + VALUES(failed_executions),
			total_cost = total_cost + VALUES(total_cost),
			total_tokens = total_tokens + VALUES(total_tokens),
			last_execution_at = VALUES(last_execution_at)
	`, userID, delta.Executions, delta.Successful, delta.Failed,
		delta.TotalCost, delta.TotalTokens, delta.LastActive)
	if err != nil {
		return fmt.Errorf("failed to upsert user stats: %w", err)
	}
	return nil
}
