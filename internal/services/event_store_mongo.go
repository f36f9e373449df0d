package services

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"memoryapi/internal/database"
	"memoryapi/internal/models"
)

// MongoEventStore stores events in MongoDB and uses the Atlas $vectorSearch stage for similarity
type MongoEventStore struct {
	mongodb     *database.MongoDB
	collection  *mongo.Collection
	vectorIndex string
}

// NewMongoEventStore creates a store over the named collection
func NewMongoEventStore(mongodb *database.MongoDB, collection, vectorIndex string) *MongoEventStore {
	if collection == "" {
		collection = database.CollectionMemoryEvents
	}
	if vectorIndex == "" {
		vectorIndex = "memory_vector_index"
	}
	return &MongoEventStore{
		mongodb:     mongodb,
		collection:  mongodb.Collection(collection),
		vectorIndex: vectorIndex,
	}
}

func (s *MongoEventStore) Backend() string { return "mongo" }

// Insert stores an event
func (s *MongoEventStore) Insert(ctx context.Context, event *models.MemoryEvent) error {
	result, err := s.collection.InsertOne(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to insert memory event: %w", err)
	}
	if id, ok := result.InsertedID.(primitive.ObjectID); ok {
		event.ID = id
	}
	return nil
}

var scoredProjection = bson.D{
	{Key: "_id", Value: 0},
	{Key: "kind", Value: 1},
	{Key: "device_id", Value: 1},
	{Key: "text", Value: 1},
	{Key: "created_at", Value: 1},
}

// VectorSearch runs an Atlas $vectorSearch aggregation
func (s *MongoEventStore) VectorSearch(ctx context.Context, q VectorQuery) ([]models.ScoredEvent, error) {
	projection := append(bson.D{}, scoredProjection...)
	projection = append(projection, bson.E{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}})

	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: s.vectorIndex},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: q.Vector},
			{Key: "numCandidates", Value: q.Candidates},
			{Key: "limit", Value: q.Limit},
			{Key: "filter", Value: bson.D{
				{Key: "device_id", Value: q.DeviceID},
				{Key: "kind", Value: string(q.Kind)},
			}},
		}}},
		{{Key: "$project", Value: projection}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.ScoredEvent
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode vector results: %w", err)
	}
	return results, nil
}

// PatternSearch matches text with an escaped, case-insensitive regex, newest first
func (s *MongoEventStore) PatternSearch(ctx context.Context, q PatternQuery) ([]models.ScoredEvent, error) {
	filter := bson.D{
		{Key: "device_id", Value: q.DeviceID},
		{Key: "kind", Value: string(q.Kind)},
		{Key: "text", Value: bson.D{
			{Key: "$regex", Value: regexp.QuoteMeta(q.Pattern)},
			{Key: "$options", Value: "i"},
		}},
	}
	opts := options.Find().
		SetProjection(scoredProjection).
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(q.Limit))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.ScoredEvent
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode lexical results: %w", err)
	}
	return results, nil
}

func (s *MongoEventStore) Ping(ctx context.Context) error {
	return s.mongodb.Ping(ctx)
}

func (s *MongoEventStore) Close(ctx context.Context) error {
	return s.mongodb.Close(ctx)
}
