// internal/output/mongodb.go
package output

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/valpere/vinparts/internal/utils"
)

var mongoLogger = utils.NewComponentLogger("mongodb-usage-log")

type usageDocument struct {
	ID             string `bson:"_id"`
	Method         string `bson:"method"`
	Query          string `bson:"search_query"`
	ResultCount    int    `bson:"result_count"`
	ResponseTimeMs int64  `bson:"response_time_ms"`
	Success        bool   `bson:"success"`
	ErrorMessage   string `bson:"error_message,omitempty"`
	CreatedAt      int64  `bson:"created_at"`
}

type usageGroup struct {
	Method     string  `bson:"_id"`
	Total      int64   `bson:"total"`
	Successful int64   `bson:"successful"`
	AvgMillis  float64 `bson:"avg_ms"`
	AvgResults float64 `bson:"avg_results"`
	LastUsed   int64   `bson:"last_used"`
}

// MongoDBUsageLog stores usage records as documents in one collection.
type MongoDBUsageLog struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoDBUsageLog connects to uri and ensures the (method, created_at) index.
func NewMongoDBUsageLog(ctx context.Context, uri, database, collection string) (*MongoDBUsageLog, error) {
	if uri == "" {
		return nil, fmt.Errorf("MongoDB connection string is required")
	}
	if database == "" {
		return nil, fmt.Errorf("MongoDB database name is required")
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(10 * time.Minute).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "method", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("method_created_at"),
	})
	if err != nil {
		mongoLogger.Warnf("Failed to create usage index on %s.%s: %v", database, collection, err)
	}

	mongoLogger.Infof("Connected usage log to %s.%s", database, collection)
	return &MongoDBUsageLog{client: client, collection: coll}, nil
}

// Append implements UsageLog.
func (l *MongoDBUsageLog) Append(ctx context.Context, rec UsageRecord) error {
	doc := usageDocument{
		ID:             rec.ID,
		Method:         rec.Method,
		Query:          rec.Query,
		ResultCount:    rec.ResultCount,
		ResponseTimeMs: rec.ResponseTime.Milliseconds(),
		Success:        rec.Success,
		ErrorMessage:   rec.ErrorMessage,
		CreatedAt:      rec.CreatedAt.UnixMilli(),
	}
	if _, err := l.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert usage document: %w", err)
	}
	return nil
}

// Aggregate implements UsageLog.
func (l *MongoDBUsageLog) Aggregate(ctx context.Context, since time.Time) ([]MethodAggregate, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "created_at", Value: bson.D{{Key: "$gte", Value: since.UnixMilli()}}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$method"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "successful", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{"$success", 1, 0}}}}}},
			{Key: "avg_ms", Value: bson.D{{Key: "$avg", Value: "$response_time_ms"}}},
			{Key: "avg_results", Value: bson.D{{Key: "$avg", Value: "$result_count"}}},
			{Key: "last_used", Value: bson.D{{Key: "$max", Value: "$created_at"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := l.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage documents: %w", err)
	}
	var groups []usageGroup
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode usage aggregate: %w", err)
	}

	out := make([]MethodAggregate, 0, len(groups))
	for _, g := range groups {
		out = append(out, MethodAggregate{
			Method:             g.Method,
			TotalRequests:      g.Total,
			SuccessfulRequests: g.Successful,
			AvgResponseTime:    time.Duration(g.AvgMillis * float64(time.Millisecond)),
			AvgResultCount:     g.AvgResults,
			LastUsed:           time.UnixMilli(g.LastUsed),
		})
	}
	return out, nil
}

// Recent implements UsageLog.
func (l *MongoDBUsageLog) Recent(ctx context.Context, since time.Time, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.D{{Key: "created_at", Value: bson.D{{Key: "$gte", Value: since.UnixMilli()}}}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))

	cursor, err := l.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage documents: %w", err)
	}
	var docs []usageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode usage documents: %w", err)
	}

	out := make([]UsageRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, UsageRecord{
			ID:           d.ID,
			Method:       d.Method,
			Query:        d.Query,
			ResultCount:  d.ResultCount,
			ResponseTime: time.Duration(d.ResponseTimeMs) * time.Millisecond,
			Success:      d.Success,
			ErrorMessage: d.ErrorMessage,
			CreatedAt:    time.UnixMilli(d.CreatedAt),
		})
	}
	return out, nil
}

// Ping implements UsageLog.
func (l *MongoDBUsageLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx, nil)
}

// Close implements UsageLog.
func (l *MongoDBUsageLog) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return l.client.Disconnect(ctx)
}
