package persistence

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/sconcur/pkg/api"
)

// MongoOutcomeStore is an OutcomeStore backed by a MongoDB collection.
type MongoOutcomeStore struct {
	coll *mongo.Collection
}

// Ensure it implements OutcomeStore.
var _ OutcomeStore = (*MongoOutcomeStore)(nil)

// NewMongoOutcomeStore creates a Mongo-backed outcome store.
// dbName defaults to "sconcur" if empty, collName defaults to "outcomes".
func NewMongoOutcomeStore(client *mongo.Client, dbName, collName string) *MongoOutcomeStore {
	if dbName == "" {
		dbName = "sconcur"
	}
	if collName == "" {
		collName = "outcomes"
	}

	return &MongoOutcomeStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoOutcomeDoc struct {
	FlowKey     string    `bson:"flow_key"`
	TaskKey     string    `bson:"task_key"`
	Method      int       `bson:"method"`
	Status      string    `bson:"status"`
	Result      string    `bson:"result,omitempty"`
	Error       string    `bson:"error,omitempty"`
	ExecutionMs int64     `bson:"execution_ms"`
	FinishedAt  time.Time `bson:"finished_at"`
}

func (s *MongoOutcomeStore) SaveOutcome(ctx context.Context, out api.Outcome) error {
	finished := out.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	doc := mongoOutcomeDoc{
		FlowKey:     out.FlowKey,
		TaskKey:     out.TaskKey,
		Method:      int(out.Method),
		Status:      string(out.Status),
		Result:      out.Result,
		Error:       out.Error,
		ExecutionMs: out.ExecutionMs,
		FinishedAt:  finished,
	}

	_, err := s.coll.InsertOne(ctx, doc)
	return err
}

func (s *MongoOutcomeStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]api.Outcome, error) {
	query := bson.M{}
	if filter.FlowKey != "" {
		query["flow_key"] = filter.FlowKey
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	// ObjectIDs generated by the driver increase with insertion order.
	cur, err := s.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []api.Outcome
	for cur.Next(ctx) {
		var doc mongoOutcomeDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, api.Outcome{
			FlowKey:     doc.FlowKey,
			TaskKey:     doc.TaskKey,
			Method:      api.Method(doc.Method),
			Status:      api.TaskStatus(doc.Status),
			Result:      doc.Result,
			Error:       doc.Error,
			ExecutionMs: doc.ExecutionMs,
			FinishedAt:  doc.FinishedAt,
		})
	}
	return out, cur.Err()
}
