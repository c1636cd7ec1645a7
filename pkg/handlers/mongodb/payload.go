package mongodb

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Command names a collection operation.
type Command string

const (
	InsertOne      Command = "insertOne"
	InsertMany     Command = "insertMany"
	BulkWrite      Command = "bulkWrite"
	CountDocuments Command = "countDocuments"
	FindOne        Command = "findOne"
	UpdateOne      Command = "updateOne"
	UpdateMany     Command = "updateMany"
	DeleteOne      Command = "deleteOne"
	DeleteMany     Command = "deleteMany"
	Aggregate      Command = "aggregate"
	CreateIndex    Command = "createIndex"
)

// Payload is the JSON payload of a MongoDB task. Data carries the
// command's arguments in relaxed MongoDB Extended JSON.
type Payload struct {
	URL             string          `json:"url"`
	Database        string          `json:"database"`
	Collection      string          `json:"collection"`
	SocketTimeoutMs int             `json:"socketTimeoutMs"`
	Command         Command         `json:"command"`
	Data            json.RawMessage `json:"data"`
}

// Args are the decoded command arguments. Each command reads only the
// fields it needs.
type Args struct {
	Document   bson.D    `bson:"document"`
	Documents  []bson.D  `bson:"documents"`
	Operations []WriteOp `bson:"operations"`
	Ordered    *bool     `bson:"ordered"`
	Filter     bson.D    `bson:"filter"`
	Update     bson.D    `bson:"update"`
	Upsert     bool      `bson:"upsert"`
	Pipeline   []bson.D  `bson:"pipeline"`
	BatchSize  int32     `bson:"batchSize"`
	Keys       bson.D    `bson:"keys"`
	Unique     bool      `bson:"unique"`
	Name       string    `bson:"name"`
}

// WriteOp is one bulkWrite operation written the way the mongo shell
// writes it, e.g. {"updateOne": {"filter": {...}, "update": {...}}}.
// Exactly one field must be set.
type WriteOp struct {
	InsertOne  *WriteArgs `bson:"insertOne"`
	UpdateOne  *WriteArgs `bson:"updateOne"`
	UpdateMany *WriteArgs `bson:"updateMany"`
	ReplaceOne *WriteArgs `bson:"replaceOne"`
	DeleteOne  *WriteArgs `bson:"deleteOne"`
	DeleteMany *WriteArgs `bson:"deleteMany"`
}

// WriteArgs holds the arguments of a single WriteOp.
type WriteArgs struct {
	Document    bson.D `bson:"document"`
	Filter      bson.D `bson:"filter"`
	Update      bson.D `bson:"update"`
	Replacement bson.D `bson:"replacement"`
	Upsert      *bool  `bson:"upsert"`
}

func (w *WriteArgs) filter() bson.D {
	if w.Filter == nil {
		return bson.D{}
	}
	return w.Filter
}

// model converts op into a driver write model.
func (op WriteOp) model() (mongo.WriteModel, error) {
	var (
		m   mongo.WriteModel
		set int
	)
	if w := op.InsertOne; w != nil {
		set++
		if w.Document == nil {
			return nil, errors.New("insertOne: document is required")
		}
		m = mongo.NewInsertOneModel().SetDocument(w.Document)
	}
	if w := op.UpdateOne; w != nil {
		set++
		if len(w.Update) == 0 {
			return nil, errors.New("updateOne: update is required")
		}
		um := mongo.NewUpdateOneModel().SetFilter(w.filter()).SetUpdate(w.Update)
		if w.Upsert != nil {
			um.SetUpsert(*w.Upsert)
		}
		m = um
	}
	if w := op.UpdateMany; w != nil {
		set++
		if len(w.Update) == 0 {
			return nil, errors.New("updateMany: update is required")
		}
		um := mongo.NewUpdateManyModel().SetFilter(w.filter()).SetUpdate(w.Update)
		if w.Upsert != nil {
			um.SetUpsert(*w.Upsert)
		}
		m = um
	}
	if w := op.ReplaceOne; w != nil {
		set++
		if w.Replacement == nil {
			return nil, errors.New("replaceOne: replacement is required")
		}
		rm := mongo.NewReplaceOneModel().SetFilter(w.filter()).SetReplacement(w.Replacement)
		if w.Upsert != nil {
			rm.SetUpsert(*w.Upsert)
		}
		m = rm
	}
	if w := op.DeleteOne; w != nil {
		set++
		m = mongo.NewDeleteOneModel().SetFilter(w.filter())
	}
	if w := op.DeleteMany; w != nil {
		set++
		m = mongo.NewDeleteManyModel().SetFilter(w.filter())
	}
	if set != 1 {
		return nil, fmt.Errorf("operation must name exactly one kind, got %d", set)
	}
	return m, nil
}

// models converts every operation, reporting the index of the first bad one.
func (a Args) models() ([]mongo.WriteModel, error) {
	out := make([]mongo.WriteModel, 0, len(a.Operations))
	for i, op := range a.Operations {
		m, err := op.model()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

var (
	errMissingTarget  = errors.New("url, database and collection are required")
	errUnknownCommand = errors.New("unknown command")
)

// ParsePayload decodes a task payload and its command arguments.
func ParsePayload(raw string) (Payload, Args, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, Args{}, fmt.Errorf("parse payload: %w", err)
	}
	if p.URL == "" || p.Database == "" || p.Collection == "" {
		return Payload{}, Args{}, errMissingTarget
	}

	var args Args
	if len(p.Data) > 0 && string(p.Data) != "null" {
		if err := bson.UnmarshalExtJSON(p.Data, false, &args); err != nil {
			return Payload{}, Args{}, fmt.Errorf("parse %s data: %w", p.Command, err)
		}
	}

	if err := args.validate(p.Command); err != nil {
		return Payload{}, Args{}, err
	}
	return p, args, nil
}

func (a Args) validate(cmd Command) error {
	switch cmd {
	case InsertOne:
		if a.Document == nil {
			return fmt.Errorf("%s: document is required", cmd)
		}
	case InsertMany:
		if len(a.Documents) == 0 {
			return fmt.Errorf("%s: documents are required", cmd)
		}
	case BulkWrite:
		if len(a.Operations) == 0 {
			return fmt.Errorf("%s: operations are required", cmd)
		}
		if _, err := a.models(); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	case UpdateOne, UpdateMany:
		if len(a.Update) == 0 {
			return fmt.Errorf("%s: update is required", cmd)
		}
	case Aggregate:
		if a.BatchSize < 0 {
			return fmt.Errorf("%s: batchSize must not be negative", cmd)
		}
	case CreateIndex:
		if len(a.Keys) == 0 {
			return fmt.Errorf("%s: keys are required", cmd)
		}
	case CountDocuments, FindOne, DeleteOne, DeleteMany:
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, cmd)
	}
	return nil
}

// filter returns the filter, or an empty one matching every document.
func (a Args) filter() bson.D {
	if a.Filter == nil {
		return bson.D{}
	}
	return a.Filter
}

func (a Args) pipeline() []bson.D {
	if a.Pipeline == nil {
		return []bson.D{}
	}
	return a.Pipeline
}
