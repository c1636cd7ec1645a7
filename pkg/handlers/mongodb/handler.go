// Package mongodb implements the MongoDB collection method. A task names a
// server, database, collection and command; the handler runs the command
// and returns its result as relaxed MongoDB Extended JSON.
//
// An aggregate with a batchSize returns its first batch together with a
// cursor id and a hasNext flag. The following batches are fetched with the
// cursor method, one task per batch, until hasNext is false.
//
// Clients are cached per server URL and socket timeout. Clients and open
// cursors are closed when the engine is destroyed.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/sconcur/pkg/api"
)

var (
	_ api.Handler = (*Handler)(nil)
	_ api.Closer  = (*Handler)(nil)
)

// Handler runs collection commands.
type Handler struct {
	clients *clients
	cursors *cursors
}

// New returns a handler with an empty client cache.
func New() *Handler {
	return &Handler{
		clients: newClients(),
		cursors: newCursors(),
	}
}

// CursorHandler returns the handler that pages through aggregates this
// handler opened.
func (h *Handler) CursorHandler() *CursorHandler {
	return &CursorHandler{cursors: h.cursors}
}

func (h *Handler) Handle(ctx context.Context, req api.Request) (string, error) {
	p, args, err := ParsePayload(req.Payload)
	if err != nil {
		return "", fmt.Errorf("mongodb: %w", err)
	}

	client, err := h.clients.get(ctx, p.URL, p.SocketTimeoutMs)
	if err != nil {
		return "", fmt.Errorf("mongodb: client: %w", err)
	}
	coll := client.Database(p.Database).Collection(p.Collection)

	var res bson.M
	if p.Command == Aggregate && args.BatchSize > 0 {
		res, err = h.openAggregate(ctx, coll, req, args)
	} else {
		res, err = run(ctx, coll, p.Command, args)
	}
	if err != nil {
		return "", fmt.Errorf("mongodb: %s: %w", p.Command, err)
	}

	out, err := bson.MarshalExtJSON(res, false, false)
	if err != nil {
		return "", fmt.Errorf("mongodb: marshal %s result: %w", p.Command, err)
	}
	return string(out), nil
}

// Close closes open cursors and disconnects every cached client.
func (h *Handler) Close(ctx context.Context) error {
	return errors.Join(
		h.cursors.closeAll(ctx),
		h.clients.closeAll(ctx),
	)
}

func (h *Handler) openAggregate(ctx context.Context, coll *mongo.Collection, req api.Request, args Args) (bson.M, error) {
	id := cursorID(req)
	if h.cursors.has(id) {
		return nil, fmt.Errorf("%w: %s", errCursorExists, id)
	}

	cur, err := coll.Aggregate(ctx, args.pipeline(), options.Aggregate().SetBatchSize(args.BatchSize))
	if err != nil {
		return nil, err
	}
	if err := h.cursors.open(ctx, id, cur, int(args.BatchSize)); err != nil {
		_ = cur.Close(ctx)
		return nil, err
	}
	return h.cursors.next(ctx, id)
}

func run(ctx context.Context, coll *mongo.Collection, cmd Command, args Args) (bson.M, error) {
	switch cmd {
	case InsertOne:
		res, err := coll.InsertOne(ctx, args.Document)
		if err != nil {
			return nil, err
		}
		return bson.M{"insertedId": res.InsertedID}, nil

	case InsertMany:
		docs := make([]any, len(args.Documents))
		for i, d := range args.Documents {
			docs[i] = d
		}
		res, err := coll.InsertMany(ctx, docs)
		if err != nil {
			return nil, err
		}
		return bson.M{"insertedIds": res.InsertedIDs}, nil

	case BulkWrite:
		models, err := args.models()
		if err != nil {
			return nil, err
		}
		opts := options.BulkWrite()
		if args.Ordered != nil {
			opts.SetOrdered(*args.Ordered)
		}
		res, err := coll.BulkWrite(ctx, models, opts)
		if err != nil {
			return nil, err
		}
		// Keyed by the index of the upserting operation.
		upserted := bson.M{}
		for i, id := range res.UpsertedIDs {
			upserted[strconv.FormatInt(i, 10)] = id
		}
		return bson.M{
			"insertedCount": res.InsertedCount,
			"matchedCount":  res.MatchedCount,
			"modifiedCount": res.ModifiedCount,
			"deletedCount":  res.DeletedCount,
			"upsertedCount": res.UpsertedCount,
			"upsertedIds":   upserted,
		}, nil

	case CountDocuments:
		n, err := coll.CountDocuments(ctx, args.filter())
		if err != nil {
			return nil, err
		}
		return bson.M{"count": n}, nil

	case FindOne:
		var doc bson.D
		err := coll.FindOne(ctx, args.filter()).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return bson.M{"document": nil}, nil
		}
		if err != nil {
			return nil, err
		}
		return bson.M{"document": doc}, nil

	case UpdateOne:
		res, err := coll.UpdateOne(ctx, args.filter(), args.Update, options.Update().SetUpsert(args.Upsert))
		if err != nil {
			return nil, err
		}
		return bson.M{
			"matchedCount":  res.MatchedCount,
			"modifiedCount": res.ModifiedCount,
			"upsertedCount": res.UpsertedCount,
			"upsertedId":    res.UpsertedID,
		}, nil

	case UpdateMany:
		res, err := coll.UpdateMany(ctx, args.filter(), args.Update, options.Update().SetUpsert(args.Upsert))
		if err != nil {
			return nil, err
		}
		return bson.M{
			"matchedCount":  res.MatchedCount,
			"modifiedCount": res.ModifiedCount,
			"upsertedCount": res.UpsertedCount,
			"upsertedId":    res.UpsertedID,
		}, nil

	case DeleteOne:
		res, err := coll.DeleteOne(ctx, args.filter())
		if err != nil {
			return nil, err
		}
		return bson.M{"deletedCount": res.DeletedCount}, nil

	case DeleteMany:
		res, err := coll.DeleteMany(ctx, args.filter())
		if err != nil {
			return nil, err
		}
		return bson.M{"deletedCount": res.DeletedCount}, nil

	case Aggregate:
		cur, err := coll.Aggregate(ctx, args.pipeline())
		if err != nil {
			return nil, err
		}
		docs := []bson.D{}
		if err := cur.All(ctx, &docs); err != nil {
			return nil, err
		}
		return bson.M{"documents": docs}, nil

	case CreateIndex:
		opts := options.Index().SetUnique(args.Unique)
		if args.Name != "" {
			opts.SetName(args.Name)
		}
		name, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: args.Keys, Options: opts})
		if err != nil {
			return nil, err
		}
		return bson.M{"name": name}, nil
	}

	return nil, fmt.Errorf("%w %q", errUnknownCommand, cmd)
}
