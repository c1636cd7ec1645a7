package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/petrijr/sconcur/pkg/api"
)

// cursorIdleTimeout is how long an aggregate cursor may go unread before
// it is closed.
const cursorIdleTimeout = 10 * time.Minute

var (
	errCursorNotFound = errors.New("cursor not found")
	errCursorExists   = errors.New("cursor already open")
	errMissingCursor  = errors.New("cursor is required")
)

// batchCursor is the part of *mongo.Cursor the cursor store uses.
type batchCursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// cursorID names the cursor opened by an aggregate task.
func cursorID(req api.Request) string {
	return req.FlowKey + "/" + req.TaskKey
}

type cursorState struct {
	mu     sync.Mutex
	cur    batchCursor
	batch  int
	ahead  *bson.D
	closed bool
	used   time.Time
}

// fetch reads up to one batch. It reads one document ahead so more is
// exact.
func (s *cursorState) fetch(ctx context.Context) (docs []bson.D, more bool, err error) {
	docs = make([]bson.D, 0, s.batch)
	if s.ahead != nil {
		docs = append(docs, *s.ahead)
		s.ahead = nil
	}
	for len(docs) < s.batch && s.cur.Next(ctx) {
		var d bson.D
		if err := s.cur.Decode(&d); err != nil {
			return nil, false, err
		}
		docs = append(docs, d)
	}
	if err := s.cur.Err(); err != nil {
		return nil, false, err
	}
	if len(docs) < s.batch || !s.cur.Next(ctx) {
		return docs, false, s.cur.Err()
	}

	var d bson.D
	if err := s.cur.Decode(&d); err != nil {
		return nil, false, err
	}
	s.ahead = &d
	return docs, true, nil
}

func (s *cursorState) closeLocked(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cur.Close(ctx)
}

// cursors holds the open aggregate cursors by id.
type cursors struct {
	mu   sync.Mutex
	byID map[string]*cursorState
	idle time.Duration
	now  func() time.Time
}

func newCursors() *cursors {
	return &cursors{
		byID: make(map[string]*cursorState),
		idle: cursorIdleTimeout,
		now:  time.Now,
	}
}

func (c *cursors) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byID[id]
	return ok
}

func (c *cursors) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

func (c *cursors) open(ctx context.Context, id string, cur batchCursor, batch int) error {
	c.expire(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; ok {
		return fmt.Errorf("%w: %s", errCursorExists, id)
	}
	c.byID[id] = &cursorState{cur: cur, batch: batch, used: c.now()}
	return nil
}

// next returns the next batch of id. The cursor is closed and forgotten
// once it is exhausted or fails.
func (c *cursors) next(ctx context.Context, id string) (bson.M, error) {
	c.mu.Lock()
	st := c.byID[id]
	c.mu.Unlock()
	if st == nil {
		return nil, fmt.Errorf("%w: %s", errCursorNotFound, id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, fmt.Errorf("%w: %s", errCursorNotFound, id)
	}

	docs, more, err := st.fetch(ctx)
	st.used = c.now()
	if err != nil || !more {
		c.forget(id, st)
		_ = st.closeLocked(ctx)
	}
	if err != nil {
		return nil, err
	}
	return bson.M{"cursor": id, "documents": docs, "hasNext": more}, nil
}

// release closes id before it is exhausted.
func (c *cursors) release(ctx context.Context, id string) error {
	c.mu.Lock()
	st := c.byID[id]
	delete(c.byID, id)
	c.mu.Unlock()
	if st == nil {
		return fmt.Errorf("%w: %s", errCursorNotFound, id)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closeLocked(ctx)
}

func (c *cursors) forget(id string, st *cursorState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byID[id] == st {
		delete(c.byID, id)
	}
}

// expire closes cursors nobody has read for longer than the idle timeout.
// Cursors being read right now are skipped.
func (c *cursors) expire(ctx context.Context) {
	cutoff := c.now().Add(-c.idle)

	c.mu.Lock()
	var stale []*cursorState
	for id, st := range c.byID {
		if !st.mu.TryLock() {
			continue
		}
		if st.used.Before(cutoff) {
			delete(c.byID, id)
			stale = append(stale, st)
			continue
		}
		st.mu.Unlock()
	}
	c.mu.Unlock()

	for _, st := range stale {
		_ = st.closeLocked(ctx)
		st.mu.Unlock()
	}
}

func (c *cursors) closeAll(ctx context.Context) error {
	c.mu.Lock()
	all := c.byID
	c.byID = make(map[string]*cursorState)
	c.mu.Unlock()

	var errs []error
	for id, st := range all {
		st.mu.Lock()
		if err := st.closeLocked(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close cursor %s: %w", id, err))
		}
		st.mu.Unlock()
	}
	return errors.Join(errs...)
}

// CursorPayload is the JSON payload of a cursor task. Close releases the
// cursor without reading further.
type CursorPayload struct {
	Cursor string `json:"cursor"`
	Close  bool   `json:"close"`
}

// CursorHandler returns the next batch of an aggregate cursor opened by
// Handler.
type CursorHandler struct {
	cursors *cursors
}

var _ api.Handler = (*CursorHandler)(nil)

func (h *CursorHandler) Handle(ctx context.Context, req api.Request) (string, error) {
	var p CursorPayload
	if err := json.Unmarshal([]byte(req.Payload), &p); err != nil {
		return "", fmt.Errorf("mongodb cursor: parse payload: %w", err)
	}
	if p.Cursor == "" {
		return "", fmt.Errorf("mongodb cursor: %w", errMissingCursor)
	}

	var (
		res bson.M
		err error
	)
	if p.Close {
		err = h.cursors.release(ctx, p.Cursor)
		res = bson.M{"cursor": p.Cursor, "documents": []bson.D{}, "hasNext": false}
	} else {
		res, err = h.cursors.next(ctx, p.Cursor)
	}
	if err != nil {
		return "", fmt.Errorf("mongodb cursor: %w", err)
	}

	out, err := bson.MarshalExtJSON(res, false, false)
	if err != nil {
		return "", fmt.Errorf("mongodb cursor: marshal result: %w", err)
	}
	return string(out), nil
}
