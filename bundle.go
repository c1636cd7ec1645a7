package sconcur

import (
	"database/sql"

	"github.com/petrijr/sconcur/pkg/wire"
)

// Bundle wires together an Engine, the journal recording its outcomes and
// a string boundary over the engine.
//
// For now, we only provide a SQLite-backed bundle.
type Bundle struct {
	Engine  Engine
	Journal Journal
	Wire    *wire.Facade
}

// NewSQLiteBundle constructs an Engine whose outcomes are journaled in the
// provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:sconcur.db?_pragma=journal_mode(WAL)")
//	bundle, err := sconcur.NewSQLiteBundle(db, sconcur.WithWorkers(4))
//	resp := bundle.Wire.Push(ctx, "flow", 1, "task", `{"ms":10}`)
//	defer bundle.Engine.Destroy(ctx)
func NewSQLiteBundle(db *sql.DB, opts ...Option) (*Bundle, error) {
	j, err := NewSQLiteJournal(db)
	if err != nil {
		return nil, err
	}

	eng, err := New(append(opts[:len(opts):len(opts)], WithJournal(j))...)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Engine:  eng,
		Journal: j,
		Wire:    wire.NewFacade(eng),
	}, nil
}
