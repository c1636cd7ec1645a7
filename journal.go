package sconcur

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/sconcur/internal/persistence"
)

// Journal is an append-only history of terminal task outcomes. Attach one
// to an engine with WithJournal.
type Journal = persistence.OutcomeStore

// JournalFilter selects outcomes from a Journal. Empty fields match all.
type JournalFilter = persistence.OutcomeFilter

// Journal constructors.
// These wrap the internal/persistence package so external callers
// never need to import internal packages.

// NewInMemoryJournal returns a Journal that lives only as long as the
// process.
func NewInMemoryJournal() Journal {
	return persistence.NewInMemoryOutcomeStore()
}

// NewSQLiteJournal creates the outcome table in db if needed. The caller
// imports the driver, e.g. _ "modernc.org/sqlite".
func NewSQLiteJournal(db *sql.DB) (Journal, error) {
	return persistence.NewSQLiteOutcomeStore(db)
}

// NewPostgresJournal creates the outcome table in db if needed. db is
// typically opened with the pgx stdlib driver.
func NewPostgresJournal(db *sql.DB) (Journal, error) {
	return persistence.NewPostgresOutcomeStore(db)
}

// NewRedisJournal stores outcomes in Redis lists under prefix. An empty
// prefix defaults to "sconcur:".
func NewRedisJournal(client *redis.Client, prefix string) Journal {
	return persistence.NewRedisOutcomeStore(client, prefix)
}

// NewMongoJournal stores outcomes in a MongoDB collection. Empty names
// default to database "sconcur" and collection "outcomes".
func NewMongoJournal(client *mongo.Client, database, collection string) Journal {
	return persistence.NewMongoOutcomeStore(client, database, collection)
}
