package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgUser     = "sconcur"
	pgPassword = "sconcur"
	pgDatabase = "sconcur_test"
)

var postgresContainer = &sharedContainer{service: "postgres"}

func postgresDSN(hostPort string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, hostPort, pgDatabase)
}

// GetPostgresDSN returns a DSN for the pgx database/sql driver pointing at
// a shared test Postgres.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	endpoint := postgresContainer.endpointFor(t, func(ctx context.Context) (testcontainers.Container, error) {
		return testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					// The server logs readiness twice; a query proves it.
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return postgresDSN(host + ":" + port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDatabase,
			}),
		)
	})
	return postgresDSN(endpoint)
}
