package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var mongoContainer = &sharedContainer{service: "mongo"}

// GetMongoURI returns a mongodb:// URI of a shared test server.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	endpoint := mongoContainer.endpointFor(t, func(ctx context.Context) (testcontainers.Container, error) {
		return testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp"),
				wait.ForLog("mongod startup complete"),
			),
		)
	})
	return "mongodb://" + endpoint
}
