package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var redisContainer = &sharedContainer{service: "redis"}

// GetRedisAddress returns the host:port of a shared test Redis.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return redisContainer.endpointFor(t, func(ctx context.Context) (testcontainers.Container, error) {
		return testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
	})
}
