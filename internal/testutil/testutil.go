// Package testutil starts throwaway backing services for integration tests
// with testcontainers. Each container is started once per test binary.
// Tests are skipped under -short or when no container runtime is available.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
)

// startTimeout is generous for CI environments pulling images.
const startTimeout = 3 * time.Minute

// sharedContainer starts a container on first use and hands its endpoint
// to every later caller.
type sharedContainer struct {
	service string

	once     sync.Once
	endpoint string
	err      error
}

func (c *sharedContainer) endpointFor(t *testing.T, start func(ctx context.Context) (testcontainers.Container, error)) string {
	t.Helper()
	skipIfShort(t, c.service)

	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()

		ctr, err := start(ctx)
		if err != nil {
			c.err = err
			return
		}

		endpoint, err := ctr.Endpoint(ctx, "")
		if err != nil {
			_ = ctr.Terminate(context.Background()) // best-effort cleanup
			c.err = err
			return
		}
		c.endpoint = endpoint
	})

	skipOnError(t, c.service, c.err)
	return c.endpoint
}

func skipIfShort(t *testing.T, service string) {
	t.Helper()
	if testing.Short() {
		t.Skipf("skipping %s integration test in -short mode", service)
	}
}

func skipOnError(t *testing.T, service string, err error) {
	t.Helper()
	if err != nil {
		t.Skipf("%s container unavailable: %v", service, err)
	}
}
