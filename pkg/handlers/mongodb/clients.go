package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// clients caches one *mongo.Client per (url, socket timeout) pair.
type clients struct {
	mu    sync.Mutex
	byKey map[string]*mongo.Client
}

func newClients() *clients {
	return &clients{
		byKey: make(map[string]*mongo.Client),
	}
}

func (c *clients) get(ctx context.Context, url string, socketTimeoutMs int) (*mongo.Client, error) {
	key := fmt.Sprintf("%s[sto:%d]", url, socketTimeoutMs)

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.byKey[key]; ok {
		return client, nil
	}

	opts := options.Client().ApplyURI(url)
	if socketTimeoutMs > 0 {
		opts.SetSocketTimeout(time.Duration(socketTimeoutMs) * time.Millisecond)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	c.byKey[key] = client
	return client, nil
}

func (c *clients) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// closeAll disconnects every cached client and empties the cache.
func (c *clients) closeAll(ctx context.Context) error {
	c.mu.Lock()
	all := c.byKey
	c.byKey = make(map[string]*mongo.Client)
	c.mu.Unlock()

	var errs []error
	for key, client := range all {
		if err := client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
