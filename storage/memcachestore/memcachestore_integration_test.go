//go:build integration

package memcachestore

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	memcachedcontainer "github.com/testcontainers/testcontainers-go/modules/memcached"

	"github.com/relaycache/engine/storage/storagetest"
)

func setupMemcacheTier(t *testing.T) *Tier {
	t.Helper()
	ctx := context.Background()

	container, err := memcachedcontainer.Run(ctx, "memcached:1.6-alpine")
	if err != nil {
		t.Fatalf("start memcached container: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("memcached endpoint: %v", err)
	}

	return New(endpoint)
}

func TestMemcacheTierConformance(t *testing.T) {
	storagetest.Conformance(t, setupMemcacheTier(t))
}

func TestMemcacheTierClearWhere(t *testing.T) {
	storagetest.ClearWhere(t, setupMemcacheTier(t))
}
