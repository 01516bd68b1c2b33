//go:build integration

package redisstore

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/relaycache/engine/storage/storagetest"
)

func setupRedisTier(t *testing.T) *Tier {
	t.Helper()
	ctx := context.Background()

	container, err := rediscontainer.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}

	tier, err := New(Config{Addr: endpoint})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = tier.Close() })
	return tier
}

func TestRedisTierConformance(t *testing.T) {
	storagetest.Conformance(t, setupRedisTier(t))
}

func TestRedisTierClearWhere(t *testing.T) {
	storagetest.ClearWhere(t, setupRedisTier(t))
}
