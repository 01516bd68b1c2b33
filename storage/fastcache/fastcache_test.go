package fastcache

import (
	"testing"

	"github.com/relaycache/engine/storage/storagetest"
)

func TestFastCacheConformance(t *testing.T) {
	tier := New(1 << 20)
	storagetest.Conformance(t, tier)
}

func TestFastCacheClearWhere(t *testing.T) {
	tier := New(1 << 20)
	storagetest.ClearWhere(t, tier)
}
