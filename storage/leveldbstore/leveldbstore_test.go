package leveldbstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relaycache/engine/storage/storagetest"
)

func TestLevelDBConformance(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "relaycache-leveldb")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(tempDir)

	tier, err := New(filepath.Join(tempDir, "db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tier.Close()

	storagetest.Conformance(t, tier)
}

func TestLevelDBClearWhere(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "relaycache-leveldb")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	defer os.RemoveAll(tempDir)

	tier, err := New(filepath.Join(tempDir, "db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tier.Close()

	storagetest.ClearWhere(t, tier)
}
