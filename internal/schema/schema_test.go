package schema

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/vantadb/storecore/internal/bufferpool"
	"github.com/vantadb/storecore/internal/errkind"
	"github.com/vantadb/storecore/internal/pagefile"
)

func newTestPool(t *testing.T) *bufferpool.Pool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	pool, err := bufferpool.Create(
		bufferpool.Config{PoolSizeKB: 256, NumberOfPartitions: 1},
		path,
		pagefile.FileStorageConfig{PageSizeKB: 4},
		false,
		nil,
	)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func TestNewNodeType_SequentialTypeIDs(t *testing.T) {
	pool := newTestPool(t)
	cat, err := New(pool)
	if err != nil {
		t.Fatalf("new catalogue: %v", err)
	}

	names := []string{"Person", "Company", "Device"}
	for i, name := range names {
		id, err := cat.NewNodeType(name, 0, 0)
		if err != nil {
			t.Fatalf("newNodeType(%s): %v", name, err)
		}
		if id != TypeID(i) {
			t.Fatalf("typeId(%s) = %d, want %d", name, id, i)
		}
	}
	for i, name := range names {
		id, err := cat.GetNodeType(name)
		if err != nil {
			t.Fatalf("getNodeType(%s): %v", name, err)
		}
		if id != TypeID(i) {
			t.Fatalf("getNodeType(%s) = %d, want %d", name, id, i)
		}
	}
}

func TestNewNodeType_RejectsDuplicateName(t *testing.T) {
	pool := newTestPool(t)
	cat, err := New(pool)
	if err != nil {
		t.Fatalf("new catalogue: %v", err)
	}
	if _, err := cat.NewNodeType("Person", 0, 0); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := cat.NewNodeType("Person", 0, 0); !errkind.Is(err, errkind.SchemaTypeExists) {
		t.Fatalf("expected SchemaTypeExists, got %v", err)
	}
}

func TestGetNodeType_UnknownNameFails(t *testing.T) {
	pool := newTestPool(t)
	cat, err := New(pool)
	if err != nil {
		t.Fatalf("new catalogue: %v", err)
	}
	if _, err := cat.GetNodeType("NoSuchType"); !errkind.Is(err, errkind.SchemaTypeNotFound) {
		t.Fatalf("expected SchemaTypeNotFound, got %v", err)
	}
}

// S5 — persist/load round trip over enough node types to span several
// catalogue pages; every getNodeType(name_i) must return typeId=i.
func TestPersistLoad_RoundTripAcrossMultiplePages(t *testing.T) {
	pool := newTestPool(t)
	cat, err := New(pool)
	if err != nil {
		t.Fatalf("new catalogue: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Type%04d", i)
		id, err := cat.NewNodeType(name, uint32(i), pagefile.PageID(i))
		if err != nil {
			t.Fatalf("newNodeType(%s): %v", name, err)
		}
		if id != TypeID(i) {
			t.Fatalf("typeId(%s) = %d, want %d", name, id, i)
		}
	}

	if err := cat.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}
	root := cat.RootPage()
	instanceID := cat.InstanceID()

	reloaded, err := Load(pool, root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.InstanceID() != instanceID {
		t.Fatalf("instanceID mismatch after reload")
	}
	if reloaded.NumElements() != n {
		t.Fatalf("reloaded NumElements() = %d, want %d", reloaded.NumElements(), n)
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Type%04d", i)
		id, err := reloaded.GetNodeType(name)
		if err != nil {
			t.Fatalf("reloaded getNodeType(%s): %v", name, err)
		}
		if id != TypeID(i) {
			t.Fatalf("reloaded typeId(%s) = %d, want %d", name, id, i)
		}
	}
}

func TestNewEdgeAndPropertyTypes_LookupChecksKind(t *testing.T) {
	pool := newTestPool(t)
	cat, err := New(pool)
	if err != nil {
		t.Fatalf("new catalogue: %v", err)
	}
	if _, err := cat.NewNodeType("Person", 0, 0); err != nil {
		t.Fatalf("newNodeType: %v", err)
	}
	if _, err := cat.NewEdgeType("Knows", 0, 0); err != nil {
		t.Fatalf("newEdgeType: %v", err)
	}
	if _, err := cat.NewPropertyType("Age", 0, 0); err != nil {
		t.Fatalf("newPropertyType: %v", err)
	}
	if _, err := cat.GetEdgeType("Person"); !errkind.Is(err, errkind.SchemaTypeNotFound) {
		t.Fatalf("expected SchemaTypeNotFound for kind mismatch, got %v", err)
	}
}
