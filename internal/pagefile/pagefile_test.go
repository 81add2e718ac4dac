package pagefile

import (
	"bytes"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/vantadb/storecore/internal/errkind"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data.bin")
}

func TestCreate_RejectsZeroPageSize(t *testing.T) {
	_, err := Create(tempPath(t), FileStorageConfig{}, false)
	if !errkind.Is(err, errkind.StorageInvalidPath) {
		t.Fatalf("expected StorageInvalidPath, got %v", err)
	}
}

func TestCreate_RejectsExistingWithoutOverwrite(t *testing.T) {
	path := tempPath(t)
	pf, err := Create(path, FileStorageConfig{PageSizeKB: 4}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pf.Close()

	_, err = Create(path, FileStorageConfig{PageSizeKB: 4}, false)
	if !errkind.Is(err, errkind.StoragePathAlreadyExists) {
		t.Fatalf("expected StoragePathAlreadyExists, got %v", err)
	}

	pf2, err := Create(path, FileStorageConfig{PageSizeKB: 4}, true)
	if err != nil {
		t.Fatalf("overwrite create: %v", err)
	}
	pf2.Close()
}

func TestReserveReadWrite_RoundTrip(t *testing.T) {
	path := tempPath(t)
	pf, err := Create(path, FileStorageConfig{PageSizeKB: 4}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer pf.Close()

	id, err := pf.Reserve(3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected first reserved page 0, got %d", id)
	}
	if pf.Size() != 3 {
		t.Fatalf("expected size 3, got %d", pf.Size())
	}

	want := make([]byte, pf.PageSize())
	rand.Read(want)
	if err := pf.Write(id+1, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := make([]byte, pf.PageSize())
	if err := pf.Read(id+1, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(want, got) {
		t.Fatal("round-tripped page content mismatch")
	}
}

func TestRead_OutOfBounds(t *testing.T) {
	path := tempPath(t)
	pf, err := Create(path, FileStorageConfig{PageSizeKB: 4}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer pf.Close()

	buf := make([]byte, pf.PageSize())
	if err := pf.Read(0, buf); !errkind.Is(err, errkind.StorageOutOfBoundsPage) {
		t.Fatalf("expected StorageOutOfBoundsPage, got %v", err)
	}
}

func TestOpen_PreservesPageSizeAndPageCount(t *testing.T) {
	path := tempPath(t)
	pf, err := Create(path, FileStorageConfig{PageSizeKB: 8}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := pf.Reserve(5); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reopened.Close()

	if reopened.PageSize() != 8*1024 {
		t.Fatalf("expected page size 8192, got %d", reopened.PageSize())
	}
	if reopened.Size() != 5 {
		t.Fatalf("expected 5 pages, got %d", reopened.Size())
	}
}

func TestClose_TwiceFails(t *testing.T) {
	path := tempPath(t)
	pf, err := Create(path, FileStorageConfig{PageSizeKB: 4}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pf.Close(); !errkind.Is(err, errkind.StorageNotOpen) {
		t.Fatalf("expected StorageNotOpen on double close, got %v", err)
	}
}

func TestOperationsAfterClose_Fail(t *testing.T) {
	path := tempPath(t)
	pf, err := Create(path, FileStorageConfig{PageSizeKB: 4}, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := pf.Reserve(1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := pf.Reserve(1); !errkind.Is(err, errkind.StorageNotOpen) {
		t.Fatalf("expected StorageNotOpen after close, got %v", err)
	}
}
