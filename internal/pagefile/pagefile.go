// Package pagefile implements the durable, page-addressed byte array that
// backs the buffer pool: a fixed-size-page file plus a sidecar config file
// recording the page size the storage was created with.
//
// It is the page-addressed analogue of the teacher's
// internal/storage/pager.Pager, trimmed down to exactly what a
// page-addressable file needs: create/open/close, reserve, read, write,
// size. Unlike the teacher's pager, pages carry no embedded header, LSN, or
// CRC — the allocation bitmap (see internal/bitmap) must be able to treat
// page 0 as a plain bit-addressable byte array starting at offset 0, and
// there is no WAL to make an LSN meaningful.
package pagefile

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/vantadb/storecore/internal/errkind"
)

var hostEndian = binary.LittleEndian

// PageID addresses a single page in the file. Page 0 is always the first
// allocation-bitmap page.
type PageID uint64

// FileStorageConfig is persisted in the sidecar "<path>.config" file and is
// immutable once a storage is created.
type FileStorageConfig struct {
	PageSizeKB uint32
}

// PageSize returns the configured page size in bytes.
func (c FileStorageConfig) PageSize() int { return int(c.PageSizeKB) * 1024 }

const configSidecarSuffix = ".config"

// marshalConfig writes {PageSizeKB uint32} in little-endian byte order followed by
// zero padding, matching spec.md §6's sidecar layout.
func marshalConfig(cfg FileStorageConfig, pageSize int) []byte {
	buf := make([]byte, pageSize)
	hostEndian.PutUint32(buf[:4], cfg.PageSizeKB)
	return buf
}

func unmarshalConfig(buf []byte) (FileStorageConfig, error) {
	if len(buf) < 4 {
		return FileStorageConfig{}, fmt.Errorf("config sidecar too small: %d bytes", len(buf))
	}
	return FileStorageConfig{PageSizeKB: hostEndian.Uint32(buf[:4])}, nil
}

// PageFile is a durable byte array chunked into fixed-size pages. All
// operations are serialized per instance (concurrency is the buffer pool's
// job, one layer up); see storecore/internal/bufferpool.
type PageFile struct {
	f        *os.File
	pageSize int
	path     string
	numPages uint64
	closed   bool
}

func configPath(path string) string { return path + configSidecarSuffix }

// Create creates a brand-new page file at path with the given config. It
// fails with errkind.StoragePathAlreadyExists if a file is already there
// (unless overwrite is set) and errkind.StorageInvalidPath on an
// unusable path. The config header is written durably before returning.
func Create(path string, cfg FileStorageConfig, overwrite bool) (*PageFile, error) {
	const op = "pagefile.Create"
	if path == "" {
		return nil, errkind.New(op, errkind.StorageInvalidPath)
	}
	if cfg.PageSizeKB == 0 {
		return nil, errkind.New(op, errkind.StorageInvalidPath)
	}

	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return nil, errkind.New(op, errkind.StoragePathAlreadyExists)
		}
		if err := os.Remove(path); err != nil {
			return nil, errkind.Wrap(op, errkind.StorageInvalidPath, err)
		}
		_ = os.Remove(configPath(path))
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errkind.Wrap(op, errkind.StorageInvalidPath, err)
	}

	pageSize := cfg.PageSize()
	cfgBuf := marshalConfig(cfg, pageSize)
	cf, err := os.OpenFile(configPath(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err == nil {
		if _, err = cf.Write(cfgBuf); err == nil {
			err = cf.Sync()
		}
		if cerr := cf.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, errkind.Wrap(op, errkind.StorageUnexpectedWrite, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, errkind.Wrap(op, errkind.StorageCritical, err)
	}

	return &PageFile{f: f, pageSize: pageSize, path: path}, nil
}

// Open opens an existing page file, reading its page size from the
// sidecar config file.
func Open(path string) (*PageFile, error) {
	const op = "pagefile.Open"
	cfgBuf, err := os.ReadFile(configPath(path))
	if err != nil {
		return nil, errkind.Wrap(op, errkind.StorageInvalidPath, err)
	}
	cfg, err := unmarshalConfig(cfgBuf)
	if err != nil {
		return nil, errkind.Wrap(op, errkind.StorageCritical, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, errkind.Wrap(op, errkind.StorageInvalidPath, err)
	}

	pageSize := cfg.PageSize()
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errkind.Wrap(op, errkind.StorageCritical, err)
	}
	numPages := uint64(stat.Size()) / uint64(pageSize)

	return &PageFile{f: f, pageSize: pageSize, path: path, numPages: numPages}, nil
}

// PageSize returns the immutable page size in bytes.
func (pf *PageFile) PageSize() int { return pf.pageSize }

// Size returns the number of pages currently in the file.
func (pf *PageFile) Size() uint64 { return pf.numPages }

// Reserve appends n zero-filled pages and returns the PageID of the first.
func (pf *PageFile) Reserve(n uint64) (PageID, error) {
	const op = "pagefile.Reserve"
	if pf.closed {
		return 0, errkind.New(op, errkind.StorageNotOpen)
	}
	if n == 0 {
		return 0, errkind.New(op, errkind.StorageOutOfBoundsPage)
	}

	first := pf.numPages
	zero := make([]byte, pf.pageSize)
	for i := uint64(0); i < n; i++ {
		off := int64(first+i) * int64(pf.pageSize)
		if _, err := pf.f.WriteAt(zero, off); err != nil {
			return 0, errkind.Wrap(op, errkind.StorageUnexpectedWrite, err)
		}
	}
	pf.numPages += n
	return PageID(first), nil
}

// Read fills dst (which must be exactly PageSize() bytes) with the on-disk
// contents of pageId.
func (pf *PageFile) Read(pageId PageID, dst []byte) error {
	const op = "pagefile.Read"
	if pf.closed {
		return errkind.New(op, errkind.StorageNotOpen)
	}
	if uint64(pageId) >= pf.numPages {
		return errkind.New(op, errkind.StorageOutOfBoundsPage)
	}
	if len(dst) != pf.pageSize {
		return errkind.New(op, errkind.StorageOutOfBoundsPage)
	}
	off := int64(pageId) * int64(pf.pageSize)
	n, err := pf.f.ReadAt(dst, off)
	if err != nil {
		return errkind.Wrap(op, errkind.StorageUnexpectedRead, err)
	}
	if n != pf.pageSize {
		return errkind.New(op, errkind.StorageUnexpectedRead)
	}
	return nil
}

// Write persists src (which must be exactly PageSize() bytes) at pageId.
func (pf *PageFile) Write(pageId PageID, src []byte) error {
	const op = "pagefile.Write"
	if pf.closed {
		return errkind.New(op, errkind.StorageNotOpen)
	}
	if uint64(pageId) >= pf.numPages {
		return errkind.New(op, errkind.StorageOutOfBoundsPage)
	}
	if len(src) != pf.pageSize {
		return errkind.New(op, errkind.StorageOutOfBoundsPage)
	}
	off := int64(pageId) * int64(pf.pageSize)
	n, err := pf.f.WriteAt(src, off)
	if err != nil {
		return errkind.Wrap(op, errkind.StorageUnexpectedWrite, err)
	}
	if n != pf.pageSize {
		return errkind.New(op, errkind.StorageUnexpectedWrite)
	}
	return nil
}

// Sync flushes the OS file buffers to stable storage.
func (pf *PageFile) Sync() error {
	const op = "pagefile.Sync"
	if err := pf.f.Sync(); err != nil {
		return errkind.Wrap(op, errkind.StorageCritical, err)
	}
	return nil
}

// Close flushes and releases the file handle. Closing twice is an error.
func (pf *PageFile) Close() error {
	const op = "pagefile.Close"
	if pf.closed {
		return errkind.New(op, errkind.StorageNotOpen)
	}
	pf.closed = true
	if err := pf.f.Sync(); err != nil {
		pf.f.Close()
		return errkind.Wrap(op, errkind.StorageCritical, err)
	}
	if err := pf.f.Close(); err != nil {
		return errkind.Wrap(op, errkind.StorageCritical, err)
	}
	return nil
}

// Path returns the data file path.
func (pf *PageFile) Path() string { return pf.path }
