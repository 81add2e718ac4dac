// Package errkind defines the error-kind taxonomy used at every boundary
// operation in storecore: page file, buffer pool, and schema catalogue
// calls return an *Error carrying one of the Code values below instead of
// an opaque error, so callers can branch on failure kind the way
// google.golang.org/grpc/codes lets RPC callers branch on status code.
package errkind

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure a boundary operation reported.
type Code int

const (
	// Storage — page file errors.
	StorageInvalidPath Code = iota + 1
	StoragePathAlreadyExists
	StorageOutOfBoundsPage
	StorageUnexpectedRead
	StorageUnexpectedWrite
	StorageCritical
	StorageNotOpen

	// Buffer pool errors.
	PoolOutOfMemory
	PoolSizeNotMultipleOfPageSize
	PoolNoThreadsForPrefetching
	PoolNumaUnsupported
	PoolAllocatedPageInFreeList
	PoolProtectedPageInFreeList
	PoolFreePageNotInFreeList
	PoolBufferDescriptorIncorrectData
	PoolFreePageMappedToBuffer
	PoolBusy

	// Schema catalogue errors.
	SchemaCorruptedPage
	SchemaNameTooLong
	SchemaTypeExists
	SchemaTypeNotFound
)

var codeNames = map[Code]string{
	StorageInvalidPath:                 "StorageInvalidPath",
	StoragePathAlreadyExists:           "StoragePathAlreadyExists",
	StorageOutOfBoundsPage:             "StorageOutOfBoundsPage",
	StorageUnexpectedRead:              "StorageUnexpectedRead",
	StorageUnexpectedWrite:             "StorageUnexpectedWrite",
	StorageCritical:                    "StorageCritical",
	StorageNotOpen:                     "StorageNotOpen",
	PoolOutOfMemory:                    "PoolOutOfMemory",
	PoolSizeNotMultipleOfPageSize:      "PoolSizeNotMultipleOfPageSize",
	PoolNoThreadsForPrefetching:        "PoolNoThreadsForPrefetching",
	PoolNumaUnsupported:                "PoolNumaUnsupported",
	PoolAllocatedPageInFreeList:        "PoolAllocatedPageInFreeList",
	PoolProtectedPageInFreeList:        "PoolProtectedPageInFreeList",
	PoolFreePageNotInFreeList:          "PoolFreePageNotInFreeList",
	PoolBufferDescriptorIncorrectData:  "PoolBufferDescriptorIncorrectData",
	PoolFreePageMappedToBuffer:         "PoolFreePageMappedToBuffer",
	PoolBusy:                           "PoolBusy",
	SchemaCorruptedPage:                "SchemaCorruptedPage",
	SchemaNameTooLong:                  "SchemaNameTooLong",
	SchemaTypeExists:                   "SchemaTypeExists",
	SchemaTypeNotFound:                 "SchemaTypeNotFound",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the value every boundary operation returns on failure. Op names
// the failing call ("pagefile.Reserve", "bufferpool.Pin", ...); Err, when
// non-nil, is the underlying cause (wrapped, retrievable with errors.Unwrap).
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(op string, code Code) *Error {
	return &Error{Op: op, Code: code}
}

// Wrap builds an *Error around an underlying cause.
func Wrap(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// Is reports whether err is an *Error with the given code, following the
// same errors.Is convention used throughout the rest of storecore.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
