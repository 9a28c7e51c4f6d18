package fdio

import (
	"errors"
	"strconv"
)

// Sentinel error kinds returned by fdio operations.
//
// Callers should use [errors.Is] to check error kinds. Errors carrying an OS
// error code also match that code:
//
//	if errors.Is(err, fdio.ErrIO) && errors.Is(err, syscall.ENOSPC) {
//	    // disk full
//	}
var (
	// ErrClosed indicates an operation on a [Handle] that was already closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("fdio: descriptor closed")

	// ErrMetadata indicates the fstat call used to classify a descriptor
	// failed. Nothing was read.
	ErrMetadata = errors.New("fdio: metadata unavailable")

	// ErrIO indicates a read, write, seek, truncate, sync, open or pipe
	// syscall failed. The [*OpError] carries the errno.
	ErrIO = errors.New("fdio: i/o failure")

	// ErrAllocation indicates a read buffer could not grow to the size
	// required, either because it would exceed [Options.MaxBufferSize] or
	// because the runtime refused the allocation.
	ErrAllocation = errors.New("fdio: allocation failure")

	// ErrInvalidLength indicates a negative requested read length.
	//
	// This is a programming error.
	ErrInvalidLength = errors.New("fdio: invalid length")
)

// OpError describes a failed operation on a descriptor.
//
// Kind is one of the sentinel errors above. Err is the underlying cause,
// usually a [syscall.Errno]. Both are reachable through [errors.Is] and
// [errors.As].
type OpError struct {
	Op   string
	Fd   int
	Path string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	msg := e.Kind.Error() + ": " + e.Op

	if e.Path != "" {
		msg += " " + e.Path
	} else if e.Fd >= 0 {
		msg += " fd=" + strconv.Itoa(e.Fd)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the kind and the cause so errors.Is matches either.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}
