package fdio

import (
	"runtime"
)

// Handle is one open file descriptor.
//
// A Handle either owns its descriptor or merely borrows it. Owning handles
// close the descriptor on [Handle.Close], or when the Handle becomes
// unreachable if Close was never called. Borrowed descriptors (for example the
// standard streams) are never closed through the Handle.
//
// After Close every read, write and positioning method fails with [ErrClosed].
//
// A Handle implements [io.Reader], [io.Writer], [io.Seeker] and [io.Closer].
type Handle struct {
	sys  Sys
	opts Options
	desc *descriptor
	path string

	cleanup    runtime.Cleanup
	hasCleanup bool
}

func newHandle(e *Engine, fd int, owns bool, path string) *Handle {
	h := &Handle{
		sys:  e.sys,
		opts: e.opts,
		desc: newDescriptor(e.sys, fd, owns),
		path: path,
	}

	if owns {
		h.cleanup = runtime.AddCleanup(h, (*descriptor).release, h.desc)
		h.hasCleanup = true
	}

	return h
}

// Fd returns the raw descriptor for diagnostics and interop, or -1 after
// [Handle.Close].
func (h *Handle) Fd() int {
	fd, err := h.desc.value()
	if err != nil {
		return -1
	}

	return fd
}

// Owned reports whether the handle closes its descriptor.
func (h *Handle) Owned() bool {
	return h.desc.owns
}

// Path returns the path the handle was opened from, or "" for handles created
// from a descriptor or a pipe.
func (h *Handle) Path() string {
	return h.path
}

// Closed reports whether [Handle.Close] has been called.
func (h *Handle) Closed() bool {
	return h.desc.isClosed()
}

// Close closes the descriptor if the handle owns it and marks the handle
// closed.
//
// Close is idempotent. It always returns nil: an error from close(2) leaves
// the descriptor released all the same and retrying is never correct. The
// error return exists to satisfy [io.Closer].
func (h *Handle) Close() error {
	if h.hasCleanup {
		h.cleanup.Stop()
	}

	_ = h.desc.close()

	return nil
}

func (h *Handle) opError(op string, fd int, kind, err error) error {
	return &OpError{Op: op, Fd: fd, Path: h.path, Kind: kind, Err: err}
}

func (h *Handle) closedError(op string) error {
	return &OpError{Op: op, Fd: -1, Path: h.path, Kind: ErrClosed}
}

// Kind classifies what the descriptor refers to.
type Kind uint8

const (
	// KindStream is a pipe, socket, FIFO, character device or anything else
	// without a defined size.
	KindStream Kind = iota

	// KindRegular is a seekable regular file with a defined size.
	KindRegular
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Kind reports whether the descriptor refers to a regular file or a stream.
func (h *Handle) Kind() (Kind, error) {
	defer runtime.KeepAlive(h)

	fd, err := h.desc.value()
	if err != nil {
		return KindStream, h.closedError("fstat")
	}

	kind, _, err := h.stat(fd)
	if err != nil {
		return KindStream, h.opError("fstat", fd, ErrMetadata, err)
	}

	return kind, nil
}
