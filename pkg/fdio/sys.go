package fdio

import (
	"golang.org/x/sys/unix"
)

// Sys is the syscall layer used by the engine.
//
// Every method mirrors the corresponding golang.org/x/sys/unix function:
// errors are returned as [syscall.Errno] values, Read returns (0, nil) at end
// of stream, and Fstat fills a [unix.Stat_t]. Implementations in this module:
//   - [Real]: production use, passes through to golang.org/x/sys/unix
//   - [Chaos]: testing use, injects random failures into another Sys
//   - fdiotest.Script: testing use, an in-memory descriptor table
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Sys interface {
	// Open opens path and returns a new descriptor. See open(2).
	Open(path string, flag int, perm uint32) (int, error)

	// Read reads up to len(p) bytes. See read(2).
	Read(fd int, p []byte) (int, error)

	// Write writes up to len(p) bytes and may write fewer. See write(2).
	Write(fd int, p []byte) (int, error)

	// Seek repositions the offset. See lseek(2).
	Seek(fd int, offset int64, whence int) (int64, error)

	// Fstat fills st with metadata for fd. See fstat(2).
	Fstat(fd int, st *unix.Stat_t) error

	// Ftruncate sets the size of the file behind fd. See ftruncate(2).
	Ftruncate(fd int, length int64) error

	// Fsync flushes cached writes to durable storage. See fsync(2).
	Fsync(fd int) error

	// Close releases fd. See close(2).
	Close(fd int) error

	// Pipe creates a pipe and returns its read and write ends. See pipe(2).
	// Descriptors are created close-on-exec.
	Pipe() (r, w int, err error)
}

// Real implements [Sys] using the real kernel.
//
// All methods are pure passthroughs to golang.org/x/sys/unix with identical
// error semantics. The only exception is [Real.Pipe], which sets
// close-on-exec on platforms without pipe2.
type Real struct{}

// NewReal returns a new [Real] syscall layer.
func NewReal() *Real {
	return &Real{}
}

// A passthrough wrapper for [unix.Open].
func (*Real) Open(path string, flag int, perm uint32) (int, error) {
	return unix.Open(path, flag|unix.O_CLOEXEC, perm)
}

// A passthrough wrapper for [unix.Read].
func (*Real) Read(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

// A passthrough wrapper for [unix.Write].
func (*Real) Write(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

// A passthrough wrapper for [unix.Seek].
func (*Real) Seek(fd int, offset int64, whence int) (int64, error) {
	return unix.Seek(fd, offset, whence)
}

// A passthrough wrapper for [unix.Fstat].
func (*Real) Fstat(fd int, st *unix.Stat_t) error {
	return unix.Fstat(fd, st)
}

// A passthrough wrapper for [unix.Ftruncate].
func (*Real) Ftruncate(fd int, length int64) error {
	return unix.Ftruncate(fd, length)
}

// A passthrough wrapper for [unix.Fsync].
func (*Real) Fsync(fd int) error {
	return unix.Fsync(fd)
}

// A passthrough wrapper for [unix.Close].
func (*Real) Close(fd int) error {
	return unix.Close(fd)
}

// Pipe creates a close-on-exec pipe. See pipe_linux.go and pipe_unix.go.
func (*Real) Pipe() (int, int, error) {
	return pipeCloexec()
}

// Compile-time interface check.
var _ Sys = (*Real)(nil)
