package fdio

import (
	"os"
	"sync"
)

// DefaultChunkSize is the initial stream buffer capacity and the largest
// single read request issued against a stream.
const DefaultChunkSize = 8 * 1024

// Options tunes read buffering.
//
// The zero value is valid and selects the defaults.
type Options struct {
	// ChunkSize is the initial buffer capacity for streams and the upper
	// bound of each read call on a stream. Default: [DefaultChunkSize].
	ChunkSize int

	// MaxBufferSize caps the buffer a single read may allocate. Reads that
	// would need more fail with [ErrAllocation]. Zero means unlimited.
	MaxBufferSize int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize}
}

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}

	if o.MaxBufferSize < 0 {
		o.MaxBufferSize = 0
	}

	return o
}

// Engine creates handles and pipes over a [Sys].
//
// Engine has no mutable state and is safe for concurrent use as long as its
// [Sys] is.
type Engine struct {
	sys  Sys
	opts Options
}

// NewEngine creates an Engine. Panics if sys is nil.
func NewEngine(sys Sys, opts Options) *Engine {
	if sys == nil {
		panic("sys is nil")
	}

	return &Engine{sys: sys, opts: opts.normalized()}
}

// Sys returns the syscall layer handles of this engine use.
func (e *Engine) Sys() Sys {
	return e.sys
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// NewHandle wraps an existing descriptor. If owns is true the handle closes fd
// on [Handle.Close] or when it becomes unreachable; otherwise fd is never
// closed through the handle.
func (e *Engine) NewHandle(fd int, owns bool) *Handle {
	return newHandle(e, fd, owns, "")
}

// OpenFile opens path with the given flags ([os.O_RDONLY], [os.O_WRONLY],
// [os.O_RDWR], optionally combined with [os.O_CREATE], [os.O_TRUNC],
// [os.O_APPEND], [os.O_EXCL]) and creation mode. The returned handle owns its
// descriptor.
//
// The initial offset is whatever open(2) produces.
func (e *Engine) OpenFile(path string, flag int, perm os.FileMode) (*Handle, error) {
	fd, err := e.sys.Open(path, flag, uint32(perm.Perm()))
	if err != nil {
		return nil, &OpError{Op: "open", Fd: -1, Path: path, Kind: ErrIO, Err: err}
	}

	return newHandle(e, fd, true, path), nil
}

// OpenForReading opens an existing file read-only.
func (e *Engine) OpenForReading(path string) (*Handle, error) {
	return e.OpenFile(path, os.O_RDONLY, 0)
}

// OpenForWriting opens an existing file write-only.
func (e *Engine) OpenForWriting(path string) (*Handle, error) {
	return e.OpenFile(path, os.O_WRONLY, 0)
}

// OpenForUpdating opens an existing file for reading and writing.
func (e *Engine) OpenForUpdating(path string) (*Handle, error) {
	return e.OpenFile(path, os.O_RDWR, 0)
}

// NewPipe creates a pipe with a single pipe call. Both ends own their
// descriptors. If the call fails no descriptors exist and the error wraps
// [ErrIO].
func (e *Engine) NewPipe() (*Pipe, error) {
	r, w, err := e.sys.Pipe()
	if err != nil {
		return nil, &OpError{Op: "pipe", Fd: -1, Kind: ErrIO, Err: err}
	}

	return &Pipe{
		r: newHandle(e, r, true, ""),
		w: newHandle(e, w, true, ""),
	}, nil
}

var defaultEngine = sync.OnceValue(func() *Engine {
	return NewEngine(NewReal(), DefaultOptions())
})

// Default returns the process-wide engine over [Real] with [DefaultOptions].
func Default() *Engine {
	return defaultEngine()
}

// NewHandle wraps fd using the default engine. See [Engine.NewHandle].
func NewHandle(fd int, owns bool) *Handle {
	return Default().NewHandle(fd, owns)
}

// OpenFile opens path using the default engine. See [Engine.OpenFile].
func OpenFile(path string, flag int, perm os.FileMode) (*Handle, error) {
	return Default().OpenFile(path, flag, perm)
}

// OpenForReading opens path read-only using the default engine.
func OpenForReading(path string) (*Handle, error) {
	return Default().OpenForReading(path)
}

// OpenForWriting opens path write-only using the default engine.
func OpenForWriting(path string) (*Handle, error) {
	return Default().OpenForWriting(path)
}

// OpenForUpdating opens path read-write using the default engine.
func OpenForUpdating(path string) (*Handle, error) {
	return Default().OpenForUpdating(path)
}

// NewPipe creates a pipe using the default engine. See [Engine.NewPipe].
func NewPipe() (*Pipe, error) {
	return Default().NewPipe()
}

// Standard streams. Each is constructed once on first use and never owns its
// descriptor.
var (
	stdin  = sync.OnceValue(func() *Handle { return Default().NewHandle(0, false) })
	stdout = sync.OnceValue(func() *Handle { return Default().NewHandle(1, false) })
	stderr = sync.OnceValue(func() *Handle { return Default().NewHandle(2, false) })
)

// Stdin returns the non-owning handle for descriptor 0.
func Stdin() *Handle { return stdin() }

// Stdout returns the non-owning handle for descriptor 1.
func Stdout() *Handle { return stdout() }

// Stderr returns the non-owning handle for descriptor 2.
func Stderr() *Handle { return stderr() }
