package fdio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"

	"golang.org/x/sys/unix"
)

// ReadAll is the requested length meaning "until end of stream".
const ReadAll = math.MaxInt

// AvailableData reads what is available now.
//
// On a stream this issues a single read of at most [Options.ChunkSize] bytes
// and blocks only until that read returns. On a regular file it reads
// everything from the current offset to end of file. An empty result means
// end of stream.
func (h *Handle) AvailableData() ([]byte, error) {
	return h.read("read", ReadAll, false)
}

// ReadToEnd reads until end of stream.
func (h *Handle) ReadToEnd() ([]byte, error) {
	return h.read("read", ReadAll, true)
}

// ReadUpTo reads exactly n bytes, or fewer only if end of stream comes first.
// Fails with [ErrInvalidLength] if n is negative.
func (h *Handle) ReadUpTo(n int) ([]byte, error) {
	return h.read("read", n, true)
}

// Read implements [io.Reader] with a single read call. It returns [io.EOF]
// when the call reports end of stream.
func (h *Handle) Read(p []byte) (int, error) {
	defer runtime.KeepAlive(h)

	fd, err := h.desc.value()
	if err != nil {
		return 0, h.closedError("read")
	}

	if len(p) == 0 {
		return 0, nil
	}

	n, err := h.readOnce(fd, p)
	if err != nil {
		return 0, h.opError("read", fd, ErrIO, err)
	}

	if n == 0 {
		return 0, io.EOF
	}

	return n, nil
}

// read fills a buffer with up to length bytes. With untilEOF false a stream
// is read once; a regular file is always filled.
//
// On error no buffer is returned. With zero bytes read the result is an empty
// slice with no backing allocation retained.
func (h *Handle) read(op string, length int, untilEOF bool) ([]byte, error) {
	if length < 0 {
		return nil, h.opError(op, -1, ErrInvalidLength, nil)
	}

	defer runtime.KeepAlive(h)

	fd, err := h.desc.value()
	if err != nil {
		return nil, h.closedError(op)
	}

	kind, size, err := h.stat(fd)
	if err != nil {
		return nil, h.opError("fstat", fd, ErrMetadata, err)
	}

	var buf *readBuffer

	switch kind {
	case KindRegular:
		buf, err = h.readRegular(op, fd, size, length)
	default:
		buf, err = h.readStream(op, fd, length, untilEOF)
	}

	if err != nil {
		return nil, err
	}

	if buf.filled() == 0 {
		buf.release()

		return []byte{}, nil
	}

	if length == ReadAll {
		buf.shrinkToFit()
	}

	return buf.bytes(), nil
}

// readRegular allocates exactly the bytes between the current offset and end
// of file (clamped to length) and reads until full or end of file.
func (h *Handle) readRegular(op string, fd int, size int64, length int) (*readBuffer, error) {
	buf := newReadBuffer(0, h.opts.MaxBufferSize)

	offset, err := h.sys.Seek(fd, 0, io.SeekCurrent)
	if err != nil {
		return nil, h.opError("seek", fd, ErrIO, err)
	}

	if size <= offset {
		return buf, nil
	}

	remaining := size - offset
	if remaining > int64(length) {
		remaining = int64(length)
	}

	err = buf.allocExact(int(remaining))
	if err != nil {
		return nil, h.opError(op, fd, ErrAllocation, err)
	}

	for buf.filled() < buf.capacity() {
		n, err := h.readOnce(fd, buf.free())
		if err != nil {
			buf.release()

			return nil, h.opError(op, fd, ErrIO, err)
		}

		if n == 0 {
			break
		}

		buf.advance(n)
	}

	return buf, nil
}

// readStream reads in chunks of at most ChunkSize, doubling the buffer when
// the free space cannot hold the next chunk.
func (h *Handle) readStream(op string, fd int, length int, untilEOF bool) (*readBuffer, error) {
	chunk := h.opts.ChunkSize
	buf := newReadBuffer(chunk, h.opts.MaxBufferSize)
	remaining := length

	for remaining > 0 {
		amount := min(chunk, remaining)

		if limit := h.opts.MaxBufferSize; limit > 0 {
			amount = min(amount, limit-buf.filled())
		}

		if amount == 0 {
			more, err := h.probe(fd)
			if err != nil {
				buf.release()

				return nil, h.opError(op, fd, ErrIO, err)
			}

			if !more {
				break
			}

			buf.release()

			return nil, h.opError(op, fd, ErrAllocation,
				fmt.Errorf("stream exceeds limit %d", h.opts.MaxBufferSize))
		}

		err := buf.reserve(amount)
		if err != nil {
			buf.release()

			return nil, h.opError(op, fd, ErrAllocation, err)
		}

		n, err := h.readOnce(fd, buf.free()[:amount])
		if err != nil {
			buf.release()

			return nil, h.opError(op, fd, ErrIO, err)
		}

		if n == 0 {
			break
		}

		buf.advance(n)
		remaining -= n

		if buf.filled() == length || !untilEOF {
			break
		}
	}

	return buf, nil
}

// probe reads a single byte to tell a stream that ended exactly at the buffer
// limit from one that has more. The byte is discarded.
func (h *Handle) probe(fd int) (bool, error) {
	var b [1]byte

	n, err := h.readOnce(fd, b[:])
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

// readOnce issues one read, retrying only when interrupted by a signal.
func (h *Handle) readOnce(fd int, p []byte) (int, error) {
	for {
		n, err := h.sys.Read(fd, p)
		if err == nil {
			return max(n, 0), nil
		}

		if !errors.Is(err, unix.EINTR) {
			return 0, err
		}
	}
}

// stat classifies fd and returns the size of regular files.
func (h *Handle) stat(fd int) (Kind, int64, error) {
	var st unix.Stat_t

	err := h.sys.Fstat(fd, &st)
	if err != nil {
		return KindStream, 0, err
	}

	if st.Mode&unix.S_IFMT == unix.S_IFREG {
		return KindRegular, st.Size, nil
	}

	return KindStream, 0, nil
}
