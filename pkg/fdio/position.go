package fdio

import (
	"io"
	"runtime"
)

// Offset returns the current offset from the start of the file. Fails with
// [ErrIO] (ESPIPE) on descriptors that cannot seek.
func (h *Handle) Offset() (int64, error) {
	return h.seek("seek", 0, io.SeekCurrent)
}

// SeekToEnd moves to end of file and returns the resulting offset.
func (h *Handle) SeekToEnd() (int64, error) {
	return h.seek("seek", 0, io.SeekEnd)
}

// SeekTo moves to an absolute offset. Seeking alone never changes the file
// size.
func (h *Handle) SeekTo(offset int64) error {
	_, err := h.seek("seek", offset, io.SeekStart)

	return err
}

// Seek implements [io.Seeker].
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	return h.seek("seek", offset, whence)
}

func (h *Handle) seek(op string, offset int64, whence int) (int64, error) {
	defer runtime.KeepAlive(h)

	fd, err := h.desc.value()
	if err != nil {
		return 0, h.closedError(op)
	}

	pos, err := h.sys.Seek(fd, offset, whence)
	if err != nil {
		return 0, h.opError(op, fd, ErrIO, err)
	}

	return pos, nil
}

// TruncateAt seeks to offset and truncates the file there.
//
// Truncation happens only if the seek lands exactly at offset and offset is
// not beyond the current end of file, so TruncateAt never grows a file. When
// it is skipped TruncateAt returns false and no error; the offset is left
// wherever the seek put it.
func (h *Handle) TruncateAt(offset int64) (bool, error) {
	defer runtime.KeepAlive(h)

	fd, err := h.desc.value()
	if err != nil {
		return false, h.closedError("truncate")
	}

	pos, err := h.sys.Seek(fd, offset, io.SeekStart)
	if err != nil {
		return false, h.opError("seek", fd, ErrIO, err)
	}

	if pos != offset {
		return false, nil
	}

	kind, size, err := h.stat(fd)
	if err != nil {
		return false, h.opError("fstat", fd, ErrMetadata, err)
	}

	if kind != KindRegular || offset > size {
		return false, nil
	}

	err = h.sys.Ftruncate(fd, offset)
	if err != nil {
		return false, h.opError("truncate", fd, ErrIO, err)
	}

	return true, nil
}

// Sync asks the OS to flush cached writes to durable storage. A failure is
// returned; what to do about it is the caller's decision.
func (h *Handle) Sync() error {
	defer runtime.KeepAlive(h)

	fd, err := h.desc.value()
	if err != nil {
		return h.closedError("sync")
	}

	err = h.sys.Fsync(fd)
	if err != nil {
		return h.opError("sync", fd, ErrIO, err)
	}

	return nil
}
