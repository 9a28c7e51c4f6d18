// Package fdiotest provides an in-memory [fdio.Sys] for deterministic tests.
//
// [Script] keeps a private descriptor table. Regular files are byte slices
// with per-descriptor offsets; streams are FIFOs of chunks where each read
// returns at most one chunk, so a test controls exactly how data arrives:
//
//	sys := fdiotest.NewScript()
//	fd := sys.AddStream([]byte("hello "), []byte("world"))
//	h := fdio.NewEngine(sys, fdio.Options{}).NewHandle(fd, true)
//	data, _ := h.ReadToEnd() // two read calls, then end of stream
//
// Script never blocks. Reading an empty pipe whose write end is still open
// returns EAGAIN.
package fdiotest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/calvinalkan/fdio/pkg/fdio"
	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// Call records one syscall made against a [Script].
type Call struct {
	Op  string
	Fd  int
	Len int
	N   int
	Err error
}

func (c Call) String() string {
	if c.Err != nil {
		return fmt.Sprintf("%s fd=%d len=%d err=%v", c.Op, c.Fd, c.Len, c.Err)
	}

	return fmt.Sprintf("%s fd=%d len=%d n=%d", c.Op, c.Fd, c.Len, c.N)
}

type node struct {
	data []byte
}

type stream struct {
	chunks      *queue.Queue
	pending     []byte
	writerOpen  bool
	readerOpen  bool
	hasWriteEnd bool
}

type entry struct {
	node   *node
	offset int64
	append bool

	stream   *stream
	writeEnd bool
}

// Script is an in-memory [fdio.Sys]. The zero value is not usable; call
// [NewScript].
//
// Script is safe for concurrent use.
type Script struct {
	mu       sync.Mutex
	next     int
	fds      map[int]*entry
	paths    map[string]*node
	failures map[string]*queue.Queue
	closes   map[int]int
	calls    []Call
	maxWrite int
	maxRead  int
}

// NewScript returns an empty Script. Descriptors start at 3.
func NewScript() *Script {
	return &Script{
		next:     3,
		fds:      make(map[int]*entry),
		paths:    make(map[string]*node),
		failures: make(map[string]*queue.Queue),
		closes:   make(map[int]int),
	}
}

// AddFile creates or replaces a regular file at path.
func (s *Script) AddFile(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paths[path] = &node{data: append([]byte(nil), data...)}
}

// Contents returns a copy of the file at path, or nil if it does not exist.
func (s *Script) Contents(path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.paths[path]
	if !ok {
		return nil
	}

	return append([]byte{}, n.data...)
}

// AddStream returns a read-only stream descriptor that yields chunks in order,
// at most one chunk per read, then end of stream.
func (s *Script) AddStream(chunks ...[]byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &stream{chunks: queue.New(), readerOpen: true}

	for _, c := range chunks {
		st.chunks.Add(append([]byte(nil), c...))
	}

	return s.allocFd(&entry{stream: st})
}

// FailNext makes the next call of op ("open", "read", "write", "seek",
// "fstat", "ftruncate", "fsync", "close", "pipe") return err without touching
// any state. Calls to FailNext for the same op queue up in order; a nil err
// lets that call through, which is how a test targets a later call.
//
// A failed close still releases the descriptor, like close(2).
func (s *Script) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.failures[op]
	if !ok {
		q = queue.New()
		s.failures[op] = q
	}

	q.Add(err)
}

// SetMaxWrite caps the bytes accepted by each write call, producing short
// writes. Zero removes the cap.
func (s *Script) SetMaxWrite(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxWrite = n
}

// SetMaxRead caps the bytes returned by each read call. Zero removes the cap.
func (s *Script) SetMaxRead(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxRead = n
}

// Calls returns a copy of all recorded calls.
func (s *Script) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Call(nil), s.calls...)
}

// CountCalls returns how many calls of op were made.
func (s *Script) CountCalls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, c := range s.calls {
		if c.Op == op {
			count++
		}
	}

	return count
}

// CloseCount returns how many close calls were made for fd.
func (s *Script) CloseCount(fd int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closes[fd]
}

// OpenFds returns the descriptors currently open, sorted.
func (s *Script) OpenFds() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	fds := make([]int, 0, len(s.fds))
	for fd := range s.fds {
		fds = append(fds, fd)
	}

	sort.Ints(fds)

	return fds
}

// Open opens a file added with [Script.AddFile], honoring O_CREAT, O_EXCL,
// O_TRUNC and O_APPEND.
func (s *Script) Open(path string, flag int, perm uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("open"); err != nil {
		s.record("open", -1, 0, -1, err)

		return -1, err
	}

	n, ok := s.paths[path]

	switch {
	case !ok && flag&unix.O_CREAT == 0:
		s.record("open", -1, 0, -1, unix.ENOENT)

		return -1, unix.ENOENT
	case ok && flag&unix.O_CREAT != 0 && flag&unix.O_EXCL != 0:
		s.record("open", -1, 0, -1, unix.EEXIST)

		return -1, unix.EEXIST
	case !ok:
		n = &node{}
		s.paths[path] = n
	}

	if flag&unix.O_TRUNC != 0 {
		n.data = n.data[:0]
	}

	fd := s.allocFd(&entry{node: n, append: flag&unix.O_APPEND != 0})
	s.record("open", fd, 0, fd, nil)

	return fd, nil
}

// Read implements [fdio.Sys].
func (s *Script) Read(fd int, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.read(fd, p)
	s.record("read", fd, len(p), n, err)

	return n, err
}

func (s *Script) read(fd int, p []byte) (int, error) {
	if err := s.failure("read"); err != nil {
		return -1, err
	}

	e, ok := s.fds[fd]
	if !ok || e.writeEnd {
		return -1, unix.EBADF
	}

	if s.maxRead > 0 && len(p) > s.maxRead {
		p = p[:s.maxRead]
	}

	if e.node != nil {
		if e.offset >= int64(len(e.node.data)) {
			return 0, nil
		}

		n := copy(p, e.node.data[e.offset:])
		e.offset += int64(n)

		return n, nil
	}

	st := e.stream

	if len(st.pending) == 0 && st.chunks.Length() > 0 {
		st.pending = st.chunks.Remove().([]byte)
	}

	if len(st.pending) == 0 {
		if st.hasWriteEnd && st.writerOpen {
			return -1, unix.EAGAIN
		}

		return 0, nil
	}

	n := copy(p, st.pending)
	st.pending = st.pending[n:]

	return n, nil
}

// Write implements [fdio.Sys].
func (s *Script) Write(fd int, p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.write(fd, p)
	s.record("write", fd, len(p), n, err)

	return n, err
}

func (s *Script) write(fd int, p []byte) (int, error) {
	if err := s.failure("write"); err != nil {
		return -1, err
	}

	e, ok := s.fds[fd]
	if !ok {
		return -1, unix.EBADF
	}

	if s.maxWrite > 0 && len(p) > s.maxWrite {
		p = p[:s.maxWrite]
	}

	if e.node != nil {
		if e.append {
			e.offset = int64(len(e.node.data))
		}

		end := e.offset + int64(len(p))
		if end > int64(len(e.node.data)) {
			grown := make([]byte, end)
			copy(grown, e.node.data)
			e.node.data = grown
		}

		copy(e.node.data[e.offset:], p)
		e.offset = end

		return len(p), nil
	}

	if !e.writeEnd {
		return -1, unix.EBADF
	}

	if !e.stream.readerOpen {
		return -1, unix.EPIPE
	}

	if len(p) > 0 {
		e.stream.chunks.Add(append([]byte(nil), p...))
	}

	return len(p), nil
}

// Seek implements [fdio.Sys]. Streams fail with ESPIPE. Seeking past end of
// file is allowed and does not change the size.
func (s *Script) Seek(fd int, offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.seek(fd, offset, whence)
	s.record("seek", fd, 0, int(pos), err)

	return pos, err
}

func (s *Script) seek(fd int, offset int64, whence int) (int64, error) {
	if err := s.failure("seek"); err != nil {
		return -1, err
	}

	e, ok := s.fds[fd]
	if !ok {
		return -1, unix.EBADF
	}

	if e.node == nil {
		return -1, unix.ESPIPE
	}

	var base int64

	switch whence {
	case 0:
	case 1:
		base = e.offset
	case 2:
		base = int64(len(e.node.data))
	default:
		return -1, unix.EINVAL
	}

	pos := base + offset
	if pos < 0 {
		return -1, unix.EINVAL
	}

	e.offset = pos

	return pos, nil
}

// Fstat implements [fdio.Sys]. Regular files report S_IFREG and their size,
// streams S_IFIFO.
func (s *Script) Fstat(fd int, st *unix.Stat_t) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.fstat(fd, st)
	s.record("fstat", fd, 0, 0, err)

	return err
}

func (s *Script) fstat(fd int, st *unix.Stat_t) error {
	if err := s.failure("fstat"); err != nil {
		return err
	}

	e, ok := s.fds[fd]
	if !ok {
		return unix.EBADF
	}

	*st = unix.Stat_t{}

	if e.node != nil {
		st.Mode = unix.S_IFREG | 0o644
		st.Size = int64(len(e.node.data))

		return nil
	}

	st.Mode = unix.S_IFIFO | 0o600

	return nil
}

// Ftruncate implements [fdio.Sys].
func (s *Script) Ftruncate(fd int, length int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ftruncate(fd, length)
	s.record("ftruncate", fd, int(length), 0, err)

	return err
}

func (s *Script) ftruncate(fd int, length int64) error {
	if err := s.failure("ftruncate"); err != nil {
		return err
	}

	e, ok := s.fds[fd]
	if !ok {
		return unix.EBADF
	}

	if e.node == nil || length < 0 {
		return unix.EINVAL
	}

	if length <= int64(len(e.node.data)) {
		e.node.data = e.node.data[:length]

		return nil
	}

	grown := make([]byte, length)
	copy(grown, e.node.data)
	e.node.data = grown

	return nil
}

// Fsync implements [fdio.Sys].
func (s *Script) Fsync(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.failure("fsync")
	if err == nil {
		e, ok := s.fds[fd]

		switch {
		case !ok:
			err = unix.EBADF
		case e.node == nil:
			err = unix.EINVAL
		}
	}

	s.record("fsync", fd, 0, 0, err)

	return err
}

// Close implements [fdio.Sys]. The descriptor is released even when a queued
// failure is returned.
func (s *Script) Close(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closes[fd]++

	e, ok := s.fds[fd]
	if !ok {
		s.record("close", fd, 0, 0, unix.EBADF)

		return unix.EBADF
	}

	delete(s.fds, fd)

	if e.stream != nil {
		if e.writeEnd {
			e.stream.writerOpen = false
		} else {
			e.stream.readerOpen = false
		}
	}

	err := s.failure("close")
	s.record("close", fd, 0, 0, err)

	return err
}

// Pipe implements [fdio.Sys]. Writes to the write end become chunks readable
// from the read end.
func (s *Script) Pipe() (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("pipe"); err != nil {
		s.record("pipe", -1, 0, 0, err)

		return -1, -1, err
	}

	st := &stream{chunks: queue.New(), readerOpen: true, writerOpen: true, hasWriteEnd: true}

	r := s.allocFd(&entry{stream: st})
	w := s.allocFd(&entry{stream: st, writeEnd: true})

	s.record("pipe", r, 0, w, nil)

	return r, w, nil
}

func (s *Script) allocFd(e *entry) int {
	fd := s.next
	s.next++
	s.fds[fd] = e

	return fd
}

func (s *Script) failure(op string) error {
	q, ok := s.failures[op]
	if !ok || q.Length() == 0 {
		return nil
	}

	err, _ := q.Remove().(error)

	return err
}

func (s *Script) record(op string, fd, length, n int, err error) {
	s.calls = append(s.calls, Call{Op: op, Fd: fd, Len: length, N: n, Err: err})
}

var _ fdio.Sys = (*Script)(nil)
