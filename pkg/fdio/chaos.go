package fdio

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection. Partially initialized configs
// only inject faults for the specified rates; unset fields default to 0.0.
//
// Fault injection is enabled by default ([ChaosModeActive]). Use
// [Chaos.SetMode] with [ChaosModeNoOp] to disable injection and pass
// all calls through to the underlying [Sys].
type ChaosConfig struct {
	// OpenFailRate controls how often Open fails. Read-only opens return
	// EACCES, EIO, EMFILE, ENFILE or ENOTDIR; opens for writing add ENOSPC,
	// EDQUOT and EROFS.
	OpenFailRate float64

	// ReadFailRate controls how often Read fails with EIO, reading nothing.
	ReadFailRate float64

	// PartialReadRate controls how often Read is limited to a random prefix of
	// the requested length. This is a legal read(2) outcome, not an error, and
	// tests that callers loop.
	PartialReadRate float64

	// InterruptRate controls how often Read and Write fail with EINTR before
	// touching the underlying descriptor. Must be below 1.0 for callers that
	// retry EINTR to make progress.
	InterruptRate float64

	// WriteFailRate controls how often Write fails entirely with EIO, ENOSPC,
	// EDQUOT or EROFS, writing nothing.
	WriteFailRate float64

	// PartialWriteRate controls how often Write writes only a random prefix
	// and returns that count with a nil error, like write(2) on a full pipe or
	// socket buffer.
	PartialWriteRate float64

	// StatFailRate controls how often Fstat fails with EIO.
	StatFailRate float64

	// SeekFailRate controls how often Seek fails with EIO.
	SeekFailRate float64

	// TruncateFailRate controls how often Ftruncate fails with EIO, EPERM or
	// EROFS.
	TruncateFailRate float64

	// SyncFailRate controls how often Fsync fails. Returns EIO, ENOSPC,
	// EDQUOT or EROFS. Sync failures can surface delayed write errors that
	// weren't reported during Write.
	SyncFailRate float64

	// CloseFailRate controls how often Close reports EIO. The underlying
	// descriptor is always closed, even when an error is returned.
	CloseFailRate float64

	// PipeFailRate controls how often Pipe fails with EMFILE or ENFILE. No
	// descriptors are created when it fails.
	PipeFailRate float64

	// TraceCapacity is the max number of calls to keep in the trace log.
	// Set to 0 (default) to disable tracing. Tracing records all calls,
	// including those where Chaos altered behavior without returning an error
	// (e.g., short reads with nil error).
	TraceCapacity int
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every call directly to the underlying Sys.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	ReadFails     int64
	PartialReads  int64
	Interrupts    int64
	WriteFails    int64
	PartialWrites int64
	StatFails     int64
	SeekFails     int64
	TruncateFails int64
	SyncFails     int64
	CloseFails    int64
	PipeFails     int64
}

// Total returns the total number of injected faults.
func (s ChaosStats) Total() int64 {
	return s.OpenFails + s.ReadFails + s.PartialReads + s.Interrupts +
		s.WriteFails + s.PartialWrites + s.StatFails + s.SeekFails +
		s.TruncateFails + s.SyncFails + s.CloseFails + s.PipeFails
}

// chaosError marks an error as intentionally injected by [Chaos].
//
// It wraps a [syscall.Errno] so errors.Is keeps matching the errno, while
// [IsChaosErr] can still distinguish chaos from real kernel errors in tests.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
// Returns false if err is nil.
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps a [Sys] and injects random failures for testing.
//
// The fault model matches the surface semantics of the syscalls on Unix-ish
// systems. It is a "real kernel + fault injection" wrapper, not a simulator:
// each call independently decides whether to inject.
//
// Error model:
//   - Injected errors are [syscall.Errno] values wrapped so [IsChaosErr]
//     identifies them and [errors.Is] still matches the errno.
//   - Chaos never injects ENOENT or EBADF. Missing paths and bad descriptors
//     come from the wrapped Sys.
//   - EINTR is only injected through [ChaosConfig.InterruptRate].
//
// Return-shape constraints:
//   - Read failures return n==0. Short reads return a prefix with a nil error
//     by limiting the underlying read, so no bytes are skipped.
//   - Write failures return n==0. Partial writes write a prefix and return
//     its length with a nil error.
//   - Close always closes the underlying descriptor, even when it reports an
//     injected error.
//   - Pipe failures create no descriptors.
//
// Use [Chaos.SetMode] to control behavior and [Chaos.Stats] to inspect how many
// faults were injected.
type Chaos struct {
	sys    Sys
	rng    *rand.Rand
	config ChaosConfig
	mode   atomic.Uint32
	trace  *chaosTrace

	rngMu sync.Mutex

	openFails     atomic.Int64
	readFails     atomic.Int64
	partialReads  atomic.Int64
	interrupts    atomic.Int64
	writeFails    atomic.Int64
	partialWrites atomic.Int64
	statFails     atomic.Int64
	seekFails     atomic.Int64
	truncateFails atomic.Int64
	syncFails     atomic.Int64
	closeFails    atomic.Int64
	pipeFails     atomic.Int64
}

// NewChaos creates a new [Chaos] wrapping the given [Sys].
// The seed controls random fault injection for reproducibility.
// Panics if underlying is nil.
func NewChaos(underlying Sys, seed int64, config ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying sys is nil")
	}

	return &Chaos{
		sys:    underlying,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		config: config,
		trace:  newChaosTrace(config.TraceCapacity),
	}
}

// SetMode updates [Chaos] behavior. Safe to call concurrently with syscalls.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Trace returns a formatted string of recent calls.
// Returns an empty string if tracing is disabled (TraceCapacity == 0).
func (c *Chaos) Trace() string {
	return c.trace.String()
}

// TraceEvents returns a snapshot of the trace buffer.
// Returns nil if tracing is disabled (TraceCapacity == 0).
func (c *Chaos) TraceEvents() []TraceEvent {
	return c.trace.snapshot()
}

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		ReadFails:     c.readFails.Load(),
		PartialReads:  c.partialReads.Load(),
		Interrupts:    c.interrupts.Load(),
		WriteFails:    c.writeFails.Load(),
		PartialWrites: c.partialWrites.Load(),
		StatFails:     c.statFails.Load(),
		SeekFails:     c.seekFails.Load(),
		TruncateFails: c.truncateFails.Load(),
		SyncFails:     c.syncFails.Load(),
		CloseFails:    c.closeFails.Load(),
		PipeFails:     c.pipeFails.Load(),
	}
}

// Open opens path with fault injection.
func (c *Chaos) Open(path string, flag int, perm uint32) (int, error) {
	attrs := []TraceAttr{{"flag", fmt.Sprintf("%#x", flag)}}

	writeOpen := flag&(unix.O_WRONLY|unix.O_RDWR|unix.O_APPEND|unix.O_CREAT|unix.O_TRUNC) != 0

	errnos := []unix.Errno{unix.EACCES, unix.EIO, unix.EMFILE, unix.ENFILE, unix.ENOTDIR}
	if writeOpen {
		errnos = append(errnos, unix.ENOSPC, unix.EDQUOT, unix.EROFS)
	}

	mode := c.getMode()
	if c.should(mode, c.config.OpenFailRate) {
		c.openFails.Add(1)

		err := c.inject(errnos)
		c.trace.add("open", -1, path, "fail", err, true, attrs...)

		return -1, err
	}

	fd, err := c.sys.Open(path, flag, perm)

	c.trace.add("open", fd, path, boolKind(err == nil), err, false, attrs...)

	return fd, err
}

// Read reads with fault injection.
func (c *Chaos) Read(fd int, p []byte) (int, error) {
	mode := c.getMode()

	if c.should(mode, c.config.InterruptRate) {
		c.interrupts.Add(1)

		err := &chaosError{Err: unix.EINTR}
		c.trace.add("read", fd, "", "interrupt", err, true)

		return -1, err
	}

	if c.should(mode, c.config.ReadFailRate) {
		c.readFails.Add(1)

		err := &chaosError{Err: unix.EIO}
		c.trace.add("read", fd, "", "fail", err, true)

		return -1, err
	}

	// Short read: limit the underlying read instead of shrinking the returned
	// count, otherwise the offset advances past bytes the caller never sees.
	if c.should(mode, c.config.PartialReadRate) && len(p) > 1 {
		c.partialReads.Add(1)
		cutoff := c.randIntn(len(p)-1) + 1

		n, err := c.sys.Read(fd, p[:cutoff])

		c.trace.add("read", fd, "", "short_read", err, true,
			TraceAttr{"n", strconv.Itoa(n)},
			TraceAttr{"requested", strconv.Itoa(len(p))})

		return n, err
	}

	n, err := c.sys.Read(fd, p)

	c.trace.add("read", fd, "", boolKind(err == nil), err, false,
		TraceAttr{"n", strconv.Itoa(n)})

	return n, err
}

// Write writes with fault injection.
func (c *Chaos) Write(fd int, p []byte) (int, error) {
	mode := c.getMode()

	if c.should(mode, c.config.InterruptRate) {
		c.interrupts.Add(1)

		err := &chaosError{Err: unix.EINTR}
		c.trace.add("write", fd, "", "interrupt", err, true)

		return -1, err
	}

	if c.should(mode, c.config.WriteFailRate) {
		c.writeFails.Add(1)

		err := c.inject([]unix.Errno{unix.EIO, unix.ENOSPC, unix.EDQUOT, unix.EROFS})
		c.trace.add("write", fd, "", "fail", err, true)

		return -1, err
	}

	if c.should(mode, c.config.PartialWriteRate) && len(p) > 1 {
		c.partialWrites.Add(1)
		cutoff := c.randIntn(len(p)-1) + 1

		n, err := c.sys.Write(fd, p[:cutoff])

		c.trace.add("write", fd, "", "short_write", err, true,
			TraceAttr{"n", strconv.Itoa(n)},
			TraceAttr{"requested", strconv.Itoa(len(p))})

		return n, err
	}

	n, err := c.sys.Write(fd, p)

	c.trace.add("write", fd, "", boolKind(err == nil), err, false,
		TraceAttr{"n", strconv.Itoa(n)})

	return n, err
}

// Seek repositions with fault injection.
func (c *Chaos) Seek(fd int, offset int64, whence int) (int64, error) {
	err := c.introduceChaos(fd, faultSeek)
	if err != nil {
		return -1, err
	}

	pos, err := c.sys.Seek(fd, offset, whence)

	c.trace.add("seek", fd, "", boolKind(err == nil), err, false,
		TraceAttr{"offset", strconv.FormatInt(offset, 10)},
		TraceAttr{"whence", strconv.Itoa(whence)},
		TraceAttr{"pos", strconv.FormatInt(pos, 10)})

	return pos, err
}

// Fstat returns metadata with fault injection.
func (c *Chaos) Fstat(fd int, st *unix.Stat_t) error {
	err := c.introduceChaos(fd, faultStat)
	if err != nil {
		return err
	}

	err = c.sys.Fstat(fd, st)

	c.trace.add("fstat", fd, "", boolKind(err == nil), err, false)

	return err
}

// Ftruncate truncates with fault injection.
func (c *Chaos) Ftruncate(fd int, length int64) error {
	err := c.introduceChaos(fd, faultTruncate)
	if err != nil {
		return err
	}

	err = c.sys.Ftruncate(fd, length)

	c.trace.add("ftruncate", fd, "", boolKind(err == nil), err, false,
		TraceAttr{"length", strconv.FormatInt(length, 10)})

	return err
}

// Fsync syncs with fault injection.
func (c *Chaos) Fsync(fd int) error {
	err := c.introduceChaos(fd, faultSync)
	if err != nil {
		return err
	}

	err = c.sys.Fsync(fd)

	c.trace.add("fsync", fd, "", boolKind(err == nil), err, false)

	return err
}

// Close closes fd and may then report an injected error.
func (c *Chaos) Close(fd int) error {
	injectClose := c.should(c.getMode(), c.config.CloseFailRate)

	// Always close the underlying descriptor to avoid leaks, even when
	// returning an injected error.
	err := c.sys.Close(fd)
	if err != nil {
		c.trace.add("close", fd, "", "fail", err, false)

		return err
	}

	if injectClose {
		c.closeFails.Add(1)

		err := &chaosError{Err: unix.EIO}
		c.trace.add("close", fd, "", "fail", err, true)

		return err
	}

	c.trace.add("close", fd, "", "ok", nil, false)

	return nil
}

// Pipe creates a pipe with fault injection.
func (c *Chaos) Pipe() (int, int, error) {
	if c.should(c.getMode(), c.config.PipeFailRate) {
		c.pipeFails.Add(1)

		err := c.inject([]unix.Errno{unix.EMFILE, unix.ENFILE})
		c.trace.add("pipe", -1, "", "fail", err, true)

		return -1, -1, err
	}

	r, w, err := c.sys.Pipe()

	c.trace.add("pipe", r, "", boolKind(err == nil), err, false,
		TraceAttr{"w", strconv.Itoa(w)})

	return r, w, err
}

func (c *Chaos) getMode() ChaosMode {
	v := c.mode.Load()
	if v > uint32(ChaosModeNoOp) {
		return ChaosModeActive
	}

	return ChaosMode(v)
}

// faultKind identifies a descriptor fault. The value is the syscall name used
// in traces.
type faultKind string

const (
	faultSeek     faultKind = "seek"
	faultStat     faultKind = "fstat"
	faultTruncate faultKind = "ftruncate"
	faultSync     faultKind = "fsync"
)

// introduceChaos checks if a fault should be injected for the given call.
// Returns a non-nil error if a fault was injected, nil otherwise.
func (c *Chaos) introduceChaos(fd int, kind faultKind) error {
	mode := c.getMode()
	if mode != ChaosModeActive {
		return nil
	}

	var (
		rate    float64
		counter *atomic.Int64
		errnos  []unix.Errno
	)

	switch kind {
	case faultSeek:
		// EIO: I/O error
		rate = c.config.SeekFailRate
		counter = &c.seekFails
		errnos = []unix.Errno{unix.EIO}

	case faultStat:
		// EIO: I/O error
		rate = c.config.StatFailRate
		counter = &c.statFails
		errnos = []unix.Errno{unix.EIO}

	case faultTruncate:
		// EIO: I/O error
		// EPERM: file is append-only or immutable
		// EROFS: read-only filesystem
		rate = c.config.TruncateFailRate
		counter = &c.truncateFails
		errnos = []unix.Errno{unix.EIO, unix.EPERM, unix.EROFS}

	case faultSync:
		// EIO: I/O error (device/filesystem failure)
		// ENOSPC: no space left on device
		// EDQUOT: disk quota exceeded
		// EROFS: read-only filesystem
		// fsync can surface delayed write failures
		rate = c.config.SyncFailRate
		counter = &c.syncFails
		errnos = []unix.Errno{unix.EIO, unix.ENOSPC, unix.EDQUOT, unix.EROFS}

	default:
		panic("unknown fault kind: " + string(kind))
	}

	if c.should(mode, rate) {
		counter.Add(1)

		err := c.inject(errnos)
		c.trace.add(string(kind), fd, "", "fail", err, true)

		return err
	}

	return nil
}

// inject picks one of errnos and marks it as injected.
func (c *Chaos) inject(errnos []unix.Errno) error {
	return &chaosError{Err: errnos[c.randIntn(len(errnos))]}
}

// should returns true with the given probability when chaos is injecting.
func (c *Chaos) should(mode ChaosMode, rate float64) bool {
	if mode != ChaosModeActive || rate <= 0 {
		return false
	}

	return c.randFloat() < rate
}

func (c *Chaos) randFloat() float64 {
	c.rngMu.Lock()
	result := c.rng.Float64()
	c.rngMu.Unlock()

	return result
}

func (c *Chaos) randIntn(n int) int {
	c.rngMu.Lock()
	result := c.rng.IntN(n)
	c.rngMu.Unlock()

	return result
}

var _ Sys = (*Chaos)(nil)

// TraceEvent records a single Chaos call with injection details.
//
// Unlike external tracing (which can only observe errors), TraceEvent captures
// calls that Chaos altered but returned successfully, such as short reads
// that returned fewer bytes with err==nil.
type TraceEvent struct {
	// Seq is the monotonically increasing sequence number.
	Seq uint64
	// Op is the syscall name (e.g., "open", "read", "fsync").
	Op string
	// Fd is the descriptor involved, or -1.
	Fd int
	// Path is set for open.
	Path string
	// Err is the error returned by the call (nil for success).
	Err error
	// Injected is true if Chaos modified the call's behavior.
	Injected bool
	// Kind is a short label for what happened: "ok", "fail", "short_read",
	// "short_write", "interrupt".
	Kind string
	// Attrs contains additional key-value details.
	Attrs []TraceAttr
}

// TraceAttr is a key-value pair for trace event context.
type TraceAttr struct {
	Key   string
	Value string
}

func (e TraceEvent) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "#%d", e.Seq)

	if e.Injected {
		fmt.Fprintf(&sb, " [CHAOS:%s]", e.Kind)
	}

	fmt.Fprintf(&sb, " %s", e.Op)

	if e.Fd >= 0 {
		fmt.Fprintf(&sb, " fd=%d", e.Fd)
	}

	if e.Path != "" {
		fmt.Fprintf(&sb, " path=%q", e.Path)
	}

	for _, a := range e.Attrs {
		fmt.Fprintf(&sb, " %s=%s", a.Key, a.Value)
	}

	if !e.Injected {
		sb.WriteString(" ")
		sb.WriteString(e.Kind)
	}

	if e.Err != nil {
		fmt.Fprintf(&sb, " err=%v", e.Err)
	}

	return sb.String()
}

// chaosTrace is a bounded circular buffer of [TraceEvent].
type chaosTrace struct {
	mu       sync.Mutex
	capacity int
	events   []TraceEvent
	next     int
	full     bool
	seq      uint64
}

func newChaosTrace(capacity int) *chaosTrace {
	if capacity <= 0 {
		return nil
	}

	return &chaosTrace{
		capacity: capacity,
		events:   make([]TraceEvent, 0, capacity),
	}
}

func (t *chaosTrace) String() string {
	events := t.snapshot()
	if len(events) == 0 {
		return ""
	}

	var sb strings.Builder

	for i, e := range events {
		if i > 0 {
			sb.WriteByte('\n')
		}

		sb.WriteString(e.String())
	}

	return sb.String()
}

func (t *chaosTrace) add(op string, fd int, path, kind string, err error, injected bool, attrs ...TraceAttr) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++

	event := TraceEvent{
		Seq:      t.seq,
		Op:       op,
		Fd:       fd,
		Path:     path,
		Err:      err,
		Injected: injected,
		Kind:     kind,
		Attrs:    attrs,
	}

	if len(t.events) < t.capacity {
		t.events = append(t.events, event)

		return
	}

	t.events[t.next] = event
	t.next = (t.next + 1) % t.capacity
	t.full = true
}

func (t *chaosTrace) snapshot() []TraceEvent {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return append([]TraceEvent(nil), t.events...)
	}

	out := make([]TraceEvent, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	out = append(out, t.events[:t.next]...)

	return out
}

func boolKind(ok bool) string {
	if ok {
		return "ok"
	}

	return "fail"
}
