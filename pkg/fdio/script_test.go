package fdio_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/calvinalkan/fdio/pkg/fdio"
	"github.com/calvinalkan/fdio/pkg/fdio/fdiotest"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

// Tests in this file drive the engine through fdiotest.Script so every
// syscall the engine issues is observable.

func newScripted(opts fdio.Options) (*fdiotest.Script, *fdio.Engine) {
	sys := fdiotest.NewScript()

	return sys, fdio.NewEngine(sys, opts)
}

func Test_ReadToEnd_Concatenates_Chunks_When_Stream_Delivers_Many(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name   string
		chunks []int
	}{
		{name: "empty stream", chunks: nil},
		{name: "single small", chunks: []int{5}},
		{name: "exactly initial capacity", chunks: []int{fdio.DefaultChunkSize}},
		{name: "one past capacity", chunks: []int{fdio.DefaultChunkSize, 1}},
		{name: "many small", chunks: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
		{name: "forces several doublings", chunks: []int{8192, 8192, 8192, 8192, 8192, 100}},
		{name: "uneven", chunks: []int{3000, 9000, 1, 20000, 7}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sys, eng := newScripted(fdio.Options{})

			var (
				chunks [][]byte
				want   []byte
			)

			for i, size := range tt.chunks {
				c := bytes.Repeat([]byte{byte('a' + i%26)}, size)
				chunks = append(chunks, c)
				want = append(want, c...)
			}

			h := eng.NewHandle(sys.AddStream(chunks...), true)
			defer h.Close()

			got, err := h.ReadToEnd()
			if err != nil {
				t.Fatalf("ReadToEnd: %v", err)
			}

			if diff := cmp.Diff(append([]byte{}, want...), got); diff != "" {
				t.Fatalf("content mismatch (-want +got):\n%s", diff)
			}

			if got, want := cap(got), len(got); got != want {
				t.Fatalf("cap=%d, want=%d", got, want)
			}
		})
	}
}

func Test_AvailableData_Issues_One_Read_When_Descriptor_Is_Stream(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})

	h := eng.NewHandle(sys.AddStream([]byte("first"), []byte("second")), true)
	defer h.Close()

	got, err := h.AvailableData()
	if err != nil {
		t.Fatalf("AvailableData: %v", err)
	}

	if got, want := string(got), "first"; got != want {
		t.Fatalf("AvailableData=%q, want=%q", got, want)
	}

	if got, want := sys.CountCalls("read"), 1; got != want {
		t.Fatalf("read calls=%d, want=%d", got, want)
	}

	got, err = h.AvailableData()
	if err != nil {
		t.Fatalf("second AvailableData: %v", err)
	}

	if got, want := string(got), "second"; got != want {
		t.Fatalf("second AvailableData=%q, want=%q", got, want)
	}

	got, err = h.AvailableData()
	if err != nil {
		t.Fatalf("AvailableData at end: %v", err)
	}

	if got == nil || len(got) != 0 {
		t.Fatalf("AvailableData at end=%#v, want empty non-nil", got)
	}
}

func Test_AvailableData_Requests_At_Most_Chunk_Size_When_Stream_Has_More(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{ChunkSize: 16})

	h := eng.NewHandle(sys.AddStream(bytes.Repeat([]byte("x"), 100)), true)
	defer h.Close()

	got, err := h.AvailableData()
	if err != nil {
		t.Fatalf("AvailableData: %v", err)
	}

	if got, want := len(got), 16; got != want {
		t.Fatalf("len=%d, want=%d", got, want)
	}

	calls := sys.Calls()

	var reads []fdiotest.Call

	for _, c := range calls {
		if c.Op == "read" {
			reads = append(reads, c)
		}
	}

	if got, want := len(reads), 1; got != want {
		t.Fatalf("reads=%v, want one", reads)
	}

	if got, want := reads[0].Len, 16; got != want {
		t.Fatalf("read request len=%d, want=%d", got, want)
	}
}

func Test_ReadUpTo_Returns_Exact_Length_When_Stream_Delivers_In_Pieces(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{ChunkSize: 4})

	h := eng.NewHandle(sys.AddStream([]byte("ab"), []byte("cdef"), []byte("ghij")), true)
	defer h.Close()

	got, err := h.ReadUpTo(7)
	if err != nil {
		t.Fatalf("ReadUpTo: %v", err)
	}

	if got, want := string(got), "abcdefg"; got != want {
		t.Fatalf("ReadUpTo=%q, want=%q", got, want)
	}

	rest, err := h.ReadToEnd()
	if err != nil {
		t.Fatalf("ReadToEnd: %v", err)
	}

	if got, want := string(rest), "hij"; got != want {
		t.Fatalf("ReadToEnd=%q, want=%q", got, want)
	}
}

func Test_Read_Retries_When_Interrupted(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})

	h := eng.NewHandle(sys.AddStream([]byte("payload")), true)
	defer h.Close()

	sys.FailNext("read", unix.EINTR)
	sys.FailNext("read", unix.EINTR)

	got, err := h.ReadToEnd()
	if err != nil {
		t.Fatalf("ReadToEnd: %v", err)
	}

	if got, want := string(got), "payload"; got != want {
		t.Fatalf("ReadToEnd=%q, want=%q", got, want)
	}
}

func Test_Read_Returns_ErrIO_And_No_Data_When_Read_Fails_Midway(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})

	h := eng.NewHandle(sys.AddStream([]byte("one"), []byte("two"), []byte("three")), true)
	defer h.Close()

	// The first read delivers "one", the second fails.
	sys.FailNext("read", nil)
	sys.FailNext("read", unix.EIO)

	got, err := h.ReadToEnd()
	if !errors.Is(err, fdio.ErrIO) || !errors.Is(err, unix.EIO) {
		t.Fatalf("err=%v, want ErrIO wrapping EIO", err)
	}

	if got != nil {
		t.Fatalf("data=%q, want nil alongside error", got)
	}

	if got, want := sys.CountCalls("read"), 2; got != want {
		t.Fatalf("read calls=%d, want=%d", got, want)
	}
}

func Test_Read_Returns_ErrMetadata_When_Fstat_Fails(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})

	h := eng.NewHandle(sys.AddStream([]byte("never read")), true)
	defer h.Close()

	sys.FailNext("fstat", unix.EIO)

	_, err := h.ReadToEnd()
	if !errors.Is(err, fdio.ErrMetadata) {
		t.Fatalf("err=%v, want ErrMetadata", err)
	}

	if got, want := sys.CountCalls("read"), 0; got != want {
		t.Fatalf("read calls=%d, want=%d", got, want)
	}
}

func Test_Read_Returns_ErrAllocation_When_Stream_Exceeds_Max_Buffer_Size(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{ChunkSize: 8, MaxBufferSize: 32})

	h := eng.NewHandle(sys.AddStream(bytes.Repeat([]byte("z"), 33)), true)
	defer h.Close()

	got, err := h.ReadToEnd()
	if !errors.Is(err, fdio.ErrAllocation) {
		t.Fatalf("err=%v, want ErrAllocation", err)
	}

	if got != nil {
		t.Fatalf("data=%q, want nil", got)
	}
}

func Test_Read_Succeeds_When_Stream_Fits_Max_Buffer_Size_Exactly(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{ChunkSize: 8, MaxBufferSize: 32})

	h := eng.NewHandle(sys.AddStream(bytes.Repeat([]byte("z"), 32)), true)
	defer h.Close()

	got, err := h.ReadToEnd()
	if err != nil {
		t.Fatalf("ReadToEnd: %v", err)
	}

	if got, want := len(got), 32; got != want {
		t.Fatalf("len=%d, want=%d", got, want)
	}
}

func Test_Read_Returns_ErrAllocation_When_Regular_File_Exceeds_Max_Buffer_Size(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{MaxBufferSize: 4})
	sys.AddFile("/big", []byte("0123456789"))

	h, err := eng.OpenForReading("/big")
	if err != nil {
		t.Fatalf("OpenForReading: %v", err)
	}
	defer h.Close()

	_, err = h.ReadToEnd()
	if !errors.Is(err, fdio.ErrAllocation) {
		t.Fatalf("err=%v, want ErrAllocation", err)
	}

	got, err := h.ReadUpTo(4)
	if err != nil {
		t.Fatalf("ReadUpTo within limit: %v", err)
	}

	if got, want := string(got), "0123"; got != want {
		t.Fatalf("ReadUpTo=%q, want=%q", got, want)
	}
}

func Test_Regular_Read_Loops_When_Reads_Are_Short(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	sys.AddFile("/f", patternBytes(1000))
	sys.SetMaxRead(7)

	h, err := eng.OpenForReading("/f")
	if err != nil {
		t.Fatalf("OpenForReading: %v", err)
	}
	defer h.Close()

	got, err := h.AvailableData()
	if err != nil {
		t.Fatalf("AvailableData: %v", err)
	}

	if diff := cmp.Diff(patternBytes(1000), got); diff != "" {
		t.Fatalf("content mismatch (-want +got):\n%s", diff)
	}
}

func Test_Write_Continues_When_Writes_Are_Short(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	sys.SetMaxWrite(3)

	h, err := eng.OpenFile("/out", os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer h.Close()

	n, err := h.Write([]byte("hello world"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got, want := n, 11; got != want {
		t.Fatalf("n=%d, want=%d", got, want)
	}

	if got, want := sys.CountCalls("write"), 4; got != want {
		t.Fatalf("write calls=%d, want=%d", got, want)
	}

	if got, want := string(sys.Contents("/out")), "hello world"; got != want {
		t.Fatalf("contents=%q, want=%q", got, want)
	}
}

func Test_Write_Reports_Bytes_Written_When_Failing_Midway(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	sys.AddFile("/out", nil)
	sys.SetMaxWrite(4)

	h, err := eng.OpenForWriting("/out")
	if err != nil {
		t.Fatalf("OpenForWriting: %v", err)
	}
	defer h.Close()

	sys.FailNext("write", nil)
	sys.FailNext("write", unix.ENOSPC)

	n, err := h.Write([]byte("abcdefghij"))
	if !errors.Is(err, fdio.ErrIO) || !errors.Is(err, unix.ENOSPC) {
		t.Fatalf("err=%v, want ErrIO wrapping ENOSPC", err)
	}

	if got, want := n, 4; got != want {
		t.Fatalf("n=%d, want=%d", got, want)
	}
}

func Test_Write_Retries_When_Interrupted(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	sys.AddFile("/out", nil)

	h, err := eng.OpenForWriting("/out")
	if err != nil {
		t.Fatalf("OpenForWriting: %v", err)
	}
	defer h.Close()

	sys.FailNext("write", unix.EINTR)

	if _, err := h.Write([]byte("ok")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got, want := string(sys.Contents("/out")), "ok"; got != want {
		t.Fatalf("contents=%q, want=%q", got, want)
	}
}

func Test_WriteBuffers_Stops_At_First_Failure(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	sys.AddFile("/out", nil)

	h, err := eng.OpenForWriting("/out")
	if err != nil {
		t.Fatalf("OpenForWriting: %v", err)
	}
	defer h.Close()

	sys.FailNext("write", nil)
	sys.FailNext("write", unix.EIO)

	n, err := h.WriteBuffers([][]byte{[]byte("aa"), []byte("bb"), []byte("cc")})
	if !errors.Is(err, fdio.ErrIO) {
		t.Fatalf("err=%v, want ErrIO", err)
	}

	if got, want := n, int64(2); got != want {
		t.Fatalf("n=%d, want=%d", got, want)
	}

	if got, want := sys.CountCalls("write"), 2; got != want {
		t.Fatalf("write calls=%d, want=%d", got, want)
	}
}

func Test_Close_Issues_One_OS_Close_When_Called_Repeatedly(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	fd := sys.AddStream()

	h := eng.NewHandle(fd, true)

	for range 3 {
		if err := h.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	if got, want := sys.CloseCount(fd), 1; got != want {
		t.Fatalf("close calls=%d, want=%d", got, want)
	}
}

func Test_Close_Returns_Nil_When_OS_Close_Fails(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	fd := sys.AddStream()

	h := eng.NewHandle(fd, true)

	sys.FailNext("close", unix.EIO)

	if err := h.Close(); err != nil {
		t.Fatalf("Close=%v, want nil", err)
	}

	if !h.Closed() {
		t.Fatalf("Closed=false, want true")
	}

	if got := sys.OpenFds(); len(got) != 0 {
		t.Fatalf("open fds=%v, want none", got)
	}
}

func Test_NonOwning_Handle_Never_Issues_OS_Close(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	fd := sys.AddStream([]byte("data"))

	h := eng.NewHandle(fd, false)
	_ = h.Close()

	if got, want := sys.CloseCount(fd), 0; got != want {
		t.Fatalf("close calls=%d, want=%d", got, want)
	}

	other := eng.NewHandle(fd, true)
	defer other.Close()

	got, err := other.ReadToEnd()
	if err != nil {
		t.Fatalf("ReadToEnd through owner: %v", err)
	}

	if got, want := string(got), "data"; got != want {
		t.Fatalf("ReadToEnd=%q, want=%q", got, want)
	}
}

func abandonHandle(eng *fdio.Engine, fd int, owns bool) {
	h := eng.NewHandle(fd, owns)
	_ = h.Fd()
}

func Test_Unreachable_Owning_Handle_Closes_Descriptor_When_Collected(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	fd := sys.AddStream()

	abandonHandle(eng, fd, true)

	deadline := time.Now().Add(5 * time.Second)

	for sys.CloseCount(fd) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("descriptor %d not closed after handle became unreachable", fd)
		}

		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	if got, want := sys.CloseCount(fd), 1; got != want {
		t.Fatalf("close calls=%d, want=%d", got, want)
	}
}

func Test_Unreachable_NonOwning_Handle_Leaves_Descriptor_Open_When_Collected(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	fd := sys.AddStream()

	abandonHandle(eng, fd, false)

	for range 5 {
		runtime.GC()
		time.Sleep(5 * time.Millisecond)
	}

	if got, want := sys.CloseCount(fd), 0; got != want {
		t.Fatalf("close calls=%d, want=%d", got, want)
	}
}

func Test_NewPipe_Returns_ErrIO_And_No_Handles_When_Pipe_Fails(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	sys.FailNext("pipe", unix.EMFILE)

	p, err := eng.NewPipe()
	if !errors.Is(err, fdio.ErrIO) || !errors.Is(err, unix.EMFILE) {
		t.Fatalf("err=%v, want ErrIO wrapping EMFILE", err)
	}

	if p != nil {
		t.Fatalf("pipe=%v, want nil", p)
	}

	if got := sys.OpenFds(); len(got) != 0 {
		t.Fatalf("open fds=%v, want none", got)
	}
}

func Test_Pipe_Reader_Sees_End_Of_Stream_When_Writer_Closed(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{ChunkSize: 4})

	p, err := eng.NewPipe()
	if err != nil {
		t.Fatalf("NewPipe: %v", err)
	}
	defer p.Close()

	if _, err := p.Writer().WriteBuffers([][]byte{[]byte("abc"), []byte("defgh")}); err != nil {
		t.Fatalf("WriteBuffers: %v", err)
	}

	_ = p.Writer().Close()

	got, err := p.Reader().ReadToEnd()
	if err != nil {
		t.Fatalf("ReadToEnd: %v", err)
	}

	if got, want := string(got), "abcdefgh"; got != want {
		t.Fatalf("ReadToEnd=%q, want=%q", got, want)
	}

	if got, want := sys.CloseCount(p.Reader().Fd()), 0; got != want {
		t.Fatalf("reader close calls=%d, want=%d", got, want)
	}
}

func Test_Handle_Works_As_Io_Reader_When_Used_With_Io_ReadAll(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})

	h := eng.NewHandle(sys.AddStream([]byte("io."), []byte("ReadAll")), true)
	defer h.Close()

	got, err := io.ReadAll(h)
	if err != nil {
		t.Fatalf("io.ReadAll: %v", err)
	}

	if got, want := string(got), "io.ReadAll"; got != want {
		t.Fatalf("io.ReadAll=%q, want=%q", got, want)
	}
}

func Test_TruncateAt_Skips_When_Seek_Lands_Elsewhere(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	sys.AddFile("/f", []byte("abcdef"))

	h, err := eng.OpenForUpdating("/f")
	if err != nil {
		t.Fatalf("OpenForUpdating: %v", err)
	}
	defer h.Close()

	truncated, err := h.TruncateAt(6)
	if err != nil {
		t.Fatalf("TruncateAt at size: %v", err)
	}

	if !truncated {
		t.Fatalf("TruncateAt(size)=false, want true")
	}

	truncated, err = h.TruncateAt(7)
	if err != nil {
		t.Fatalf("TruncateAt past size: %v", err)
	}

	if truncated {
		t.Fatalf("TruncateAt(size+1)=true, want false")
	}

	if got, want := string(sys.Contents("/f")), "abcdef"; got != want {
		t.Fatalf("contents=%q, want=%q", got, want)
	}

	if got, want := sys.CountCalls("ftruncate"), 1; got != want {
		t.Fatalf("ftruncate calls=%d, want=%d", got, want)
	}
}

func Test_Sync_Returns_ErrIO_When_Fsync_Fails(t *testing.T) {
	t.Parallel()

	sys, eng := newScripted(fdio.Options{})
	sys.AddFile("/f", nil)

	h, err := eng.OpenForWriting("/f")
	if err != nil {
		t.Fatalf("OpenForWriting: %v", err)
	}
	defer h.Close()

	sys.FailNext("fsync", unix.EIO)

	err = h.Sync()
	if !errors.Is(err, fdio.ErrIO) || !errors.Is(err, unix.EIO) {
		t.Fatalf("err=%v, want ErrIO wrapping EIO", err)
	}

	if err := h.Sync(); err != nil {
		t.Fatalf("second Sync: %v", err)
	}
}
