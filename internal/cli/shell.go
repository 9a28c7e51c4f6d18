package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/calvinalkan/fdio/pkg/fdio"
	"github.com/peterh/liner"

	flag "github.com/spf13/pflag"
)

const shellPrompt = "fdio> "

// ShellCmd returns the shell command.
func ShellCmd(a *app) *Command {
	flags := flag.NewFlagSet("shell", flag.ContinueOnError)
	create := flags.Bool("create", false, "Create the file if it does not exist")

	return &Command{
		Flags: flags,
		Usage: "shell [flags] <path>",
		Short: "Open a file and drive its handle interactively",
		Long: `Open path for reading and writing and read handle operations from stdin,
one per line. Type 'help' inside the shell for the list of operations.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execShell(ctx, o, a, args, *create)
		},
	}
}

func execShell(ctx context.Context, o *IO, a *app, args []string, create bool) error {
	if len(args) == 0 {
		return errPathRequired
	}

	if len(args) > 1 {
		return errTooManyArgs
	}

	openFlag := os.O_RDWR
	if create {
		openFlag |= os.O_CREATE
	}

	h, err := a.eng.OpenFile(a.resolve(args[0]), openFlag, 0o644)
	if err != nil {
		return err
	}
	defer h.Close()

	p, err := a.prompter()
	if err != nil {
		return err
	}
	defer p.Close()

	s := &shell{h: h, o: o}

	for ctx.Err() == nil {
		line, err := p.Prompt(shellPrompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		p.AppendHistory(line)

		if !s.exec(line) {
			break
		}
	}

	return ctx.Err()
}

// prompter reads shell input lines.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// prompter uses line editing when stdin is the process terminal, and plain
// line reads otherwise.
func (a *app) prompter() (prompter, error) {
	if a.in == nil {
		return nil, errNoStdin
	}

	if f, ok := a.in.(*os.File); ok && f == os.Stdin && liner.TerminalSupported() {
		return newLinePrompter(a.historyFile()), nil
	}

	return &scanPrompter{sc: bufio.NewScanner(a.in)}, nil
}

func (a *app) historyFile() string {
	home := a.env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".fdio_history")
}

type linePrompter struct {
	*liner.State
	history string
}

func newLinePrompter(history string) *linePrompter {
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)
	l.SetCompleter(completeShell)

	if history != "" {
		if f, err := os.Open(history); err == nil {
			_, _ = l.ReadHistory(f)
			_ = f.Close()
		}
	}

	return &linePrompter{State: l, history: history}
}

func (p *linePrompter) Close() error {
	if p.history != "" {
		if f, err := os.Create(p.history); err == nil {
			_, _ = p.WriteHistory(f)
			_ = f.Close()
		}
	}

	return p.State.Close()
}

type scanPrompter struct {
	sc *bufio.Scanner
}

func (p *scanPrompter) Prompt(string) (string, error) {
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return "", err
		}

		return "", io.EOF
	}

	return p.sc.Text(), nil
}

func (*scanPrompter) AppendHistory(string) {}

func (*scanPrompter) Close() error { return nil }

var shellCommands = []string{
	"read", "readall", "avail", "write",
	"seek", "end", "offset", "truncate",
	"sync", "kind", "close", "help", "exit", "quit",
}

func completeShell(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range shellCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

// shell runs one handle operation per input line. Failed operations are
// reported and the loop continues.
type shell struct {
	h *fdio.Handle
	o *IO
}

// exec runs line and reports whether the shell should keep going.
func (s *shell) exec(line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error

	switch strings.ToLower(cmd) {
	case "exit", "quit":
		return false
	case "help", "?":
		s.printHelp()
	case "read":
		err = s.read(rest)
	case "readall":
		err = s.printData(s.h.ReadToEnd())
	case "avail":
		err = s.printData(s.h.AvailableData())
	case "write":
		var n int

		n, err = s.h.Write([]byte(rest))
		if err == nil {
			s.o.Printf("wrote %d\n", n)
		}
	case "seek":
		err = s.seek(rest)
	case "end":
		err = s.printOffset(s.h.SeekToEnd())
	case "offset":
		err = s.printOffset(s.h.Offset())
	case "truncate":
		err = s.truncate(rest)
	case "sync":
		err = s.h.Sync()
		if err == nil {
			s.o.Println("synced")
		}
	case "kind":
		var kind fdio.Kind

		kind, err = s.h.Kind()
		if err == nil {
			s.o.Println(kind.String())
		}
	case "close":
		_ = s.h.Close()
		s.o.Println("closed")
	default:
		s.o.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		s.o.Println("error:", err)
	}

	return true
}

func (s *shell) read(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("%w: %q", errInvalidNumber, arg)
	}

	return s.printData(s.h.ReadUpTo(n))
}

func (s *shell) seek(arg string) error {
	off, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", errInvalidNumber, arg)
	}

	err = s.h.SeekTo(off)
	if err != nil {
		return err
	}

	s.o.Printf("offset %d\n", off)

	return nil
}

func (s *shell) truncate(arg string) error {
	off, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", errInvalidNumber, arg)
	}

	ok, err := s.h.TruncateAt(off)
	if err != nil {
		return err
	}

	if ok {
		s.o.Printf("truncated at %d\n", off)
	} else {
		s.o.Println("not truncated")
	}

	return nil
}

func (s *shell) printData(data []byte, err error) error {
	if err != nil {
		return err
	}

	s.o.Printf("%d bytes: %q\n", len(data), data)

	return nil
}

func (s *shell) printOffset(off int64, err error) error {
	if err != nil {
		return err
	}

	s.o.Printf("offset %d\n", off)

	return nil
}

func (s *shell) printHelp() {
	s.o.Println("Commands:")
	s.o.Println("  read <n>          Read up to n bytes")
	s.o.Println("  readall           Read to end of file")
	s.o.Println("  avail             Read whatever is available now")
	s.o.Println("  write <text>      Write text at the current offset")
	s.o.Println("  seek <offset>     Move to an absolute offset")
	s.o.Println("  end               Move to end of file")
	s.o.Println("  offset            Show the current offset")
	s.o.Println("  truncate <size>   Seek to size and truncate there")
	s.o.Println("  sync              Flush to durable storage")
	s.o.Println("  kind              Show the descriptor kind")
	s.o.Println("  close             Close the handle")
	s.o.Println("  help              Show this help")
	s.o.Println("  exit / quit       Exit")
}
