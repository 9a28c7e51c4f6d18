package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/calvinalkan/fdio/internal/config"
	"github.com/calvinalkan/fdio/pkg/fdio"

	flag "github.com/spf13/pflag"
)

// Run is the main entry point. Returns exit code.
//
// sigCh may be nil. When a signal arrives the command context is canceled.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("fdio", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagTrace := globalFlags.Bool("trace", false, "Print a syscall trace to stderr after the command")
	flagChaosSeed := globalFlags.Int64("chaos-seed", 0, "Enable fault injection with the given `seed`")

	a := &app{in: in, env: env}
	commands := a.commands()

	if len(args) > 0 {
		args = args[1:]
	}

	err := globalFlags.Parse(args)
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globalFlags, commands)

		return 1
	}

	if *flagHelp {
		printUsage(out, globalFlags, commands)

		return 0
	}

	cfg, err := config.Load(config.Input{
		WorkDirOverride: *flagCwd,
		ConfigPath:      *flagConfig,
		Env:             env,
		Trace:           *flagTrace,
		ChaosSeed:       *flagChaosSeed,
		HasChaosSeed:    globalFlags.Changed("chaos-seed"),
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	sys, chaos := cfg.Sys(fdio.NewReal())

	a.eng = fdio.NewEngine(sys, cfg.EngineOptions())
	a.cfg = cfg

	commandArgs := globalFlags.Args()
	if len(commandArgs) == 0 {
		printUsage(out, globalFlags, commands)

		return 0
	}

	name := commandArgs[0]

	var cmd *Command

	for _, c := range commands {
		if c.Name() == name {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error: unknown command:", name)
		printUsage(errOut, globalFlags, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	code := cmd.Run(ctx, NewIO(out, errOut), commandArgs[1:])

	if *flagTrace && chaos != nil {
		printTrace(errOut, chaos)
	}

	return code
}

// app carries what commands need. eng and cfg are set once config is loaded,
// before any command executes.
type app struct {
	eng *fdio.Engine
	cfg config.Config
	in  io.Reader
	env map[string]string
}

func (a *app) commands() []*Command {
	return []*Command{
		CatCmd(a),
		HeadCmd(a),
		WriteCmd(a),
		SlurpCmd(a),
		TruncateCmd(a),
		StatCmd(a),
		PipeCheckCmd(a),
		ShellCmd(a),
		PrintConfigCmd(&a.cfg),
	}
}

// resolve makes path absolute against the effective working directory.
func (a *app) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(a.cfg.EffectiveCwd, path)
}

// readSource reads everything from path, or from stdin when path is "-".
//
// Stdin is read through a non-owning handle when it is a real file, so the
// descriptor is never closed by the command.
func (a *app) readSource(path string, limit int) ([]byte, error) {
	if path == "-" {
		return a.readStdin(limit)
	}

	h, err := a.eng.OpenForReading(a.resolve(path))
	if err != nil {
		return nil, err
	}
	defer h.Close()

	return h.ReadUpTo(limit)
}

func (a *app) readStdin(limit int) ([]byte, error) {
	switch in := a.in.(type) {
	case nil:
		return nil, errNoStdin
	case *os.File:
		h := a.eng.NewHandle(int(in.Fd()), false)
		defer h.Close()

		return h.ReadUpTo(limit)
	default:
		if limit == fdio.ReadAll {
			return io.ReadAll(in)
		}

		return io.ReadAll(io.LimitReader(in, int64(limit)))
	}
}

var (
	errNoStdin       = errors.New("no standard input")
	errPathRequired  = errors.New("path is required")
	errSizeRequired  = errors.New("size is required")
	errTooManyArgs   = errors.New("too many arguments")
	errInvalidNumber = errors.New("invalid number")
	errPipeMismatch  = errors.New("pipe returned different bytes")
)

func printTrace(w io.Writer, chaos *fdio.Chaos) {
	fprintln(w, "# trace")

	if trace := chaos.Trace(); trace != "" {
		fprintln(w, trace)
	}

	stats := chaos.Stats()
	if stats.Total() > 0 {
		_, _ = fmt.Fprintf(w, "# injected faults: %d\n", stats.Total())
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globalFlags *flag.FlagSet, commands []*Command) {
	fprintln(w, `fdio - adaptive-buffer file descriptor I/O

Usage: fdio [global flags] <command> [args]`)
	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder
	globalFlags.SetOutput(&buf)
	globalFlags.PrintDefaults()
	globalFlags.SetOutput(&strings.Builder{})
	_, _ = io.WriteString(w, buf.String())

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
}
