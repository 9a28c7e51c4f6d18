package cli

import (
	"context"
	"os"

	"github.com/calvinalkan/fdio/pkg/fdio"

	flag "github.com/spf13/pflag"
)

// StatCmd returns the stat command.
func StatCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("stat", flag.ContinueOnError),
		Usage: "stat <path|->",
		Short: "Show how a descriptor is classified",
		Long: `Open path (or use stdin for "-") and print its descriptor, kind and,
for regular files, its size.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execStat(o, a, args)
		},
	}
}

func execStat(o *IO, a *app, args []string) error {
	if len(args) == 0 {
		return errPathRequired
	}

	if len(args) > 1 {
		return errTooManyArgs
	}

	var h *fdio.Handle

	if args[0] == "-" {
		f, ok := a.in.(*os.File)
		if !ok {
			return errNoStdin
		}

		h = a.eng.NewHandle(int(f.Fd()), false)
	} else {
		var err error

		h, err = a.eng.OpenForReading(a.resolve(args[0]))
		if err != nil {
			return err
		}
	}
	defer h.Close()

	kind, err := h.Kind()
	if err != nil {
		return err
	}

	o.Println("path=" + args[0])
	o.Printf("fd=%d\n", h.Fd())
	o.Printf("owned=%v\n", h.Owned())
	o.Println("kind=" + kind.String())

	if kind != fdio.KindRegular {
		return nil
	}

	offset, err := h.Offset()
	if err != nil {
		return err
	}

	size, err := h.SeekToEnd()
	if err != nil {
		return err
	}

	// Leave a borrowed descriptor where we found it.
	err = h.SeekTo(offset)
	if err != nil {
		return err
	}

	o.Printf("offset=%d\n", offset)
	o.Printf("size=%d\n", size)

	return nil
}
