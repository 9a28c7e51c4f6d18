package cli

import (
	"context"

	"github.com/calvinalkan/fdio/pkg/fdio"

	flag "github.com/spf13/pflag"
)

// CatCmd returns the cat command.
func CatCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("cat", flag.ContinueOnError),
		Usage: "cat [path...]",
		Short: "Print files or stdin to stdout",
		Long: `Read each path to end of stream and write it to stdout.

A path of "-", or no path at all, reads standard input. Works on regular
files, pipes, FIFOs and character devices alike.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			return execCat(o, a, args)
		},
	}
}

func execCat(o *IO, a *app, paths []string) error {
	if len(paths) == 0 {
		paths = []string{"-"}
	}

	for _, path := range paths {
		data, err := a.readSource(path, fdio.ReadAll)
		if err != nil {
			return err
		}

		_, err = o.Write(data)
		if err != nil {
			return err
		}
	}

	return nil
}
