package cli_test

import (
	"testing"

	"github.com/calvinalkan/fdio/internal/cli"
)

func Test_Shell_Runs_Handle_Operations_When_Given_Script(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("data.txt", "")

	script := `write hello world
offset
seek 0
read 5
readall
avail
end
truncate 5
truncate 50
kind
sync
exit
read 1
`

	stdout, stderr, exitCode := c.RunWithInput(script, "shell", "data.txt")

	if got, want := exitCode, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d\nstderr: %s", got, want, stderr)
	}

	want := `wrote 11
offset 11
offset 0
5 bytes: "hello"
6 bytes: " world"
0 bytes: ""
offset 11
truncated at 5
not truncated
regular
synced
`

	if got := stdout; got != want {
		t.Errorf("stdout mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}

	if got, want := c.ReadFile("data.txt"), "hello"; got != want {
		t.Errorf("content=%q, want=%q", got, want)
	}
}

func Test_Shell_Reports_Errors_And_Continues_When_Operation_Fails(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("data.txt", "abc")

	script := `read x
bogus
read -1
close
read 1
help
`

	stdout, stderr, exitCode := c.RunWithInput(script, "shell", "data.txt")

	if got, want := exitCode, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d\nstderr: %s", got, want, stderr)
	}

	cli.AssertContains(t, stdout, `error: invalid number: "x"`)
	cli.AssertContains(t, stdout, "unknown command: bogus")
	cli.AssertContains(t, stdout, "error: fdio: invalid length")
	cli.AssertContains(t, stdout, "closed")
	cli.AssertContains(t, stdout, "error: fdio: descriptor closed")
	cli.AssertContains(t, stdout, "Commands:")
}

func Test_Shell_Creates_File_When_Create_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	_, stderr, exitCode := c.RunWithInput("write new\n", "shell", "--create", "fresh.txt")

	if got, want := exitCode, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d\nstderr: %s", got, want, stderr)
	}

	if got, want := c.ReadFile("fresh.txt"), "new"; got != want {
		t.Errorf("content=%q, want=%q", got, want)
	}
}

func Test_Shell_Fails_When_File_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	_, stderr, exitCode := c.RunWithInput("", "shell", "missing.txt")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stderr, "no such file or directory")
}

func Test_Shell_Fails_When_Stdin_Absent(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("data.txt", "abc")

	stderr := c.MustFail("shell", "data.txt")

	cli.AssertContains(t, stderr, "no standard input")
}
