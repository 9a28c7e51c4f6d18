package cli_test

import (
	"path/filepath"
	"testing"

	"github.com/calvinalkan/fdio/internal/cli"
)

func Test_Print_Config_Defaults_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "effective_cwd="+c.Dir)
	cli.AssertContains(t, stdout, `"chunk_size": 8192`)
	cli.AssertContains(t, stdout, `"max_buffer_size": 0`)
	cli.AssertContains(t, stdout, "(defaults only)")
}

func Test_Print_Config_From_Project_File_With_Comments_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".fdio.json", `{
		// smaller chunks for slow devices
		"chunk_size": 4096,
	}`)

	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, `"chunk_size": 4096`)
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, ".fdio.json"))
}

func Test_Print_Config_Explicit_Config_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile(".fdio.json", `{"chunk_size": 4096}`)
	c.WriteFile("custom.json", `{"max_buffer_size": 1048576}`)

	stdout := c.MustRun("--config=custom.json", "print-config")

	cli.AssertContains(t, stdout, `"chunk_size": 8192`)
	cli.AssertContains(t, stdout, `"max_buffer_size": 1048576`)
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, "custom.json"))
}

func Test_Print_Config_Global_File_When_Xdg_Set(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.WriteFile("xdg/fdio/config.json", `{"trace_capacity": 32}`)

	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, `"trace_capacity": 32`)
	cli.AssertContains(t, stdout, "global_config="+filepath.Join(c.Dir, "xdg", "fdio", "config.json"))
}

func Test_Print_Config_Fails_When_Explicit_Config_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("-c", "nope.json", "print-config")

	cli.AssertContains(t, stderr, "config file not found")
}

func Test_Print_Config_Shows_Chaos_When_Seed_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("--chaos-seed", "1234", "print-config")

	cli.AssertContains(t, stdout, `"enabled": true`)
	cli.AssertContains(t, stdout, `"seed": 1234`)
}
