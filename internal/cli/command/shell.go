package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/cli/repl"
)

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:   "shell",
		Usage:  "Run commands interactively",
		Action: shellAction,
	}
}

func shellAction(c *cli.Context) error {
	prefix := shellPrefix(c)
	exec := func(args []string) error {
		if args[0] == "shell" {
			return errors.New("already in a shell")
		}
		app := App()
		app.Writer = c.App.Writer
		app.ErrWriter = c.App.ErrWriter
		app.Metadata = c.App.Metadata
		app.ExitErrHandler = func(*cli.Context, error) {}

		err := app.RunContext(c.Context, append(append([]string(nil), prefix...), args...))
		var ec cli.ExitCoder
		if errors.As(err, &ec) && ec.Error() == "" {
			return fmt.Errorf("exit code %d", ec.ExitCode())
		}
		return err
	}
	return repl.New(exec,
		repl.WithIO(c.App.Reader, c.App.Writer),
		repl.WithCommands(commandPaths(App().Commands, "")),
	).Run()
}

// shellPrefix carries the global flags of the shell invocation into every
// command it runs.
func shellPrefix(c *cli.Context) []string {
	prefix := []string{c.App.Name}
	for _, name := range []string{"config-dir", "server-bin", "server-addr", "cli-config", "output"} {
		if v := c.String(name); v != "" {
			prefix = append(prefix, "--"+name, v)
		}
	}
	for _, name := range []string{"wide", "verbose"} {
		if c.Bool(name) {
			prefix = append(prefix, "--"+name)
		}
	}
	return prefix
}

func commandPaths(cmds []*cli.Command, parent string) []string {
	var paths []string
	for _, cmd := range cmds {
		path := strings.TrimSpace(parent + " " + cmd.Name)
		paths = append(paths, path)
		paths = append(paths, commandPaths(cmd.Subcommands, path)...)
	}
	return paths
}
