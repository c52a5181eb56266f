package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/cli/output"
	"github.com/yndnr/warmstart/internal/infra/buildinfo"
)

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			flags := ParseGlobalFlags(c)
			format, err := output.ParseFormat(flags.Output)
			if err != nil {
				return err
			}
			return output.NewFormatter(format, flags.Wide).Format(c.App.Writer, buildinfo.Get())
		},
	}
}
