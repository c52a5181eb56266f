package command

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/cli/connection"
	"github.com/yndnr/warmstart/internal/cli/output"
	"github.com/yndnr/warmstart/internal/server/httpserver/handler"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the lifecycle state of a running server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "ready",
				Usage: "Only check readiness; exit 1 when the server is not ready",
			},
		},
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	client := connection.NewHTTPClient(flags.ServerAddr)

	ctx, cancel := context.WithTimeout(c.Context, connection.DefaultTimeout)
	defer cancel()

	if c.Bool("ready") {
		var health handler.HealthResponse
		if err := client.GetData(ctx, "/ready", &health); err != nil {
			PrintError(c, "%s: %v", client.BaseURL(), err)
			return cli.Exit("", 1)
		}
		fmt.Fprintf(c.App.Writer, "%s is %s\n", client.BaseURL(), health.Status)
		return nil
	}

	var st handler.Status
	if err := client.GetData(ctx, "/status", &st); err != nil {
		return fmt.Errorf("%s: %w", client.BaseURL(), err)
	}
	return output.NewFormatter(format, flags.Wide).Format(c.App.Writer, st)
}
