package command

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/core/service"
)

// RestoreCommand returns the restore command.
func RestoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Restore an image and wait for the restored server to exit",
		ArgsUsage: "[latest|<image-id>|<id-prefix>]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "expect-failure",
				Usage: "The restore is expected to fail",
			},
			&cli.BoolFlag{
				Name:  "no-recovery",
				Usage: "Do not cold boot the server when the restore fails",
			},
			&cli.DurationFlag{
				Name:  "recovery-interval",
				Usage: "Minimum time between two recovery cold boots",
				Value: service.DefaultRecoveryInterval,
			},
		},
		Action: restoreAction,
	}
}

func restoreAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	ref := "latest"
	if c.Args().Present() {
		ref = c.Args().First()
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []service.LauncherOption{service.WithRecoveryInterval(c.Duration("recovery-interval"))}
	if c.Bool("no-recovery") {
		opts = append(opts, service.WithDisableRecovery(true))
	}
	o := e.launcher(c, opts...).Restore(ctx, ref, service.RestoreOptions{ExpectFailure: c.Bool("expect-failure")})
	e.trimJournal(context.WithoutCancel(ctx))
	return e.finish("restore", o)
}
