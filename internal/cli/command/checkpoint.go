package command

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/core/service"
)

// CheckpointCommand returns the checkpoint command.
func CheckpointCommand() *cli.Command {
	return &cli.Command{
		Name:      "checkpoint",
		Usage:     "Start the server and checkpoint it at a phase",
		ArgsUsage: " ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "at",
				Usage:    "Phase to checkpoint at (see 'warmstart phases')",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "auto-restore",
				Usage: "Restore the image as soon as it is taken",
			},
			&cli.BoolFlag{
				Name:  "expect-checkpoint-failure",
				Usage: "The checkpoint is expected to fail",
			},
			&cli.BoolFlag{
				Name:  "expect-restore-failure",
				Usage: "The restore is expected to fail",
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "Freeze in-process instead of calling CRIU; with --auto-restore the server restores itself",
			},
		},
		Action: checkpointAction,
	}
}

func checkpointAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := service.LaunchRequest{
		Phase:                   c.String("at"),
		AutoRestore:             c.Bool("auto-restore"),
		ExpectCheckpointFailure: c.Bool("expect-checkpoint-failure"),
		ExpectRestoreFailure:    c.Bool("expect-restore-failure"),
	}
	if c.Bool("simulate") {
		// The simulated freeze never leaves the server process, so the
		// server restores itself.
		req.Args = append(req.Args, "--simulate")
		if req.AutoRestore {
			req.Args = append(req.Args, "--auto-restore")
			req.AutoRestore = false
		}
	}

	o := e.launcher(c).Checkpoint(ctx, req)
	e.trimJournal(context.WithoutCancel(ctx))
	return e.finish("checkpoint", o)
}

// outcomeView is how a checkpoint or restore result is printed.
type outcomeView struct {
	Operation string `json:"operation" yaml:"operation"`
	State     string `json:"state" yaml:"state"`
	Outcome   string `json:"outcome" yaml:"outcome"`
	ExitCode  int    `json:"exit_code" yaml:"exit_code"`
	Image     string `json:"image,omitempty" yaml:"image,omitempty"`
	Hook      string `json:"hook,omitempty" yaml:"hook,omitempty"`
	Expected  bool   `json:"expected,omitempty" yaml:"expected,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newOutcomeView(op string, o domain.Outcome) outcomeView {
	v := outcomeView{
		Operation: op,
		State:     o.State.String(),
		Outcome:   o.Kind.String(),
		ExitCode:  o.ExitCode(),
		Image:     o.Image,
		Hook:      o.Hook,
		Expected:  o.Expected,
	}
	if o.Cause != nil {
		v.Error = o.Cause.Error()
	}
	return v
}

// finish prints the outcome and turns a failure into the process exit code.
func (e *env) finish(op string, o domain.Outcome) error {
	if err := e.print(newOutcomeView(op, o)); err != nil {
		return err
	}
	if code := o.ExitCode(); code != domain.ExitSuccess {
		return cli.Exit("", code)
	}
	return nil
}
