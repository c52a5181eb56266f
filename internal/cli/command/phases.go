package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/cli/output"
	"github.com/yndnr/warmstart/internal/core/domain"
)

// PhasesCommand returns the phases command.
func PhasesCommand() *cli.Command {
	return &cli.Command{
		Name:   "phases",
		Usage:  "List the phases a checkpoint can be taken at",
		Action: phasesAction,
	}
}

type phaseView struct {
	Name    string   `json:"name" yaml:"name"`
	Aliases []string `json:"aliases" yaml:"aliases"`
	// Stage is the boot stage at which the checkpoint is taken.
	Stage string `json:"stage" yaml:"stage"`
}

func phaseViews() []phaseView {
	var views []phaseView
	for _, p := range domain.Phases() {
		views = append(views, phaseView{
			Name:    p.String(),
			Aliases: p.Aliases(),
			Stage:   domain.StageFor(p).String(),
		})
	}
	return views
}

func phasesAction(c *cli.Context) error {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return err
	}
	return output.NewFormatter(format, flags.Wide).Format(c.App.Writer, phaseViews())
}
