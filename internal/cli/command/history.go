package command

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/storage"
)

// DefaultHistoryLimit is how many runs "warmstart history" shows.
const DefaultHistoryLimit = 20

// HistoryCommand returns the history command.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent checkpoint, restore and recovery runs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Number of runs to show (0 for all)",
				Value:   DefaultHistoryLimit,
			},
		},
		Action: historyAction,
	}
}

type runView struct {
	ID        string        `json:"id" yaml:"id" table:"wide"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Operation string        `json:"operation" yaml:"operation"`
	Phase     string        `json:"phase,omitempty" yaml:"phase,omitempty"`
	Image     string        `json:"image,omitempty" yaml:"image,omitempty"`
	Outcome   string        `json:"outcome" yaml:"outcome"`
	ExitCode  int           `json:"exit_code" yaml:"exit_code"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Expected  bool          `json:"expected,omitempty" yaml:"expected,omitempty" table:"wide"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty" table:"wide"`
}

func historyAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	j, err := storage.OpenJournal(e.cfg.Journal.Dir, e.log)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	records, err := j.List(c.Context, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	views := make([]runView, 0, len(records))
	for _, r := range records {
		views = append(views, runView{
			ID:        r.ID,
			StartedAt: r.StartedAt,
			Operation: string(r.Operation),
			Phase:     r.Phase,
			Image:     r.Image,
			Outcome:   r.Outcome,
			ExitCode:  r.ExitCode,
			Duration:  r.Duration().Round(time.Millisecond),
			Expected:  r.Expected,
			Error:     r.Error,
		})
	}
	return e.print(views)
}
