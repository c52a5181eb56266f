package command

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/cli/output"
	"github.com/yndnr/warmstart/internal/core/service"
	"github.com/yndnr/warmstart/internal/freeze"
	"github.com/yndnr/warmstart/internal/infra/confloader"
	serverconfig "github.com/yndnr/warmstart/internal/server/config"
	"github.com/yndnr/warmstart/internal/storage"
	"github.com/yndnr/warmstart/internal/storage/image"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// env is what every command needs: the server configuration, the image
// store and a formatter for the result.
type env struct {
	flags    *GlobalFlags
	cfg      *serverconfig.ServerConfig
	resolver *confloader.Layered
	images   *image.Store
	log      logger.Logger
	out      io.Writer
	format   output.Formatter
}

func loadEnv(c *cli.Context) (*env, error) {
	flags := ParseGlobalFlags(c)
	format, err := output.ParseFormat(flags.Output)
	if err != nil {
		return nil, err
	}

	resolver := serverconfig.NewResolver(flags.ConfigDir)
	cfg, _, err := serverconfig.Load(resolver)
	if err != nil {
		return nil, err
	}

	level := "info"
	if flags.Verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Format: "text", Output: c.App.ErrWriter})
	if err != nil {
		return nil, err
	}

	images, err := image.NewStore(cfg.Checkpoint.StoreConfig())
	if err != nil {
		return nil, err
	}
	return &env{
		flags:    flags,
		cfg:      cfg,
		resolver: resolver,
		images:   images,
		log:      log,
		out:      c.App.Writer,
		format:   output.NewFormatter(format, flags.Wide),
	}, nil
}

func (e *env) print(data any) error {
	return e.format.Format(e.out, data)
}

// launcher runs warmstart-server from the configured binary and restores
// images with CRIU, unless the app metadata supplies replacements.
func (e *env) launcher(c *cli.Context, opts ...service.LauncherOption) *service.Launcher {
	runner, ok := runnerFrom(c)
	if !ok {
		runner = &service.ExecRunner{
			Path:   e.flags.ServerBin,
			Args:   []string{"--config-dir", e.flags.ConfigDir},
			Stdout: c.App.Writer,
			Stderr: c.App.ErrWriter,
		}
	}
	restorer, ok := restorerFrom(c)
	if !ok {
		restorer = freeze.NewCRIU(
			freeze.WithSettings(e.cfg.Checkpoint.CRIU.Settings()),
			freeze.WithLogger(e.log),
			freeze.WithEnv(e.lookupEnv),
		)
	}

	base := []service.LauncherOption{
		service.WithLauncherLogger(e.log),
		service.WithJournalDir(e.cfg.Journal.Dir),
		service.WithResolver(e.resolver),
		service.WithDisableRecovery(e.cfg.Checkpoint.DisableRecovery),
	}
	return service.NewLauncher(runner, restorer, e.images, append(base, opts...)...)
}

// lookupEnv reads CRIU's environment from server.env and the process.
func (e *env) lookupEnv(name string) (string, bool) {
	res, err := e.resolver.Resolve()
	if err != nil {
		return os.LookupEnv(name)
	}
	return res.Env(name)
}

// trimJournal keeps the journal within journal.keep records.
func (e *env) trimJournal(ctx context.Context) {
	j, err := storage.OpenJournal(e.cfg.Journal.Dir, e.log)
	if err != nil {
		e.log.Warn("open journal", "error", err)
		return
	}
	defer j.Close()
	if n, err := j.Prune(ctx, e.cfg.Journal.Keep); err != nil {
		e.log.Warn("prune journal", "error", err)
	} else if n > 0 {
		e.log.Debug("journal pruned", "removed", n)
	}
}
