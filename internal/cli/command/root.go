package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/cli/config"
	"github.com/yndnr/warmstart/internal/core/service"
	"github.com/yndnr/warmstart/internal/infra/buildinfo"
)

// Metadata keys of the cli.App.
const (
	metaCLIConfig = "cliConfig"
	// metaRunner and metaRestorer replace the server process and the
	// snapshot tool.
	metaRunner   = "runner"
	metaRestorer = "restorer"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "warmstart",
		Usage:   "Checkpoint and restore warmstart-server",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			CheckpointCommand(),
			RestoreCommand(),
			PhasesCommand(),
			ImagesCommand(),
			HistoryCommand(),
			StatusCommand(),
			ShellCommand(),
			VersionCommand(),
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("cli-config"))
			if err != nil {
				return err
			}
			c.App.Metadata[metaCLIConfig] = cfg
			return nil
		},
	}
}

// globalFlags returns the global CLI flags. Empty values fall back to the
// CLI configuration file.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config-dir",
			Aliases: []string{"c"},
			Usage:   "Server directory holding server.yaml, server.env, variables/ and configDropins/",
			EnvVars: []string{"WARMSTART_CONFIG_DIR"},
		},
		&cli.StringFlag{
			Name:    "server-bin",
			Usage:   "warmstart-server executable",
			EnvVars: []string{"WARMSTART_SERVER_BIN"},
		},
		&cli.StringFlag{
			Name:    "server-addr",
			Aliases: []string{"s"},
			Usage:   "Status listener of a running server (e.g., 127.0.0.1:9080)",
			EnvVars: []string{"WARMSTART_SERVER_ADDR"},
		},
		&cli.StringFlag{
			Name:    "cli-config",
			Usage:   "CLI configuration file (default ~/.warmstart/cli.yaml)",
			EnvVars: []string{"WARMSTART_CLI_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Log lifecycle messages at debug level",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	ConfigDir  string
	ServerBin  string
	ServerAddr string

	// Output format
	Output string // table, json, yaml
	Wide   bool

	Verbose bool
}

// ParseGlobalFlags extracts global flags from context, filling unset values
// from the CLI configuration.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	cfg, ok := c.App.Metadata[metaCLIConfig].(*config.CLIConfig)
	if !ok {
		cfg = config.Default()
	}
	return &GlobalFlags{
		ConfigDir:  orDefault(c.String("config-dir"), cfg.ConfigDir),
		ServerBin:  orDefault(c.String("server-bin"), cfg.ServerBin),
		ServerAddr: orDefault(c.String("server-addr"), cfg.ServerAddr),
		Output:     orDefault(c.String("output"), cfg.DefaultOutput),
		Wide:       c.Bool("wide"),
		Verbose:    c.Bool("verbose"),
	}
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// runnerFrom returns the runner placed in the app metadata, if any.
func runnerFrom(c *cli.Context) (service.Runner, bool) {
	r, ok := c.App.Metadata[metaRunner].(service.Runner)
	return r, ok
}

func restorerFrom(c *cli.Context) (service.Restorer, bool) {
	r, ok := c.App.Metadata[metaRestorer].(service.Restorer)
	return r, ok
}

// PrintError prints an error message to the app's error writer.
func PrintError(c *cli.Context, format string, args ...any) {
	fmt.Fprintf(c.App.ErrWriter, "error: "+format+"\n", args...)
}
