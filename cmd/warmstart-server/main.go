package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/yndnr/warmstart/internal/infra/buildinfo"
	"github.com/yndnr/warmstart/internal/server/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configDir     = flag.String("config-dir", defaultConfigDir(), "Server directory holding server.yaml, server.env, variables/ and configDropins/")
		checkpoint    = flag.String("checkpoint", "", "Take a checkpoint at this phase")
		imageID       = flag.String("image", "", "ID of the image to write the checkpoint to")
		autoRestore   = flag.Bool("auto-restore", false, "Restore in-process right after the checkpoint is taken")
		expectCkptErr = flag.Bool("expect-checkpoint-failure", false, "Treat a checkpoint failure as expected")
		expectRestErr = flag.Bool("expect-restore-failure", false, "Treat a restore failure as expected")
		simulate      = flag.Bool("simulate", false, "Freeze in-process instead of calling CRIU")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("warmstart-server %s\n", buildinfo.String())
		return 0
	}

	rt, err := runtime.New(runtime.Options{
		ConfigDir:               *configDir,
		Checkpoint:              *checkpoint,
		ImageID:                 *imageID,
		AutoRestore:             *autoRestore,
		ExpectCheckpointFailure: *expectCkptErr,
		ExpectRestoreFailure:    *expectRestErr,
		Simulate:                *simulate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return rt.Run(context.Background())
}

func defaultConfigDir() string {
	if dir := os.Getenv("WARMSTART_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/warmstart"
}
