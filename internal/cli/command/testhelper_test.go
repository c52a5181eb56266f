package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/warmstart/internal/core/service"
	"github.com/yndnr/warmstart/internal/freeze"
	"github.com/yndnr/warmstart/internal/infra/confloader"
	"github.com/yndnr/warmstart/internal/storage/image"
)

// fakeRunner stands in for warmstart-server. A checkpoint run writes and
// commits the image the launcher asked for.
type fakeRunner struct {
	mu     sync.Mutex
	images *image.Store
	calls  [][]string

	code     int
	bootCode int
}

func (r *fakeRunner) Run(_ context.Context, args []string) (int, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()

	if args == nil {
		return r.bootCode, nil
	}
	var id, phase string
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, service.ArgImage+"="); ok {
			id = v
		}
		if v, ok := strings.CutPrefix(a, service.ArgCheckpoint+"="); ok {
			phase = v
		}
	}
	if id != "" && r.code == 0 {
		img, err := r.images.Create(image.Manifest{ID: id, Phase: phase, PID: 4242, Build: "test"})
		if err != nil {
			return 0, err
		}
		if err := r.images.Commit(img); err != nil {
			return 0, err
		}
	}
	return r.code, nil
}

func (r *fakeRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

type fakeProcess struct{ code int }

func (p fakeProcess) Pid() int           { return 4242 }
func (p fakeProcess) Wait() (int, error) { return p.code, nil }

type fakeRestorer struct {
	code     int
	err      error
	restored []string
}

func (r *fakeRestorer) Restore(_ context.Context, img *image.Image) (freeze.Process, error) {
	r.restored = append(r.restored, img.ID)
	if r.err != nil {
		return nil, r.err
	}
	return fakeProcess{code: r.code}, nil
}

// fixture is a server directory with its image store and journal under one
// temporary root.
type fixture struct {
	dir      string
	images   *image.Store
	runner   *fakeRunner
	restorer *fakeRestorer
	stdin    string
}

func newFixture(t *testing.T, extraYAML string) *fixture {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := t.TempDir()
	dir := filepath.Join(root, "server")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	imagesDir := filepath.Join(root, "images")
	yaml := "checkpoint:\n  images_dir: " + imagesDir + "\n" + extraYAML +
		"journal:\n  dir: " + filepath.Join(root, "journal") + "\n"
	if err := os.WriteFile(filepath.Join(dir, confloader.ServerFile), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	images, err := image.NewStore(image.DefaultConfig(imagesDir))
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		dir:      dir,
		images:   images,
		runner:   &fakeRunner{images: images},
		restorer: &fakeRestorer{},
	}
}

type result struct {
	stdout string
	stderr string
	code   int
	err    error
}

// run executes the app against the fixture's server directory.
func (f *fixture) run(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Reader = strings.NewReader(f.stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Metadata = map[string]any{
		metaRunner:   f.runner,
		metaRestorer: f.restorer,
	}

	err := app.Run(append([]string{"warmstart", "--config-dir", f.dir}, args...))
	res := result{stdout: stdout.String(), stderr: stderr.String(), err: err}
	var ec cli.ExitCoder
	switch {
	case err == nil:
	case errors.As(err, &ec):
		res.code = ec.ExitCode()
	default:
		res.code = 1
	}
	return res
}

// commitImage adds a complete image to the store.
func (f *fixture) commitImage(t *testing.T, phase string) *image.Image {
	t.Helper()
	img, err := f.images.Create(image.Manifest{Phase: phase, PID: 1, Host: "node-1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.images.Commit(img); err != nil {
		t.Fatal(err)
	}
	opened, err := f.images.Open(img.ID)
	if err != nil {
		t.Fatal(err)
	}
	return opened
}
