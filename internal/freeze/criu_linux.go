//go:build linux

package freeze

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"syscall"
	"time"

	criulib "github.com/checkpoint-restore/go-criu/v8"
	criurpc "github.com/checkpoint-restore/go-criu/v8/rpc"
	"golang.org/x/sys/unix"
	"google.golang.org/protobuf/proto"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/storage/image"
)

var errnoPattern = regexp.MustCompile(`err:(-?\d+)`)

func (c *CRIU) client() *criulib.Criu {
	cl := criulib.MakeCriu()
	if c.settings.BinaryPath != "" {
		cl.SetCriuPath(c.settings.BinaryPath)
	}
	return cl
}

// Check verifies that CRIU can be started and is recent enough.
func (c *CRIU) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: OpCheck, Layer: LayerUnknown, Err: err}
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		c.logger.Debug("checking criu support", "kernel", unix.ByteSliceToString(uts.Release[:]))
	}

	ok, err := c.client().IsCriuAtLeast(MinCRIUVersion)
	if err != nil {
		return &Error{Op: OpCheck, Layer: LayerSystem, Err: domain.ErrUnsupportedPlatform.WithCause(err)}
	}
	if !ok {
		return &Error{
			Op:    OpCheck,
			Layer: LayerSystem,
			Err:   domain.ErrUnsupportedPlatform.WithDetails(fmt.Sprintf("criu older than %d", MinCRIUVersion)),
		}
	}
	return nil
}

// Freeze dumps the image's process, or this process when the manifest PID is
// zero, into img.
func (c *CRIU) Freeze(ctx context.Context, img *image.Image) error {
	settings, err := c.Settings(OpFreeze)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &Error{Op: OpFreeze, Layer: LayerUnknown, Err: err}
	}

	dir, fd, err := openPathForCRIU(img.Dir)
	if err != nil {
		return &Error{Op: OpFreeze, Layer: LayerSystem, Err: err}
	}
	defer dir.Close()

	confPath := img.Path(image.CRIUConfFile)
	if err := os.WriteFile(confPath, []byte(ConfContent(settings)), 0600); err != nil {
		return &Error{Op: OpFreeze, Layer: LayerSystem, Err: fmt.Errorf("write criu.conf: %w", err)}
	}

	pid := img.Manifest.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	opts := &criurpc.CriuOpts{
		Pid:            proto.Int32(int32(pid)),
		ImagesDirFd:    proto.Int32(fd),
		LogLevel:       proto.Int32(int32(settings.LogLevel)),
		LogFile:        proto.String(image.DumpLogFile),
		LeaveRunning:   proto.Bool(settings.LeaveRunning),
		ShellJob:       proto.Bool(settings.ShellJob),
		TcpEstablished: proto.Bool(settings.TCPEstablished),
		ExtUnixSk:      proto.Bool(settings.ExtUnixSk),
		ConfigFile:     proto.String(confPath),
	}

	start := time.Now()
	if err := c.client().Dump(opts, criulib.NoNotify{}); err != nil {
		fe := classify(OpFreeze, err)
		fe.Log = LogSummary(img.Path(image.DumpLogFile), 20)
		c.logger.Error("criu dump failed",
			"image", img.ID,
			"duration", time.Since(start),
			"dump_log", img.Path(image.DumpLogFile),
			"error", err,
		)
		return fe
	}
	c.logger.Info("criu dump completed", "image", img.ID, "duration", time.Since(start))
	return nil
}

// Resume confirms that this process was restored from img. A process dumped
// with leave-running never stopped and needs nothing.
func (c *CRIU) Resume(ctx context.Context, img *image.Image) error {
	if img.Manifest.CRIU.LeaveRunning {
		return nil
	}
	gen, err := image.Generation(img)
	if err != nil {
		return &Error{Op: OpResume, Layer: LayerSystem, Err: err}
	}
	if gen == 0 {
		return &Error{Op: OpResume, Layer: LayerRuntime, Err: errors.New("process was not restored from the image")}
	}
	return nil
}

// Restore restores img as a child of this process.
func (c *CRIU) Restore(ctx context.Context, img *image.Image) (Process, error) {
	settings := img.Manifest.CRIU
	if raw, ok := c.lookup(LogLevelEnv); ok {
		level, err := ParseLogLevel(raw)
		if err != nil {
			return nil, &Error{Op: OpRestore, Layer: LayerUnknown, Err: err}
		}
		settings.LogLevel = level
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: OpRestore, Layer: LayerUnknown, Err: err}
	}

	dir, fd, err := openPathForCRIU(img.Dir)
	if err != nil {
		return nil, &Error{Op: OpRestore, Layer: LayerSystem, Err: err}
	}
	defer dir.Close()

	opts := &criurpc.CriuOpts{
		ImagesDirFd:    proto.Int32(fd),
		LogLevel:       proto.Int32(int32(settings.LogLevel)),
		LogFile:        proto.String(image.RestoreLog),
		RstSibling:     proto.Bool(true),
		ShellJob:       proto.Bool(settings.ShellJob),
		TcpEstablished: proto.Bool(settings.TCPEstablished),
		ExtUnixSk:      proto.Bool(settings.ExtUnixSk),
	}
	if _, err := os.Stat(img.Path(image.CRIUConfFile)); err == nil {
		opts.ConfigFile = proto.String(img.Path(image.CRIUConfFile))
	}

	cl := c.client()
	if settings.BinaryPath != "" {
		cl.SetCriuPath(settings.BinaryPath)
	}

	notify := &restoreNotify{}
	start := time.Now()
	if err := cl.Restore(opts, notify); err != nil {
		fe := classify(OpRestore, err)
		fe.Log = LogSummary(img.Path(image.RestoreLog), 20)
		c.logger.Error("criu restore failed",
			"image", img.ID,
			"restore_log", img.Path(image.RestoreLog),
			"error", err,
		)
		return nil, fe
	}
	c.logger.Info("criu restore completed", "image", img.ID, "pid", notify.pid, "duration", time.Since(start))

	proc, err := os.FindProcess(int(notify.pid))
	if err != nil {
		return nil, &Error{Op: OpRestore, Layer: LayerSystem, Err: err}
	}
	return &restoredProcess{proc: proc}, nil
}

type restoreNotify struct {
	criulib.NoNotify
	pid int32
}

func (n *restoreNotify) PostRestore(pid int32) error {
	n.pid = pid
	return nil
}

type restoredProcess struct {
	proc *os.Process
}

func (p *restoredProcess) Pid() int { return p.proc.Pid }

func (p *restoredProcess) Wait() (int, error) {
	state, err := p.proc.Wait()
	if err != nil {
		return -1, err
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return state.ExitCode(), nil
}

// openPathForCRIU opens path and clears CLOEXEC so the descriptor is
// inherited by the CRIU swrk child.
func openPathForCRIU(path string) (*os.File, int32, error) {
	dir, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := unix.FcntlInt(dir.Fd(), unix.F_SETFD, 0); err != nil {
		dir.Close()
		return nil, 0, fmt.Errorf("clear CLOEXEC on %s: %w", path, err)
	}
	return dir, int32(dir.Fd()), nil
}

// classify attributes a go-criu error. CRIU reporting a failed operation is
// a runtime failure unless its errno points at permissions or missing
// kernel support; failing to run CRIU at all is a system failure.
func classify(op Op, err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Layer: LayerUnknown, Err: err}
	}
	m := errnoPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return &Error{Op: op, Layer: LayerSystem, Err: err}
	}
	errno, _ := strconv.Atoi(m[1])
	if errno < 0 {
		errno = -errno
	}
	switch syscall.Errno(errno) {
	case syscall.EPERM, syscall.EACCES, syscall.ENOSYS, syscall.ENOENT:
		return &Error{Op: op, Layer: LayerSystem, Err: err}
	}
	return &Error{Op: op, Layer: LayerRuntime, Err: err}
}
