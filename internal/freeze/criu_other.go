//go:build !linux

package freeze

import (
	"context"
	"runtime"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/storage/image"
)

func (c *CRIU) unsupported(op Op) error {
	return &Error{
		Op:    op,
		Layer: LayerSystem,
		Err:   domain.ErrUnsupportedPlatform.WithDetails(runtime.GOOS),
	}
}

// Check always fails: CRIU only runs on Linux.
func (c *CRIU) Check(ctx context.Context) error {
	return c.unsupported(OpCheck)
}

func (c *CRIU) Freeze(ctx context.Context, img *image.Image) error {
	if _, err := c.Settings(OpFreeze); err != nil {
		return err
	}
	return c.unsupported(OpFreeze)
}

func (c *CRIU) Resume(ctx context.Context, img *image.Image) error {
	return c.unsupported(OpResume)
}

func (c *CRIU) Restore(ctx context.Context, img *image.Image) (Process, error) {
	return nil, c.unsupported(OpRestore)
}
