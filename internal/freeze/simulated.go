package freeze

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yndnr/warmstart/internal/storage/image"
)

// Simulated is an in-process Freezer that takes no real snapshot. The process
// keeps running through Freeze, so Resume always succeeds. It is used when
// checkpoint.simulate is set and in tests.
type Simulated struct {
	mu      sync.Mutex
	frozen  []string
	resumed []string
	now     func() time.Time

	// CheckErr, FreezeErr and ResumeErr are returned by the matching calls.
	CheckErr  error
	FreezeErr error
	ResumeErr error
	// OnFreeze runs inside Freeze, before it returns.
	OnFreeze func()
}

// NewSimulated creates a simulated freezer.
func NewSimulated() *Simulated {
	return &Simulated{now: time.Now}
}

func (s *Simulated) Check(ctx context.Context) error {
	return s.CheckErr
}

// Freeze writes a dump log into img and records the call.
func (s *Simulated) Freeze(ctx context.Context, img *image.Image) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: OpFreeze, Layer: LayerUnknown, Err: err}
	}
	if s.FreezeErr != nil {
		return s.FreezeErr
	}
	line := fmt.Sprintf("%s simulated dump of pid %d finished successfully\n",
		s.now().UTC().Format(time.RFC3339Nano), os.Getpid())
	if err := os.WriteFile(img.Path(image.DumpLogFile), []byte(line), 0600); err != nil {
		return &Error{Op: OpFreeze, Layer: LayerSystem, Err: err}
	}
	if s.OnFreeze != nil {
		s.OnFreeze()
	}

	s.mu.Lock()
	s.frozen = append(s.frozen, img.ID)
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Resume(ctx context.Context, img *image.Image) error {
	if s.ResumeErr != nil {
		return s.ResumeErr
	}
	s.mu.Lock()
	s.resumed = append(s.resumed, img.ID)
	s.mu.Unlock()
	return nil
}

// Frozen returns the IDs of images frozen so far.
func (s *Simulated) Frozen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frozen...)
}

// Resumed returns the IDs of images resumed so far.
func (s *Simulated) Resumed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resumed...)
}
