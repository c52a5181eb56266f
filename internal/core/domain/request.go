package domain

import (
	"context"
	"sync/atomic"
)

// CheckpointRequest describes one checkpoint attempt. It is immutable after
// construction and is consumed exactly once by the controller.
type CheckpointRequest struct {
	phase                   Phase
	autoRestore             bool
	expectCheckpointFailure bool
	expectRestoreFailure    bool
	preCheckpoint           func(context.Context) error
	preRestore              func(context.Context) error
	phaseArgument           string

	consumed *atomic.Bool
}

// RequestOption configures a CheckpointRequest.
type RequestOption func(*CheckpointRequest)

// WithAutoRestore restores immediately after a successful checkpoint.
func WithAutoRestore() RequestOption {
	return func(r *CheckpointRequest) { r.autoRestore = true }
}

// WithExpectedCheckpointFailure marks a checkpoint failure as expected.
func WithExpectedCheckpointFailure() RequestOption {
	return func(r *CheckpointRequest) { r.expectCheckpointFailure = true }
}

// WithExpectedRestoreFailure marks a restore failure as expected.
func WithExpectedRestoreFailure() RequestOption {
	return func(r *CheckpointRequest) { r.expectRestoreFailure = true }
}

// WithPreCheckpoint sets an action run before any before-checkpoint hook.
func WithPreCheckpoint(fn func(context.Context) error) RequestOption {
	return func(r *CheckpointRequest) { r.preCheckpoint = fn }
}

// WithPreRestore sets an action run before the resume primitive.
func WithPreRestore(fn func(context.Context) error) RequestOption {
	return func(r *CheckpointRequest) { r.preRestore = fn }
}

// WithPhaseArgument overrides the phase with a raw external argument. The
// argument is parsed by NewCheckpointRequestFromArgument.
func WithPhaseArgument(arg string) RequestOption {
	return func(r *CheckpointRequest) { r.phaseArgument = arg }
}

// NewCheckpointRequest creates a request for the given phase.
func NewCheckpointRequest(phase Phase, opts ...RequestOption) (*CheckpointRequest, error) {
	r := &CheckpointRequest{
		phase:    phase,
		consumed: new(atomic.Bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.phaseArgument != "" {
		p, err := ParsePhase(r.phaseArgument)
		if err != nil {
			return nil, err
		}
		r.phase = p
	}
	if !r.phase.Valid() {
		return nil, &InvalidPhaseError{Literal: r.phase.String()}
	}

	return r, nil
}

// NewCheckpointRequestFromArgument parses the raw phase argument and creates a request.
func NewCheckpointRequestFromArgument(arg string, opts ...RequestOption) (*CheckpointRequest, error) {
	return NewCheckpointRequest(PhaseUnknown, append(opts, WithPhaseArgument(arg))...)
}

func (r *CheckpointRequest) Phase() Phase                  { return r.phase }
func (r *CheckpointRequest) AutoRestore() bool             { return r.autoRestore }
func (r *CheckpointRequest) ExpectCheckpointFailure() bool { return r.expectCheckpointFailure }
func (r *CheckpointRequest) ExpectRestoreFailure() bool    { return r.expectRestoreFailure }
func (r *CheckpointRequest) PhaseArgument() string         { return r.phaseArgument }

// PreCheckpoint runs the optional pre-checkpoint action.
func (r *CheckpointRequest) PreCheckpoint(ctx context.Context) error {
	if r.preCheckpoint == nil {
		return nil
	}
	return r.preCheckpoint(ctx)
}

// PreRestore runs the optional pre-restore action.
func (r *CheckpointRequest) PreRestore(ctx context.Context) error {
	if r.preRestore == nil {
		return nil
	}
	return r.preRestore(ctx)
}

// Consume marks the request as used. It returns ErrRequestConsumed on reuse.
func (r *CheckpointRequest) Consume() error {
	if !r.consumed.CompareAndSwap(false, true) {
		return ErrRequestConsumed
	}
	return nil
}
