// Package domain defines the core checkpoint/restore domain model.
//
// Domain types are pure values without IO dependencies:
//
//   - Phase: ordered lifecycle points at which a checkpoint may be taken
//   - CheckpointRequest: immutable description of one checkpoint attempt
//   - State: the checkpoint/restore state machine of one run
//   - Outcome/Kind: failure taxonomy and process exit codes
//   - MessageCode: stable log message codes, one per transition
//   - RunningCondition: the run context handed to every hook
//   - Deadline: timers recomputed across the frozen interval
//   - Errors: domain-specific error definitions
//
// @design DS-0101
package domain
