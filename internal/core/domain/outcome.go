package domain

import "fmt"

// Kind identifies the result of a single freeze or resume attempt.
type Kind int

const (
	KindSuccess Kind = iota
	KindUnsupportedPlatform
	KindDisabledInRuntime
	KindPrepareFailed
	KindSnapshotRuntime
	KindSnapshotSystem
	KindSnapshotUnknown
	KindInvalidPhase
	KindRestoreTool
	KindRestoreSystem
	KindRestoreRuntime
	KindRestoreApplication
	KindRestoreUnknown
)

// Exit codes of the server and launcher processes.
const (
	ExitSuccess             = 0
	ExitRestoreTool         = 1
	ExitUnsupportedPlatform = 70
	ExitDisabledInRuntime   = 71
	ExitPrepareFailed       = 72
	ExitSnapshotRuntime     = 73
	ExitSnapshotSystem      = 74
	ExitSnapshotUnknown     = 75
	ExitInvalidPhase        = 78
	ExitRestoreSystem       = 80
	ExitRestoreRuntime      = 81
	ExitRestoreApplication  = 82
	ExitRestoreUnknown      = 83
)

// ExitStartupFailed is returned by a server that could not start or shut
// down cleanly outside any checkpoint or restore. No Kind maps to it.
const ExitStartupFailed = 79

type kindInfo struct {
	name    string
	code    int
	message MessageCode
}

var kinds = map[Kind]kindInfo{
	KindSuccess:             {"success", ExitSuccess, ""},
	KindUnsupportedPlatform: {"unsupported-platform", ExitUnsupportedPlatform, MsgUnsupported},
	KindDisabledInRuntime:   {"disabled", ExitDisabledInRuntime, MsgDisabled},
	KindPrepareFailed:       {"prepare-failed", ExitPrepareFailed, MsgPrepareFailed},
	KindSnapshotRuntime:     {"snapshot-failed-runtime", ExitSnapshotRuntime, MsgCheckpointFailed},
	KindSnapshotSystem:      {"snapshot-failed-system", ExitSnapshotSystem, MsgCheckpointFailed},
	KindSnapshotUnknown:     {"snapshot-failed-unknown", ExitSnapshotUnknown, MsgCheckpointFailed},
	KindInvalidPhase:        {"invalid-phase", ExitInvalidPhase, MsgInvalidPhase},
	KindRestoreTool:         {"restore-failed-tool", ExitRestoreTool, MsgRestoreFailed},
	KindRestoreSystem:       {"restore-failed-system", ExitRestoreSystem, MsgRestoreFailed},
	KindRestoreRuntime:      {"restore-failed-runtime", ExitRestoreRuntime, MsgRestoreFailed},
	KindRestoreApplication:  {"restore-failed-application", ExitRestoreApplication, MsgRestoreFailed},
	KindRestoreUnknown:      {"restore-failed-unknown", ExitRestoreUnknown, MsgRestoreFailed},
}

// Kinds returns every defined kind, success first.
func Kinds() []Kind {
	return []Kind{
		KindSuccess,
		KindUnsupportedPlatform,
		KindDisabledInRuntime,
		KindPrepareFailed,
		KindSnapshotRuntime,
		KindSnapshotSystem,
		KindSnapshotUnknown,
		KindInvalidPhase,
		KindRestoreTool,
		KindRestoreSystem,
		KindRestoreRuntime,
		KindRestoreApplication,
		KindRestoreUnknown,
	}
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ExitCode returns the process exit code for the kind.
func (k Kind) ExitCode() int {
	if info, ok := kinds[k]; ok {
		return info.code
	}
	return ExitRestoreUnknown
}

// Message returns the log message code reported for the kind.
func (k Kind) Message() MessageCode {
	return kinds[k].message
}

// IsCheckpointFailure reports whether the kind belongs to the checkpoint direction.
func (k Kind) IsCheckpointFailure() bool {
	switch k {
	case KindUnsupportedPlatform, KindDisabledInRuntime, KindPrepareFailed,
		KindSnapshotRuntime, KindSnapshotSystem, KindSnapshotUnknown, KindInvalidPhase:
		return true
	}
	return false
}

// IsRestoreFailure reports whether the kind belongs to the restore direction.
func (k Kind) IsRestoreFailure() bool {
	switch k {
	case KindRestoreTool, KindRestoreSystem, KindRestoreRuntime,
		KindRestoreApplication, KindRestoreUnknown:
		return true
	}
	return false
}

// Outcome is the tagged result of a checkpoint or restore attempt.
type Outcome struct {
	Kind  Kind
	State State
	// Hook names the first failing hook, if a hook caused the failure.
	Hook string
	// Image is the snapshot image involved, if any.
	Image string
	Cause error
	// Expected is set when the request declared this failure as expected.
	Expected bool
}

// Success reports whether the attempt succeeded.
func (o Outcome) Success() bool {
	return o.Kind == KindSuccess
}

// ExitCode returns the process exit code for the outcome.
func (o Outcome) ExitCode() int {
	return o.Kind.ExitCode()
}

// Err returns the outcome as an error, or nil on success.
func (o Outcome) Err() error {
	if o.Success() {
		return nil
	}
	return &OutcomeError{Outcome: o}
}

// OutcomeError wraps a failed Outcome as an error.
type OutcomeError struct {
	Outcome Outcome
}

func (e *OutcomeError) Error() string {
	o := e.Outcome
	msg := fmt.Sprintf("%s (exit %d)", o.Kind, o.ExitCode())
	if o.Hook != "" {
		msg += fmt.Sprintf(" in hook %q", o.Hook)
	}
	if o.Cause != nil {
		msg += ": " + o.Cause.Error()
	}
	return msg
}

func (e *OutcomeError) Unwrap() error {
	return e.Outcome.Cause
}

// KindForExitCode returns the kind whose exit code is code. Code 0 maps to
// KindSuccess.
func KindForExitCode(code int) (Kind, bool) {
	for _, k := range Kinds() {
		if kinds[k].code == code {
			return k, true
		}
	}
	return KindSuccess, false
}

// StateFor returns the terminal state a failure of kind k leaves the run in.
// Success has no single state and returns StateNotStarted.
func (k Kind) StateFor() State {
	switch {
	case k.IsCheckpointFailure():
		return StateCheckpointFailed
	case k.IsRestoreFailure():
		return StateRestoreFailed
	}
	return StateNotStarted
}
