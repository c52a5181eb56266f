package domain

// MessageCode is a stable, greppable identifier logged as the first token of
// every lifecycle message. Codes and their argument keys are part of the
// external contract; the trailing letter gives the severity.
type MessageCode string

const (
	MsgCheckpointRequested MessageCode = "WSCR0100I"
	MsgCheckpointPreparing MessageCode = "WSCR0101I"
	MsgCheckpointTaken     MessageCode = "WSCR0102I"
	MsgCheckpointFailed    MessageCode = "WSCR0103E"
	MsgPrepareFailed       MessageCode = "WSCR0104E"

	MsgRestoreRequested MessageCode = "WSCR0110I"
	MsgRestoreSucceeded MessageCode = "WSCR0111I"
	MsgRestoreFailed    MessageCode = "WSCR0112E"
	MsgRestoreHookFail  MessageCode = "WSCR0113W"
	MsgRestoreHookSlow  MessageCode = "WSCR0114W"

	MsgRecovering       MessageCode = "WSCR0120W"
	MsgRecovered        MessageCode = "WSCR0121I"
	MsgRecoveryDisabled MessageCode = "WSCR0122E"

	MsgConfigChanged     MessageCode = "WSCR0130I"
	MsgDeadlinesAdjusted MessageCode = "WSCR0140I"

	MsgInvalidPhase MessageCode = "WSCR0150E"
	MsgUnsupported  MessageCode = "WSCR0151E"
	MsgDisabled     MessageCode = "WSCR0152E"

	MsgRunning MessageCode = "WSCR0160I"
)

var messageText = map[MessageCode]string{
	MsgCheckpointRequested: "checkpoint requested",
	MsgCheckpointPreparing: "checkpoint preparing",
	MsgCheckpointTaken:     "checkpoint taken",
	MsgCheckpointFailed:    "checkpoint failed",
	MsgPrepareFailed:       "checkpoint prepare hook failed",
	MsgRestoreRequested:    "restore requested",
	MsgRestoreSucceeded:    "restore succeeded",
	MsgRestoreFailed:       "restore failed",
	MsgRestoreHookFail:     "restore hook failed",
	MsgRestoreHookSlow:     "restore hook timed out",
	MsgRecovering:          "restore failed, recovering with cold boot",
	MsgRecovered:           "recovery cold boot succeeded",
	MsgRecoveryDisabled:    "restore failed and recovery is disabled",
	MsgConfigChanged:       "configuration value changed on restore",
	MsgDeadlinesAdjusted:   "deadlines adjusted",
	MsgInvalidPhase:        "invalid checkpoint phase",
	MsgUnsupported:         "checkpoint unsupported on this platform",
	MsgDisabled:            "checkpoint disabled",
	MsgRunning:             "server running",
}

// String returns "<code>: <text>", the form written to the log.
func (c MessageCode) String() string {
	if text, ok := messageText[c]; ok {
		return string(c) + ": " + text
	}
	return string(c)
}
