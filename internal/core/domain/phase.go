package domain

import (
	"fmt"
	"strings"
)

// Phase is a lifecycle point at which a checkpoint may be taken.
// Phases are ordered; a later phase is reached after an earlier one.
type Phase int

const (
	// PhaseUnknown is the zero value and never a valid request.
	PhaseUnknown Phase = iota
	PhaseBeforeFeatureResolution
	PhaseAfterFeatureActivation
	PhaseBeforeAppStart
	PhaseAfterAppStart
)

type phaseSpelling struct {
	canonical string
	aliases   []string
}

var phaseSpellings = map[Phase]phaseSpelling{
	PhaseBeforeFeatureResolution: {"BEFORE_FEATURE_RESOLUTION", []string{"beforeFeatureResolution"}},
	PhaseAfterFeatureActivation:  {"AFTER_FEATURE_ACTIVATION", []string{"afterFeatureActivation", "features"}},
	PhaseBeforeAppStart:          {"BEFORE_APP_START", []string{"beforeAppStart", "deployment"}},
	PhaseAfterAppStart:           {"AFTER_APP_START", []string{"afterAppStart", "applications"}},
}

// Phases returns all valid phases in lifecycle order.
func Phases() []Phase {
	return []Phase{
		PhaseBeforeFeatureResolution,
		PhaseAfterFeatureActivation,
		PhaseBeforeAppStart,
		PhaseAfterAppStart,
	}
}

// String returns the canonical name of the phase.
func (p Phase) String() string {
	if s, ok := phaseSpellings[p]; ok {
		return s.canonical
	}
	return "UNKNOWN"
}

// Aliases returns the accepted human-readable spellings of the phase.
func (p Phase) Aliases() []string {
	s, ok := phaseSpellings[p]
	if !ok {
		return nil
	}
	out := make([]string, len(s.aliases))
	copy(out, s.aliases)
	return out
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	_, ok := phaseSpellings[p]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, &InvalidPhaseError{Literal: p.String()}
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// InvalidPhaseError is returned for an unrecognized phase argument.
type InvalidPhaseError struct {
	Literal string
}

func (e *InvalidPhaseError) Error() string {
	return fmt.Sprintf("invalid checkpoint phase %q", e.Literal)
}

// ParsePhase parses an externally supplied phase argument.
// Canonical names are matched first, then aliases, both case-insensitively.
func ParsePhase(raw string) (Phase, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return PhaseUnknown, &InvalidPhaseError{Literal: raw}
	}

	for _, p := range Phases() {
		if strings.EqualFold(s, phaseSpellings[p].canonical) {
			return p, nil
		}
	}
	for _, p := range Phases() {
		for _, alias := range phaseSpellings[p].aliases {
			if strings.EqualFold(s, alias) {
				return p, nil
			}
		}
	}

	return PhaseUnknown, &InvalidPhaseError{Literal: raw}
}

// BootStage is the server's progress through startup.
// Each stage value matches the phase reached at that point; StageRunning
// follows the last phase.
type BootStage int

const (
	StageNotStarted BootStage = iota
	StageFeatureResolution
	StageFeatureActivation
	StageAppStart
	StageAppStarted
	StageRunning
)

var stageNames = [...]string{
	StageNotStarted:        "not-started",
	StageFeatureResolution: "feature-resolution",
	StageFeatureActivation: "feature-activation",
	StageAppStart:          "app-start",
	StageAppStarted:        "app-started",
	StageRunning:           "running",
}

func (s BootStage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// IsReachable reports whether the server, at stage current, has not yet passed
// the requested phase.
func IsReachable(requested Phase, current BootStage) bool {
	if !requested.Valid() {
		return false
	}
	return int(current) <= int(requested)
}

// StageFor returns the boot stage at which the phase is reached.
func StageFor(p Phase) BootStage {
	return BootStage(p)
}
