package service

import (
	"errors"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/core/hook"
	"github.com/yndnr/warmstart/internal/freeze"
	"github.com/yndnr/warmstart/internal/storage/image"
)

// Classify maps an error from a checkpoint or restore step to an outcome.
// The direction is inferred from the error type; an error that carries no
// direction is a checkpoint failure of unknown cause. Classify(nil) is
// success.
//
// @design DS-0103
func Classify(err error) domain.Outcome {
	return classify(err, domain.KindSnapshotUnknown)
}

// ClassifyRestore is Classify for the restore step: an error that carries no
// direction is a restore failure of unknown cause.
func ClassifyRestore(err error) domain.Outcome {
	return classify(err, domain.KindRestoreUnknown)
}

func classify(err error, fallback domain.Kind) domain.Outcome {
	if err == nil {
		return domain.Outcome{Kind: domain.KindSuccess}
	}
	o := domain.Outcome{Kind: fallback, Cause: err}

	var (
		phaseErr *domain.InvalidPhaseError
		failure  *hook.Failure
	)
	switch {
	case errors.As(err, &phaseErr):
		o.Kind = domain.KindInvalidPhase

	case errors.As(err, &failure):
		o.Hook = failure.Hook
		if failure.Timing == hook.BeforeCheckpoint {
			o.Kind = domain.KindPrepareFailed
		} else {
			o.Kind = restoreKindForHook(failure.Layer)
		}

	case errors.Is(err, domain.ErrCheckpointDisabled):
		o.Kind = domain.KindDisabledInRuntime

	case errors.Is(err, domain.ErrUnsupportedPlatform):
		o.Kind = domain.KindUnsupportedPlatform

	case errors.Is(err, domain.ErrPhasePassed),
		errors.Is(err, domain.ErrCheckpointInProgress),
		errors.Is(err, domain.ErrRequestConsumed):
		o.Kind = domain.KindPrepareFailed

	case isImageError(err):
		o.Kind = domain.KindRestoreTool

	default:
		if fe, ok := freeze.AsError(err); ok {
			o.Kind = kindForFreezeError(fe)
		}
	}

	if o.Kind == domain.KindUnsupportedPlatform && fallback.IsRestoreFailure() {
		o.Kind = domain.KindRestoreSystem
	}
	o.State = o.Kind.StateFor()
	return o
}

func kindForFreezeError(fe *freeze.Error) domain.Kind {
	switch fe.Op {
	case freeze.OpCheck:
		return domain.KindUnsupportedPlatform
	case freeze.OpRestore:
		return domain.KindRestoreTool
	case freeze.OpResume:
		switch fe.Layer {
		case freeze.LayerRuntime:
			return domain.KindRestoreRuntime
		case freeze.LayerSystem:
			return domain.KindRestoreSystem
		}
		return domain.KindRestoreUnknown
	}

	switch fe.Layer {
	case freeze.LayerRuntime:
		return domain.KindSnapshotRuntime
	case freeze.LayerSystem:
		return domain.KindSnapshotSystem
	}
	return domain.KindSnapshotUnknown
}

func restoreKindForHook(l hook.Layer) domain.Kind {
	switch l {
	case hook.LayerApplication:
		return domain.KindRestoreApplication
	case hook.LayerRuntime:
		return domain.KindRestoreRuntime
	case hook.LayerSystem:
		return domain.KindRestoreSystem
	}
	return domain.KindRestoreUnknown
}

func isImageError(err error) bool {
	for _, target := range []error{
		image.ErrNotFound,
		image.ErrNoImages,
		image.ErrIncomplete,
		image.ErrIDMismatch,
		image.ErrChecksumMismatch,
		image.ErrAmbiguous,
		domain.ErrImageInvalid,
		domain.ErrImageStale,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
