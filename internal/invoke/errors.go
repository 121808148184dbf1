package invoke

import (
	"errors"
	"fmt"
)

// Stage names the step of a run that failed.
type Stage string

const (
	StageUsage      Stage = "usage"
	StageInput      Stage = "input"
	StageLoad       Stage = "load model"
	StageTranscribe Stage = "transcribe"
	StageOutput     Stage = "output"
)

// Exit statuses. Anything not classified by stage exits with 1.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsage      = 2
	ExitInput      = 3
	ExitLoad       = 4
	ExitTranscribe = 5
)

var ErrUsage = errors.New("expected exactly one audio file path")

// Error is a fatal failure tagged with the stage it happened in.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func newError(stage Stage, err error) error {
	return &Error{Stage: stage, Err: err}
}

// UsageError reports a command-line mistake.
func UsageError(err error) error {
	return newError(StageUsage, err)
}

// StageOf returns the stage of err, or "" if err is not a staged error.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

func IsUsage(err error) bool { return StageOf(err) == StageUsage }

func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch StageOf(err) {
	case StageUsage:
		return ExitUsage
	case StageInput:
		return ExitInput
	case StageLoad:
		return ExitLoad
	case StageTranscribe:
		return ExitTranscribe
	default:
		return ExitFailure
	}
}
