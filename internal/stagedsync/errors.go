package stagedsync

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a stage call failed.
type ErrorKind int

const (
	// KindFatal aborts the run. Errors not classified otherwise are fatal.
	KindFatal ErrorKind = iota
	// KindRetryable failures are retried with backoff.
	KindRetryable
	// KindBadBlock is reported when a stage rejects a block; it only ends a
	// run when the same block keeps being rejected.
	KindBadBlock
	// KindValidation means a stage broke its own contract.
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindRetryable:
		return "retryable"
	case KindBadBlock:
		return "bad block"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// StageError is an error classified by a stage.
type StageError struct {
	Kind ErrorKind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Fatal marks err as unrecoverable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Kind: KindFatal, Err: err}
}

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Kind: KindRetryable, Err: err}
}

func validationErrorf(format string, args ...interface{}) error {
	return &StageError{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// BadBlockError reports an invalid block at Height.
type BadBlockError struct {
	Height uint64
	Err    error
}

func (e *BadBlockError) Error() string {
	return fmt.Sprintf("bad block %d: %v", e.Height, e.Err)
}

func (e *BadBlockError) Unwrap() error { return e.Err }

// UnwindRequest asks the pipeline to unwind every stage to To without
// marking any block as bad, for example after a reorganization.
type UnwindRequest struct {
	To     uint64
	Reason string
}

func (r *UnwindRequest) Error() string {
	return fmt.Sprintf("unwind to %d requested: %s", r.To, r.Reason)
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	var (
		stageErr *StageError
		badBlock *BadBlockError
	)
	switch {
	case errors.As(err, &badBlock):
		return KindBadBlock
	case errors.As(err, &stageErr):
		return stageErr.Kind
	default:
		return KindFatal
	}
}

// PipelineError is returned when a run aborts. From and To bound the range
// the failing call worked on: (From, To] for execute and (To, From] for
// unwind.
type PipelineError struct {
	Stage StageID
	Kind  ErrorKind
	From  uint64
	To    uint64
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("stage %s failed (%s) on range %d..%d: %v", e.Stage, e.Kind, e.From, e.To, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
