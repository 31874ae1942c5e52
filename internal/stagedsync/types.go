package stagedsync

import (
	"fmt"
)

// StageID names a stage. It is stable across releases because it keys the
// stage's persisted checkpoint.
type StageID string

func (id StageID) String() string { return string(id) }

// Checkpoint is a stage's progress marker.
type Checkpoint struct {
	// BlockNumber is the highest block the stage fully processed.
	BlockNumber uint64
	// Extra carries stage specific resume data.
	Extra []byte
}

// NewCheckpoint returns a checkpoint at height without auxiliary data.
func NewCheckpoint(height uint64) Checkpoint {
	return Checkpoint{BlockNumber: height}
}

func (c Checkpoint) String() string {
	if len(c.Extra) == 0 {
		return fmt.Sprintf("%d", c.BlockNumber)
	}
	return fmt.Sprintf("%d+%X", c.BlockNumber, c.Extra)
}

// ExecInput describes one execute call.
type ExecInput struct {
	// Target is the height to reach. Nil means as far as possible.
	Target *uint64
	// Checkpoint is the stage's progress. Nil means nothing was processed yet.
	Checkpoint *Checkpoint
}

// Progress returns the height the stage already reached.
func (in ExecInput) Progress() uint64 {
	if in.Checkpoint == nil {
		return 0
	}
	return in.Checkpoint.BlockNumber
}

// CurrentCheckpoint returns the input checkpoint or the zero checkpoint.
func (in ExecInput) CurrentCheckpoint() Checkpoint {
	if in.Checkpoint == nil {
		return Checkpoint{}
	}
	return *in.Checkpoint
}

// NextBlock is the first height not yet processed.
func (in ExecInput) NextBlock() uint64 {
	return in.Progress() + 1
}

// TargetReached reports whether the progress already meets a set target.
func (in ExecInput) TargetReached() bool {
	return in.Target != nil && in.Progress() >= *in.Target
}

// Bound returns a copy of the input whose target does not exceed height.
func (in ExecInput) Bound(height uint64) ExecInput {
	if in.Target == nil || *in.Target > height {
		h := height
		in.Target = &h
	}
	return in
}

// NextRange returns the inclusive range of heights one call should process
// when at most threshold blocks are handled per call. last is true when the
// range ends at the target. The range is empty when to < from. A nil target
// yields an empty range.
func (in ExecInput) NextRange(threshold uint64) (from, to uint64, last bool) {
	from = in.NextBlock()
	if in.Target == nil || *in.Target < from {
		return from, in.Progress(), true
	}
	to = *in.Target
	if threshold > 0 && to-in.Progress() > threshold {
		to = in.Progress() + threshold
	}
	return from, to, to == *in.Target
}

// IsDone reports whether out completes the work requested by the input.
func (in ExecInput) IsDone(out ExecOutput) bool {
	return in.Target == nil || out.Checkpoint.BlockNumber >= *in.Target
}

// ExecOutput is the result of one execute call.
type ExecOutput struct {
	Checkpoint Checkpoint
}

// UnwindInput describes one unwind call.
type UnwindInput struct {
	// UnwindTo is the height the stage must be rolled back to.
	UnwindTo uint64
	// Checkpoint is the stage's progress before the unwind.
	Checkpoint Checkpoint
	// BadBlock is the invalid height that caused the unwind. It is only set
	// for the stage that reported it.
	BadBlock *uint64
}

// Range returns the inclusive range of heights whose effects must be
// reverted. The range is empty when to < from.
func (in UnwindInput) Range() (from, to uint64) {
	return in.UnwindTo + 1, in.Checkpoint.BlockNumber
}

// Empty reports whether there is nothing to revert.
func (in UnwindInput) Empty() bool {
	return in.Checkpoint.BlockNumber <= in.UnwindTo
}

// UnwindOutput is the result of one unwind call.
type UnwindOutput struct {
	Checkpoint Checkpoint
}

// StageProgress is a stage's persisted progress.
type StageProgress struct {
	ID         StageID
	Checkpoint Checkpoint
	// Found is false when the stage never committed a checkpoint.
	Found bool
}
