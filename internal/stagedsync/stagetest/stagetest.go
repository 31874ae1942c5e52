// Package stagetest holds a conformance suite every Stage implementation is
// expected to pass.
package stagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/store"
)

// Runner wires one stage to the data it needs. The stage must be configured
// to process any requested range in a single call.
type Runner interface {
	Stage() stagedsync.Stage
	Provider() *store.Provider

	// SeedExecution writes the data the stage expects to find before it
	// executes with in: upstream stage output and its own output up to the
	// input checkpoint.
	SeedExecution(ctx context.Context, in stagedsync.ExecInput) error
	// AfterExecution runs once an execute call was committed.
	AfterExecution(ctx context.Context, in stagedsync.ExecInput, out stagedsync.ExecOutput) error
	// BeforeUnwind runs before the stage unwinds with in.
	BeforeUnwind(ctx context.Context, in stagedsync.UnwindInput) error

	// ValidateExecution checks the stored data after an execute call. It is
	// also called after executing on a store nothing was written to.
	ValidateExecution(ctx context.Context, in stagedsync.ExecInput, out *stagedsync.ExecOutput) error
	// ValidateUnwind checks that nothing above in.UnwindTo remains.
	ValidateUnwind(ctx context.Context, in stagedsync.UnwindInput) error
}

// Execute runs one execute call in its own transaction, persists the
// returned checkpoint and commits.
func Execute(ctx context.Context, p *store.Provider, s stagedsync.Stage, in stagedsync.ExecInput) (stagedsync.ExecOutput, error) {
	var out stagedsync.ExecOutput
	err := p.Update(ctx, func(tx store.Tx) error {
		var err error
		if out, err = s.Execute(ctx, tx, in); err != nil {
			return err
		}
		return stagedsync.SaveCheckpoint(tx, s.ID(), out.Checkpoint)
	})
	return out, err
}

// Unwind runs one unwind call in its own transaction, persists the returned
// checkpoint and commits.
func Unwind(ctx context.Context, p *store.Provider, s stagedsync.Stage, in stagedsync.UnwindInput) (stagedsync.UnwindOutput, error) {
	var out stagedsync.UnwindOutput
	err := p.Update(ctx, func(tx store.Tx) error {
		var err error
		if out, err = s.Unwind(ctx, tx, in); err != nil {
			return err
		}
		return stagedsync.SaveCheckpoint(tx, s.ID(), out.Checkpoint)
	})
	return out, err
}

func u64(v uint64) *uint64 { return &v }

// Run executes the conformance suite against runners built by newRunner.
// Every subtest gets a fresh runner.
func Run(t *testing.T, newRunner func(t *testing.T) Runner) {
	t.Run("ExecuteOnEmptyStore", func(t *testing.T) {
		ctx := context.Background()
		r := newRunner(t)

		in := stagedsync.ExecInput{}
		out, err := Execute(ctx, r.Provider(), r.Stage(), in)
		require.NoError(t, err)
		require.NoError(t, r.ValidateExecution(ctx, in, &out))

		cp, found, err := stagedsync.LoadCheckpoint(r.Provider().Reader(), r.Stage().ID())
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, out.Checkpoint.BlockNumber, cp.BlockNumber)
	})

	t.Run("ExecuteReachesTarget", func(t *testing.T) {
		ctx := context.Background()
		r := newRunner(t)

		in := stagedsync.ExecInput{
			Target:     u64(500),
			Checkpoint: &stagedsync.Checkpoint{BlockNumber: 100},
		}
		require.NoError(t, r.SeedExecution(ctx, in))

		out, err := Execute(ctx, r.Provider(), r.Stage(), in)
		require.NoError(t, err)
		require.EqualValues(t, 500, out.Checkpoint.BlockNumber)
		require.True(t, in.IsDone(out))

		done, err := r.Stage().IsExecuteDone(r.Provider().Reader(), in, out)
		require.NoError(t, err)
		require.True(t, done)

		require.NoError(t, r.AfterExecution(ctx, in, out))
		require.NoError(t, r.ValidateExecution(ctx, in, &out))
	})

	t.Run("UnwindWithNothingToRevert", func(t *testing.T) {
		ctx := context.Background()
		r := newRunner(t)
		require.NoError(t, r.SeedExecution(ctx, stagedsync.ExecInput{}))

		in := stagedsync.UnwindInput{}
		require.NoError(t, r.BeforeUnwind(ctx, in))

		out, err := Unwind(ctx, r.Provider(), r.Stage(), in)
		require.NoError(t, err)
		require.Equal(t, in.UnwindTo, out.Checkpoint.BlockNumber)
		require.NoError(t, r.ValidateUnwind(ctx, in))
	})

	t.Run("UnwindAfterExecute", func(t *testing.T) {
		ctx := context.Background()
		r := newRunner(t)

		execIn := stagedsync.ExecInput{
			Target:     u64(500),
			Checkpoint: &stagedsync.Checkpoint{BlockNumber: 100},
		}
		require.NoError(t, r.SeedExecution(ctx, execIn))
		execOut, err := Execute(ctx, r.Provider(), r.Stage(), execIn)
		require.NoError(t, err)
		require.NoError(t, r.AfterExecution(ctx, execIn, execOut))

		in := stagedsync.UnwindInput{UnwindTo: 100, Checkpoint: execOut.Checkpoint}
		require.NoError(t, r.BeforeUnwind(ctx, in))

		out, err := Unwind(ctx, r.Provider(), r.Stage(), in)
		require.NoError(t, err)
		require.EqualValues(t, 100, out.Checkpoint.BlockNumber)
		require.True(t, r.Stage().IsUnwindDone(r.Provider().Reader(), in, out))
		require.NoError(t, r.ValidateUnwind(ctx, in))
	})
}
