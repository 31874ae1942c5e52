package stagedsync

import (
	"context"

	"github.com/tendermint/stagesync/internal/store"
)

//go:generate mockery --case underscore --name Stage

// Stage is one step of the sync pipeline.
//
// Execute processes heights in (in.Progress(), *in.Target], or a prefix of
// that range, and never goes past the target. On an empty store it must
// succeed and define the stage's genesis state. Unwind reverts every effect
// above in.UnwindTo and must succeed when there is nothing to revert.
//
// Both run inside the transaction the pipeline owns; the pipeline persists
// the returned checkpoint in that transaction and commits it.
type Stage interface {
	ID() StageID

	Execute(ctx context.Context, tx store.Tx, in ExecInput) (ExecOutput, error)
	Unwind(ctx context.Context, tx store.Tx, in UnwindInput) (UnwindOutput, error)

	// IsExecuteDone checks that the stage's own data reflects out.
	IsExecuteDone(tx store.Reader, in ExecInput, out ExecOutput) (bool, error)
	// IsUnwindDone checks that no data above out remains.
	IsUnwindDone(tx store.Reader, in UnwindInput, out UnwindOutput) bool
}

// Provider opens the transactions stages run in.
type Provider interface {
	BeginRW(ctx context.Context) (store.Tx, error)
	Reader() store.Reader
}
