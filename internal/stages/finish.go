package stages

import (
	"context"

	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/store"
)

// Finish records the height up to which every stage has completed.
type Finish struct{}

var _ stagedsync.Stage = Finish{}

func NewFinish() Finish { return Finish{} }

func (Finish) ID() stagedsync.StageID { return FinishID }

func (Finish) Execute(ctx context.Context, tx store.Tx, in stagedsync.ExecInput) (stagedsync.ExecOutput, error) {
	in, err := resolveTarget(tx, in, TxLookupID)
	if err != nil {
		return stagedsync.ExecOutput{}, err
	}
	height := in.Progress()
	if !in.TargetReached() {
		height = *in.Target
	}
	if err := store.WriteSyncHead(tx, height); err != nil {
		return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
	}
	return stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(height)}, nil
}

func (Finish) Unwind(ctx context.Context, tx store.Tx, in stagedsync.UnwindInput) (stagedsync.UnwindOutput, error) {
	if err := store.WriteSyncHead(tx, in.UnwindTo); err != nil {
		return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
	}
	return stagedsync.UnwindOutput{Checkpoint: stagedsync.NewCheckpoint(in.UnwindTo)}, nil
}

func (Finish) IsExecuteDone(r store.Reader, in stagedsync.ExecInput, out stagedsync.ExecOutput) (bool, error) {
	head, found, err := store.ReadSyncHead(r)
	return found && head == out.Checkpoint.BlockNumber, err
}

func (Finish) IsUnwindDone(r store.Reader, in stagedsync.UnwindInput, out stagedsync.UnwindOutput) bool {
	head, found, err := store.ReadSyncHead(r)
	return err == nil && (!found || head <= out.Checkpoint.BlockNumber)
}
