package stages

import (
	"context"

	"github.com/tendermint/stagesync/internal/chain"
	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/store"
)

// TxLookup indexes every executed transaction by hash.
type TxLookup struct {
	threshold uint64
}

var _ stagedsync.Stage = (*TxLookup)(nil)

func NewTxLookup(threshold uint64) *TxLookup {
	return &TxLookup{threshold: threshold}
}

func (s *TxLookup) ID() stagedsync.StageID { return TxLookupID }

func (s *TxLookup) Execute(ctx context.Context, tx store.Tx, in stagedsync.ExecInput) (stagedsync.ExecOutput, error) {
	in, err := resolveTarget(tx, in, ExecutionID)
	if err != nil {
		return stagedsync.ExecOutput{}, err
	}

	from, to, _ := in.NextRange(s.threshold)
	if in.Progress() == 0 {
		genesis, err := store.ReadBody(tx, 0)
		if err != nil {
			return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
		}
		if genesis == nil {
			// no bodies stored yet
			return stagedsync.ExecOutput{Checkpoint: in.CurrentCheckpoint()}, nil
		}
		// indexing is idempotent, so the genesis block is indexed again
		// until the checkpoint moves past it
		from = 0
	}
	for height := from; height <= to; height++ {
		body, err := store.ReadBody(tx, height)
		if err != nil {
			return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
		}
		if body == nil {
			return stagedsync.ExecOutput{}, missing("body", height)
		}
		for _, t := range body.Txs {
			if err := store.WriteTxLookup(tx, chain.TxHash(t), height); err != nil {
				return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
			}
		}
	}
	if to < from {
		return stagedsync.ExecOutput{Checkpoint: in.CurrentCheckpoint()}, nil
	}
	return stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(to)}, nil
}

func (s *TxLookup) Unwind(ctx context.Context, tx store.Tx, in stagedsync.UnwindInput) (stagedsync.UnwindOutput, error) {
	if err := markBadBlock(tx, in); err != nil {
		return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
	}
	from, to := in.Range()
	for height := from; height <= to; height++ {
		body, err := store.ReadBody(tx, height)
		if err != nil {
			return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
		}
		if body == nil {
			return stagedsync.UnwindOutput{}, missing("body", height)
		}
		for _, t := range body.Txs {
			if err := store.DeleteTxLookup(tx, chain.TxHash(t)); err != nil {
				return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
			}
		}
	}
	return stagedsync.UnwindOutput{Checkpoint: stagedsync.NewCheckpoint(in.UnwindTo)}, nil
}

func (s *TxLookup) IsExecuteDone(r store.Reader, in stagedsync.ExecInput, out stagedsync.ExecOutput) (bool, error) {
	body, err := store.ReadBody(r, out.Checkpoint.BlockNumber)
	if err != nil {
		return false, err
	}
	if body == nil {
		// only an empty store leaves the genesis body absent
		return out.Checkpoint.BlockNumber == 0, nil
	}
	for _, t := range body.Txs {
		height, found, err := store.ReadTxLookup(r, chain.TxHash(t))
		if err != nil || !found || height != out.Checkpoint.BlockNumber {
			return false, err
		}
	}
	return true, nil
}

func (s *TxLookup) IsUnwindDone(r store.Reader, in stagedsync.UnwindInput, out stagedsync.UnwindOutput) bool {
	body, err := store.ReadBody(r, out.Checkpoint.BlockNumber+1)
	if err != nil {
		return false
	}
	if body == nil {
		return true
	}
	for _, t := range body.Txs {
		if _, found, err := store.ReadTxLookup(r, chain.TxHash(t)); err != nil || found {
			return false
		}
	}
	return true
}
