package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/orderedcode"

	"github.com/tendermint/stagesync/internal/chain"
	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/store"
)

var errStateRootMismatch = errors.New("computed state root differs from the header")

// Execution applies every stored body on top of its parent's state and
// checks the result against the header's state root. The checkpoint carries
// the number of transactions executed so far.
type Execution struct {
	threshold uint64
}

var _ stagedsync.Stage = (*Execution)(nil)

func NewExecution(threshold uint64) *Execution {
	return &Execution{threshold: threshold}
}

func (s *Execution) ID() stagedsync.StageID { return ExecutionID }

func (s *Execution) Execute(ctx context.Context, tx store.Tx, in stagedsync.ExecInput) (stagedsync.ExecOutput, error) {
	in, err := resolveTarget(tx, in, BodiesID)
	if err != nil {
		return stagedsync.ExecOutput{}, err
	}

	if in.Progress() == 0 {
		entry, err := store.ReadStateEntry(tx, 0)
		if err != nil {
			return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
		}
		if entry == nil {
			body, err := store.ReadBody(tx, 0)
			if err != nil {
				return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
			}
			if body == nil {
				// no bodies stored yet
				return stagedsync.ExecOutput{Checkpoint: in.CurrentCheckpoint()}, nil
			}
			genesis, err := s.executeGenesis(tx)
			if err != nil {
				return stagedsync.ExecOutput{}, err
			}
			in.Checkpoint = &genesis
		}
	}

	from, to, _ := in.NextRange(s.threshold)
	if to < from {
		return stagedsync.ExecOutput{Checkpoint: in.CurrentCheckpoint()}, nil
	}

	parent, err := store.ReadStateEntry(tx, from-1)
	if err != nil {
		return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
	}
	if parent == nil {
		return stagedsync.ExecOutput{}, missing("state entry", from-1)
	}

	for height := from; height <= to; height++ {
		if err := ctx.Err(); err != nil {
			return stagedsync.ExecOutput{}, err
		}

		h, err := store.ReadHeader(tx, height)
		if err != nil {
			return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
		}
		if h == nil {
			return stagedsync.ExecOutput{}, missing("header", height)
		}
		body, err := store.ReadBody(tx, height)
		if err != nil {
			return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
		}
		if body == nil {
			return stagedsync.ExecOutput{}, missing("body", height)
		}

		root := chain.NextStateRoot(parent.Root, body.TxRoot(), height)
		if !bytes.Equal(root, h.StateRoot) {
			out, err := stopBefore(in, from, height, &stagedsync.BadBlockError{Height: height, Err: errStateRootMismatch})
			if err == nil {
				out.Checkpoint.Extra = encodeTxCount(parent.TxCount)
			}
			return out, err
		}

		entry := store.StateEntry{Root: root, TxCount: parent.TxCount + uint64(len(body.Txs))}
		if err := store.WriteStateEntry(tx, height, entry); err != nil {
			return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
		}
		parent = &entry
	}

	return stagedsync.ExecOutput{Checkpoint: stagedsync.Checkpoint{
		BlockNumber: to,
		Extra:       encodeTxCount(parent.TxCount),
	}}, nil
}

// executeGenesis adopts the genesis header's state root as the initial
// state.
func (s *Execution) executeGenesis(tx store.Tx) (stagedsync.Checkpoint, error) {
	h, err := store.ReadHeader(tx, 0)
	if err != nil {
		return stagedsync.Checkpoint{}, stagedsync.Fatal(err)
	}
	if h == nil {
		return stagedsync.Checkpoint{}, missing("header", 0)
	}
	if err := store.WriteStateEntry(tx, 0, store.StateEntry{Root: h.StateRoot}); err != nil {
		return stagedsync.Checkpoint{}, stagedsync.Fatal(err)
	}
	return stagedsync.Checkpoint{BlockNumber: 0, Extra: encodeTxCount(0)}, nil
}

func (s *Execution) Unwind(ctx context.Context, tx store.Tx, in stagedsync.UnwindInput) (stagedsync.UnwindOutput, error) {
	if err := markBadBlock(tx, in); err != nil {
		return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
	}
	from, to := in.Range()
	for height := from; height <= to; height++ {
		if err := store.DeleteStateEntry(tx, height); err != nil {
			return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
		}
	}

	cp := stagedsync.NewCheckpoint(in.UnwindTo)
	entry, err := store.ReadStateEntry(tx, in.UnwindTo)
	if err != nil {
		return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
	}
	if entry != nil {
		cp.Extra = encodeTxCount(entry.TxCount)
	}
	return stagedsync.UnwindOutput{Checkpoint: cp}, nil
}

func (s *Execution) IsExecuteDone(r store.Reader, in stagedsync.ExecInput, out stagedsync.ExecOutput) (bool, error) {
	entry, err := store.ReadStateEntry(r, out.Checkpoint.BlockNumber)
	if err != nil {
		return false, err
	}
	if entry == nil {
		if out.Checkpoint.BlockNumber != 0 {
			return false, nil
		}
		body, err := store.ReadBody(r, 0)
		return body == nil, err
	}
	count, err := TxCount(out.Checkpoint)
	if err != nil {
		return false, err
	}
	return count == entry.TxCount, nil
}

func (s *Execution) IsUnwindDone(r store.Reader, in stagedsync.UnwindInput, out stagedsync.UnwindOutput) bool {
	entry, err := store.ReadStateEntry(r, out.Checkpoint.BlockNumber+1)
	return err == nil && entry == nil
}

// TxCount decodes the number of executed transactions from an execution
// checkpoint.
func TxCount(cp stagedsync.Checkpoint) (uint64, error) {
	if len(cp.Extra) == 0 {
		return 0, nil
	}
	var count uint64
	if _, err := orderedcode.Parse(string(cp.Extra), &count); err != nil {
		return 0, fmt.Errorf("decoding execution checkpoint: %w", err)
	}
	return count, nil
}

func encodeTxCount(count uint64) []byte {
	bz, err := orderedcode.Append(nil, count)
	if err != nil {
		panic(err)
	}
	return bz
}
