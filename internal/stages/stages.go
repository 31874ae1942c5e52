// Package stages holds the stages of the block sync pipeline: headers are
// downloaded first, then bodies, which are executed before their
// transactions are indexed.
package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/internal/chain"
	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/store"
	"github.com/tendermint/stagesync/libs/log"
)

// Stage IDs, in pipeline order.
const (
	HeadersID   stagedsync.StageID = "Headers"
	BodiesID    stagedsync.StageID = "Bodies"
	ExecutionID stagedsync.StageID = "Execution"
	TxLookupID  stagedsync.StageID = "TxLookup"
	FinishID    stagedsync.StageID = "Finish"
)

// Source serves both headers and bodies.
type Source interface {
	chain.HeaderSource
	chain.BodySource
}

// DefaultStages returns the block sync stages in pipeline order.
func DefaultStages(logger log.Logger, cfg *config.Config, src Source) []stagedsync.Stage {
	threshold := cfg.Sync.CommitThreshold
	return []stagedsync.Stage{
		NewHeaders(logger, src, threshold),
		NewBodies(logger, src, threshold, cfg.Source.BodyFetchers),
		NewExecution(threshold),
		NewTxLookup(threshold),
		NewFinish(),
	}
}

// resolveTarget bounds an open-ended input by the upstream stage's
// checkpoint, so a stage run on its own never outruns its input data.
func resolveTarget(r store.Reader, in stagedsync.ExecInput, upstream stagedsync.StageID) (stagedsync.ExecInput, error) {
	if in.Target != nil {
		return in, nil
	}
	cp, _, err := stagedsync.LoadCheckpoint(r, upstream)
	if err != nil {
		return in, stagedsync.Fatal(err)
	}
	return in.Bound(cp.BlockNumber), nil
}

// stopBefore commits the blocks below a failing height and defers the
// failure to the next call, which then starts at that height.
func stopBefore(in stagedsync.ExecInput, from, height uint64, err error) (stagedsync.ExecOutput, error) {
	if height > from {
		return stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(height - 1)}, nil
	}
	return stagedsync.ExecOutput{Checkpoint: in.CurrentCheckpoint()}, err
}

// sourceError classifies a failed source call.
func sourceError(err error) error {
	if errors.Is(err, chain.ErrUnavailable) {
		return stagedsync.Retryable(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return stagedsync.Fatal(err)
}

// markBadBlock records the stored header at the bad height as invalid.
func markBadBlock(tx store.Tx, in stagedsync.UnwindInput) error {
	if in.BadBlock == nil {
		return nil
	}
	h, err := store.ReadHeader(tx, *in.BadBlock)
	if err != nil || h == nil {
		return err
	}
	return store.WriteInvalidHeader(tx, h.Hash, h.Height)
}

func missing(what string, height uint64) error {
	return stagedsync.Fatal(fmt.Errorf("%s %d missing from store", what, height))
}

// IDs returns the IDs of the stages built by DefaultStages, in order.
func IDs() []stagedsync.StageID {
	return []stagedsync.StageID{HeadersID, BodiesID, ExecutionID, TxLookupID, FinishID}
}
