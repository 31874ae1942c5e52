package stages

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/tendermint/stagesync/internal/chain"
	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/store"
	"github.com/tendermint/stagesync/libs/log"
)

var errInvalidHeader = errors.New("header previously marked invalid")

// Headers downloads headers from the source and appends them to the stored
// canonical chain. When the source no longer extends the stored chain it
// finds the fork point and asks for an unwind.
type Headers struct {
	logger    log.Logger
	source    chain.HeaderSource
	threshold uint64
}

var _ stagedsync.Stage = (*Headers)(nil)

func NewHeaders(logger log.Logger, source chain.HeaderSource, threshold uint64) *Headers {
	return &Headers{
		logger:    logger.With("stage", HeadersID),
		source:    source,
		threshold: threshold,
	}
}

func (s *Headers) ID() stagedsync.StageID { return HeadersID }

func (s *Headers) Execute(ctx context.Context, tx store.Tx, in stagedsync.ExecInput) (stagedsync.ExecOutput, error) {
	if in.Checkpoint == nil {
		if err := s.writeGenesis(ctx, tx); err != nil {
			return stagedsync.ExecOutput{}, err
		}
	}
	if in.Target == nil {
		tip, err := s.source.Tip(ctx)
		if err != nil {
			return stagedsync.ExecOutput{}, sourceError(err)
		}
		in = in.Bound(tip)
	}

	from, to, _ := in.NextRange(s.threshold)
	if to < from {
		return stagedsync.ExecOutput{Checkpoint: in.CurrentCheckpoint()}, nil
	}

	parent, err := store.ReadHeader(tx, from-1)
	if err != nil {
		return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
	}
	if parent == nil {
		return stagedsync.ExecOutput{}, missing("header", from-1)
	}

	for height := from; height <= to; height++ {
		h, err := s.source.Header(ctx, height)
		if err != nil {
			return stopBefore(in, from, height, sourceError(err))
		}
		if err := s.checkHeader(tx, h, height); err != nil {
			return stopBefore(in, from, height, &stagedsync.BadBlockError{Height: height, Err: err})
		}

		if !bytes.Equal(h.ParentHash, parent.Hash) {
			if height > from {
				return stopBefore(in, from, height, nil)
			}
			fork, err := s.findForkPoint(ctx, tx, height-1)
			if err != nil {
				return stagedsync.ExecOutput{}, err
			}
			s.logger.Info("source chain diverged", "height", height, "fork", fork)
			return stagedsync.ExecOutput{}, &stagedsync.UnwindRequest{
				To:     fork,
				Reason: fmt.Sprintf("header %d does not extend the stored chain", height),
			}
		}

		if err := writeCanonicalHeader(tx, h); err != nil {
			return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
		}
		parent = h
	}
	return stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(to)}, nil
}

func (s *Headers) checkHeader(tx store.Reader, h *chain.Header, height uint64) error {
	if h.Height != height {
		return fmt.Errorf("source returned header %d for height %d", h.Height, height)
	}
	if err := h.ValidateBasic(); err != nil {
		return err
	}
	invalid, err := store.IsInvalidHeader(tx, h.Hash)
	if err != nil {
		return err
	}
	if invalid {
		return errInvalidHeader
	}
	return nil
}

// findForkPoint walks the stored chain down from height and returns the
// highest height at which it still agrees with the source.
func (s *Headers) findForkPoint(ctx context.Context, tx store.Reader, height uint64) (uint64, error) {
	for {
		stored, err := store.ReadCanonicalHash(tx, height)
		if err != nil {
			return 0, stagedsync.Fatal(err)
		}
		h, err := s.source.Header(ctx, height)
		if err != nil {
			return 0, sourceError(err)
		}
		if bytes.Equal(stored, h.Hash) {
			return height, nil
		}
		if height == 0 {
			return 0, stagedsync.Fatal(errors.New("source disagrees on the genesis block"))
		}
		height--
	}
}

func (s *Headers) writeGenesis(ctx context.Context, tx store.Tx) error {
	stored, err := store.ReadHeader(tx, 0)
	if err != nil {
		return stagedsync.Fatal(err)
	}
	if stored != nil {
		return nil
	}
	genesis, err := s.source.Header(ctx, 0)
	if err != nil {
		return sourceError(err)
	}
	if err := genesis.ValidateBasic(); err != nil {
		return &stagedsync.BadBlockError{Height: 0, Err: err}
	}
	return writeCanonicalHeader(tx, genesis)
}

func writeCanonicalHeader(tx store.Writer, h *chain.Header) error {
	if err := store.WriteHeader(tx, h); err != nil {
		return err
	}
	return store.WriteCanonicalHash(tx, h.Height, h.Hash)
}

func (s *Headers) Unwind(ctx context.Context, tx store.Tx, in stagedsync.UnwindInput) (stagedsync.UnwindOutput, error) {
	if err := markBadBlock(tx, in); err != nil {
		return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
	}
	from, to := in.Range()
	for height := from; height <= to; height++ {
		if err := store.DeleteHeader(tx, height); err != nil {
			return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
		}
		if err := store.DeleteCanonicalHash(tx, height); err != nil {
			return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
		}
	}
	return stagedsync.UnwindOutput{Checkpoint: stagedsync.NewCheckpoint(in.UnwindTo)}, nil
}

func (s *Headers) IsExecuteDone(r store.Reader, in stagedsync.ExecInput, out stagedsync.ExecOutput) (bool, error) {
	h, err := store.ReadHeader(r, out.Checkpoint.BlockNumber)
	if err != nil || h == nil {
		return false, err
	}
	hash, err := store.ReadCanonicalHash(r, out.Checkpoint.BlockNumber)
	return bytes.Equal(hash, h.Hash), err
}

func (s *Headers) IsUnwindDone(r store.Reader, in stagedsync.UnwindInput, out stagedsync.UnwindOutput) bool {
	h, err := store.ReadHeader(r, out.Checkpoint.BlockNumber+1)
	return err == nil && h == nil
}
