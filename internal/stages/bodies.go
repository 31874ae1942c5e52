package stages

import (
	"bytes"
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tendermint/stagesync/internal/chain"
	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/store"
	"github.com/tendermint/stagesync/libs/log"
)

var errTxRootMismatch = errors.New("body does not match the header's tx root")

// Bodies downloads the body of every stored header, fetching concurrently.
type Bodies struct {
	logger    log.Logger
	source    chain.BodySource
	threshold uint64
	fetchers  int64
}

var _ stagedsync.Stage = (*Bodies)(nil)

func NewBodies(logger log.Logger, source chain.BodySource, threshold uint64, fetchers int) *Bodies {
	if fetchers < 1 {
		fetchers = 1
	}
	return &Bodies{
		logger:    logger.With("stage", BodiesID),
		source:    source,
		threshold: threshold,
		fetchers:  int64(fetchers),
	}
}

func (s *Bodies) ID() stagedsync.StageID { return BodiesID }

func (s *Bodies) Execute(ctx context.Context, tx store.Tx, in stagedsync.ExecInput) (stagedsync.ExecOutput, error) {
	in, err := resolveTarget(tx, in, HeadersID)
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
			header, err := store.ReadHeader(tx, 0)
			if err != nil {
				return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
			}
			if header == nil {
				// no headers stored yet
				return stagedsync.ExecOutput{Checkpoint: in.CurrentCheckpoint()}, nil
			}
			from = 0
		}
	}
	if to < from {
		return stagedsync.ExecOutput{Checkpoint: in.CurrentCheckpoint()}, nil
	}

	bodies, err := s.fetch(ctx, from, to)
	if err != nil {
		return stagedsync.ExecOutput{}, err
	}

	for height := from; height <= to; height++ {
		h, err := store.ReadHeader(tx, height)
		if err != nil {
			return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
		}
		if h == nil {
			return stopBefore(in, from, height, missing("header", height))
		}
		body := bodies[height-from]
		if !bytes.Equal(body.TxRoot(), h.TxRoot) {
			return stopBefore(in, from, height, &stagedsync.BadBlockError{Height: height, Err: errTxRootMismatch})
		}
		if err := store.WriteBody(tx, height, body); err != nil {
			return stagedsync.ExecOutput{}, stagedsync.Fatal(err)
		}
	}
	s.logger.Debug("stored bodies", "from", from, "to", to)
	return stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(to)}, nil
}

// fetch downloads the bodies of [from, to] with at most s.fetchers requests
// in flight.
func (s *Bodies) fetch(ctx context.Context, from, to uint64) ([]*chain.Body, error) {
	bodies := make([]*chain.Body, to-from+1)
	sem := semaphore.NewWeighted(s.fetchers)
	g, gctx := errgroup.WithContext(ctx)

	for height := from; height <= to; height++ {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		height := height
		g.Go(func() error {
			defer sem.Release(1)
			b, err := s.source.Body(gctx, height)
			if err != nil {
				return err
			}
			bodies[height-from] = b
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, sourceError(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return bodies, nil
}

func (s *Bodies) Unwind(ctx context.Context, tx store.Tx, in stagedsync.UnwindInput) (stagedsync.UnwindOutput, error) {
	if err := markBadBlock(tx, in); err != nil {
		return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
	}
	from, to := in.Range()
	for height := from; height <= to; height++ {
		if err := store.DeleteBody(tx, height); err != nil {
			return stagedsync.UnwindOutput{}, stagedsync.Fatal(err)
		}
	}
	return stagedsync.UnwindOutput{Checkpoint: stagedsync.NewCheckpoint(in.UnwindTo)}, nil
}

func (s *Bodies) IsExecuteDone(r store.Reader, in stagedsync.ExecInput, out stagedsync.ExecOutput) (bool, error) {
	b, err := store.ReadBody(r, out.Checkpoint.BlockNumber)
	if err != nil || b != nil {
		return b != nil, err
	}
	if out.Checkpoint.BlockNumber == 0 {
		h, err := store.ReadHeader(r, 0)
		return h == nil, err
	}
	return false, nil
}

func (s *Bodies) IsUnwindDone(r store.Reader, in stagedsync.UnwindInput, out stagedsync.UnwindOutput) bool {
	b, err := store.ReadBody(r, out.Checkpoint.BlockNumber+1)
	return err == nil && b == nil
}
