package stagedsync_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/tendermint/stagesync/internal/stagedsync"
	"github.com/tendermint/stagesync/internal/stagedsync/mocks"
	"github.com/tendermint/stagesync/internal/store"
	"github.com/tendermint/stagesync/libs/events"
	"github.com/tendermint/stagesync/libs/log"
)

// fakeStage marks every height it processes with a key of its own.
type fakeStage struct {
	id    stagedsync.StageID
	batch uint64

	mtx sync.Mutex
	// tip is used as the target when none is given
	tip uint64
	// transient failures returned before any work is done
	transient int
	// badHeight is reported badTimes times; a negative badTimes never stops
	badHeight uint64
	badTimes  int
	// badAnywhere rejects the whole batch instead of committing the
	// heights before badHeight
	badAnywhere bool
	unwindReq *stagedsync.UnwindRequest
	failWith  error
	onExecute func(ctx context.Context) error

	executeFrom []uint64
	unwinds     []stagedsync.UnwindInput
}

var _ stagedsync.Stage = (*fakeStage)(nil)

func newFakeStage(id string, tip, batch uint64) *fakeStage {
	return &fakeStage{id: stagedsync.StageID(id), tip: tip, batch: batch}
}

func (s *fakeStage) key(height uint64) []byte {
	return []byte(fmt.Sprintf("fake/%s/%020d", s.id, height))
}

func (s *fakeStage) ID() stagedsync.StageID { return s.id }

func (s *fakeStage) Execute(ctx context.Context, tx store.Tx, in stagedsync.ExecInput) (stagedsync.ExecOutput, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.executeFrom = append(s.executeFrom, in.Progress())
	if s.onExecute != nil {
		if err := s.onExecute(ctx); err != nil {
			return stagedsync.ExecOutput{}, err
		}
	}
	if s.transient > 0 {
		s.transient--
		return stagedsync.ExecOutput{}, stagedsync.Retryable(errors.New("source unavailable"))
	}
	if s.failWith != nil {
		err := s.failWith
		s.failWith = nil
		return stagedsync.ExecOutput{}, err
	}
	if s.unwindReq != nil {
		req := s.unwindReq
		s.unwindReq = nil
		return stagedsync.ExecOutput{}, req
	}

	if in.Target == nil {
		tip := s.tip
		in.Target = &tip
	}
	from, to, _ := in.NextRange(s.batch)
	for h := from; h <= to; h++ {
		if h == s.badHeight && s.badTimes != 0 {
			if h > from && !s.badAnywhere {
				return stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(h - 1)}, nil
			}
			if s.badTimes > 0 {
				s.badTimes--
			}
			return stagedsync.ExecOutput{}, &stagedsync.BadBlockError{Height: h, Err: errors.New("invalid block")}
		}
		if err := tx.Set(s.key(h), []byte{1}); err != nil {
			return stagedsync.ExecOutput{}, err
		}
	}
	return stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(to)}, nil
}

func (s *fakeStage) Unwind(ctx context.Context, tx store.Tx, in stagedsync.UnwindInput) (stagedsync.UnwindOutput, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.unwinds = append(s.unwinds, in)
	from, to := in.Range()
	for h := from; h <= to; h++ {
		if err := tx.Delete(s.key(h)); err != nil {
			return stagedsync.UnwindOutput{}, err
		}
	}
	return stagedsync.UnwindOutput{Checkpoint: stagedsync.NewCheckpoint(in.UnwindTo)}, nil
}

func (s *fakeStage) IsExecuteDone(r store.Reader, in stagedsync.ExecInput, out stagedsync.ExecOutput) (bool, error) {
	if out.Checkpoint.BlockNumber == 0 {
		return true, nil
	}
	return r.Has(s.key(out.Checkpoint.BlockNumber))
}

func (s *fakeStage) IsUnwindDone(r store.Reader, in stagedsync.UnwindInput, out stagedsync.UnwindOutput) bool {
	ok, err := r.Has(s.key(out.Checkpoint.BlockNumber + 1))
	return err == nil && !ok
}

func (s *fakeStage) setTip(tip uint64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.tip = tip
}

func (s *fakeStage) recordedUnwinds() []stagedsync.UnwindInput {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]stagedsync.UnwindInput(nil), s.unwinds...)
}

type eventRecorder struct {
	mtx    sync.Mutex
	events []stagedsync.StageEvent
}

func recordEvents(t *testing.T, p *stagedsync.Pipeline) *eventRecorder {
	t.Helper()
	rec := &eventRecorder{}
	for _, typ := range []stagedsync.EventType{
		stagedsync.EventStageStarted,
		stagedsync.EventStageFinished,
		stagedsync.EventStageUnwound,
	} {
		err := p.EventSwitch().AddListenerForEvent("recorder", string(typ), func(data events.EventData) error {
			rec.mtx.Lock()
			defer rec.mtx.Unlock()
			rec.events = append(rec.events, data.(stagedsync.StageEvent))
			return nil
		})
		require.NoError(t, err)
	}
	return rec
}

func (r *eventRecorder) ofType(typ stagedsync.EventType) []stagedsync.StageEvent {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var out []stagedsync.StageEvent
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestPipeline(
	t *testing.T,
	provider *store.Provider,
	stages []stagedsync.Stage,
	opts ...stagedsync.Option,
) *stagedsync.Pipeline {
	t.Helper()
	opts = append([]stagedsync.Option{
		stagedsync.WithRetryBackoff(time.Millisecond),
		stagedsync.WithLoopInterval(5 * time.Millisecond),
		stagedsync.WithVerifyStages(true),
	}, opts...)
	p, err := stagedsync.NewPipeline(log.TestingLogger(), provider, stages, opts...)
	require.NoError(t, err)
	return p
}

func checkpoints(t *testing.T, p *stagedsync.Pipeline) map[stagedsync.StageID]uint64 {
	t.Helper()
	progress, err := p.Progress(context.Background())
	require.NoError(t, err)
	out := make(map[stagedsync.StageID]uint64, len(progress))
	for _, sp := range progress {
		out[sp.ID] = sp.Checkpoint.BlockNumber
	}
	return out
}

func threeStages(tip uint64) (a, b, c *fakeStage, stages []stagedsync.Stage) {
	a = newFakeStage("a", tip, 10)
	b = newFakeStage("b", 0, 4)
	c = newFakeStage("c", 0, 3)
	return a, b, c, []stagedsync.Stage{a, b, c}
}

func newProvider() *store.Provider {
	return store.NewProvider(dbm.NewMemDB())
}

func TestNewPipelineRejectsBadStageLists(t *testing.T) {
	provider := newProvider()

	_, err := stagedsync.NewPipeline(log.NewNopLogger(), provider, nil)
	assert.Error(t, err)

	_, err = stagedsync.NewPipeline(log.NewNopLogger(), provider, []stagedsync.Stage{
		newFakeStage("a", 1, 1),
		newFakeStage("a", 1, 1),
	})
	assert.Error(t, err)

	_, err = stagedsync.NewPipeline(log.NewNopLogger(), provider, []stagedsync.Stage{newFakeStage("", 1, 1)})
	assert.Error(t, err)
}

func TestPipelineSyncsAllStagesToTip(t *testing.T) {
	_, _, _, stages := threeStages(25)
	p := newTestPipeline(t, newProvider(), stages)
	rec := recordEvents(t, p)

	require.NoError(t, p.Run(context.Background(), nil))

	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 25, "b": 25, "c": 25}, checkpoints(t, p))
	assert.Empty(t, rec.ofType(stagedsync.EventStageUnwound))
	assert.Equal(t, []stagedsync.StageID{"a", "b", "c"}, p.Stages())
}

func TestPipelineStopsAtTarget(t *testing.T) {
	_, _, _, stages := threeStages(25)
	p := newTestPipeline(t, newProvider(), stages)

	target := uint64(12)
	require.NoError(t, p.Run(context.Background(), &target))
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 12, "b": 12, "c": 12}, checkpoints(t, p))

	// a second run with the same target has nothing to do
	require.NoError(t, p.Run(context.Background(), &target))
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 12, "b": 12, "c": 12}, checkpoints(t, p))
}

func TestPipelineNeverRunsAheadOfUpstream(t *testing.T) {
	_, _, _, stages := threeStages(40)
	p := newTestPipeline(t, newProvider(), stages)
	rec := recordEvents(t, p)

	require.NoError(t, p.Run(context.Background(), nil))

	latest := map[stagedsync.StageID]uint64{}
	upstream := map[stagedsync.StageID]stagedsync.StageID{"b": "a", "c": "b"}
	for _, ev := range rec.ofType(stagedsync.EventStageFinished) {
		latest[ev.Stage] = ev.BlockNumber
		if up, ok := upstream[ev.Stage]; ok {
			assert.LessOrEqual(t, ev.BlockNumber, latest[up], "stage %s ahead of %s", ev.Stage, up)
		}
	}

	// every started event is closed by a finished event of the same stage
	started := rec.ofType(stagedsync.EventStageStarted)
	finished := rec.ofType(stagedsync.EventStageFinished)
	require.Equal(t, len(started), len(finished))
	for i := range started {
		assert.Equal(t, started[i].Stage, finished[i].Stage)
		assert.Equal(t, started[i].RunID, finished[i].RunID)
	}
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	a, b, _, stages := threeStages(10)
	b.transient = 2
	p := newTestPipeline(t, newProvider(), stages, stagedsync.WithMaxRetries(3))

	require.NoError(t, p.Run(context.Background(), nil))
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 10, "b": 10, "c": 10}, checkpoints(t, p))
	assert.NotEmpty(t, a.executeFrom)
}

func TestPipelineGivesUpAfterMaxRetries(t *testing.T) {
	_, b, _, stages := threeStages(10)
	b.transient = 10
	p := newTestPipeline(t, newProvider(), stages, stagedsync.WithMaxRetries(2))

	err := p.Run(context.Background(), nil)
	require.Error(t, err)

	var perr *stagedsync.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, stagedsync.StageID("b"), perr.Stage)
	assert.Equal(t, stagedsync.KindRetryable, perr.Kind)
	assert.EqualValues(t, 0, perr.From)
	assert.EqualValues(t, 10, perr.To)
	assert.Equal(t, 7, b.transient)
}

func TestPipelineUnwindsOnBadBlock(t *testing.T) {
	a, b, c, stages := threeStages(10)
	b.batch = 10
	b.badHeight, b.badTimes = 6, 1
	p := newTestPipeline(t, newProvider(), stages)
	rec := recordEvents(t, p)

	require.NoError(t, p.Run(context.Background(), nil))
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 10, "b": 10, "c": 10}, checkpoints(t, p))

	bUnwinds := b.recordedUnwinds()
	require.Len(t, bUnwinds, 1)
	require.NotNil(t, bUnwinds[0].BadBlock)
	assert.EqualValues(t, 6, *bUnwinds[0].BadBlock)
	assert.EqualValues(t, 5, bUnwinds[0].UnwindTo)

	aUnwinds := a.recordedUnwinds()
	require.Len(t, aUnwinds, 1)
	assert.Nil(t, aUnwinds[0].BadBlock)
	assert.EqualValues(t, 10, aUnwinds[0].Checkpoint.BlockNumber)

	assert.Empty(t, c.recordedUnwinds())

	unwound := rec.ofType(stagedsync.EventStageUnwound)
	require.Len(t, unwound, 2)
	assert.Equal(t, stagedsync.StageID("b"), unwound[0].Stage)
	assert.Equal(t, stagedsync.StageID("a"), unwound[1].Stage)
}

func TestPipelineUnwindsReporterBelowBadBlock(t *testing.T) {
	a, b, c, stages := threeStages(10)
	b.batch = 10
	b.badHeight, b.badTimes, b.badAnywhere = 6, 1, true
	p := newTestPipeline(t, newProvider(), stages)
	rec := recordEvents(t, p)

	require.NoError(t, p.Run(context.Background(), nil))
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 10, "b": 10, "c": 10}, checkpoints(t, p))

	// b committed nothing before rejecting 6, yet still hears about it
	bUnwinds := b.recordedUnwinds()
	require.Len(t, bUnwinds, 1)
	require.NotNil(t, bUnwinds[0].BadBlock)
	assert.EqualValues(t, 6, *bUnwinds[0].BadBlock)
	assert.EqualValues(t, 0, bUnwinds[0].UnwindTo)
	assert.EqualValues(t, 0, bUnwinds[0].Checkpoint.BlockNumber)

	aUnwinds := a.recordedUnwinds()
	require.Len(t, aUnwinds, 1)
	assert.Nil(t, aUnwinds[0].BadBlock)
	assert.EqualValues(t, 5, aUnwinds[0].UnwindTo)

	assert.Empty(t, c.recordedUnwinds())
	assert.Len(t, rec.ofType(stagedsync.EventStageUnwound), 2)
}

func TestPipelineCountsBadBlocksPerStage(t *testing.T) {
	_, b, c, stages := threeStages(10)
	b.badHeight, b.badTimes = 4, 1
	c.badHeight, c.badTimes = 4, 1
	p := newTestPipeline(t, newProvider(), stages, stagedsync.WithMaxBadBlockUnwinds(1))

	// one rejection of 4 by b and one by c are not the same block failing
	// twice in a row
	require.NoError(t, p.Run(context.Background(), nil))
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 10, "b": 10, "c": 10}, checkpoints(t, p))

	// b is unwound for its own report and again for c's
	bUnwinds := b.recordedUnwinds()
	require.Len(t, bUnwinds, 2)
	assert.NotNil(t, bUnwinds[0].BadBlock)
	assert.Nil(t, bUnwinds[1].BadBlock)

	cUnwinds := c.recordedUnwinds()
	require.Len(t, cUnwinds, 1)
	require.NotNil(t, cUnwinds[0].BadBlock)
	assert.EqualValues(t, 4, *cUnwinds[0].BadBlock)
}

func TestPipelineAbortsOnRepeatedBadBlock(t *testing.T) {
	_, b, _, stages := threeStages(10)
	b.badHeight, b.badTimes = 4, -1
	p := newTestPipeline(t, newProvider(), stages, stagedsync.WithMaxBadBlockUnwinds(2))

	err := p.Run(context.Background(), nil)
	require.Error(t, err)

	var perr *stagedsync.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, stagedsync.StageID("b"), perr.Stage)
	assert.Equal(t, stagedsync.KindBadBlock, perr.Kind)

	var bad *stagedsync.BadBlockError
	require.True(t, errors.As(err, &bad))
	assert.EqualValues(t, 4, bad.Height)
	assert.Len(t, b.recordedUnwinds(), 2)
}

func TestPipelineHonoursUnwindRequests(t *testing.T) {
	a, _, _, stages := threeStages(8)
	p := newTestPipeline(t, newProvider(), stages)
	rec := recordEvents(t, p)
	require.NoError(t, p.Run(context.Background(), nil))

	a.mtx.Lock()
	a.unwindReq = &stagedsync.UnwindRequest{To: 3, Reason: "fork"}
	a.tip = 12
	a.mtx.Unlock()

	require.NoError(t, p.Run(context.Background(), nil))
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 12, "b": 12, "c": 12}, checkpoints(t, p))

	unwound := rec.ofType(stagedsync.EventStageUnwound)
	require.Len(t, unwound, 3)
	for i, id := range []stagedsync.StageID{"c", "b", "a"} {
		assert.Equal(t, id, unwound[i].Stage)
		assert.EqualValues(t, 3, unwound[i].BlockNumber)
	}
}

func TestPipelineRejectsUnwindRequestAboveProgress(t *testing.T) {
	a, _, _, stages := threeStages(8)
	a.unwindReq = &stagedsync.UnwindRequest{To: 5, Reason: "nonsense"}
	p := newTestPipeline(t, newProvider(), stages)

	err := p.Run(context.Background(), nil)
	var perr *stagedsync.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, stagedsync.KindValidation, perr.Kind)
}

func TestPipelineReturnsContextErrorOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, b, _, stages := threeStages(10)
	b.onExecute = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}
	p := newTestPipeline(t, newProvider(), stages)

	err := p.Run(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	var perr *stagedsync.PipelineError
	assert.False(t, errors.As(err, &perr))

	progress := checkpoints(t, p)
	assert.EqualValues(t, 10, progress["a"])
	assert.EqualValues(t, 0, progress["b"])
}

func TestPipelineResumesFromCommittedCheckpoints(t *testing.T) {
	provider := newProvider()
	diskFull := errors.New("disk full")

	_, _, c, stages := threeStages(10)
	c.failWith = diskFull
	p := newTestPipeline(t, provider, stages)

	err := p.Run(context.Background(), nil)
	require.True(t, errors.Is(err, diskFull))
	var perr *stagedsync.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, stagedsync.StageID("c"), perr.Stage)
	assert.Equal(t, stagedsync.KindFatal, perr.Kind)

	a2, b2, c2, stages2 := threeStages(10)
	p2 := newTestPipeline(t, provider, stages2)
	require.NoError(t, p2.Run(context.Background(), nil))

	require.NotEmpty(t, a2.executeFrom)
	assert.EqualValues(t, 10, a2.executeFrom[0])
	assert.Empty(t, b2.executeFrom)
	require.NotEmpty(t, c2.executeFrom)
	assert.EqualValues(t, 0, c2.executeFrom[0])
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 10, "b": 10, "c": 10}, checkpoints(t, p2))
}

func TestPipelineUnwindTo(t *testing.T) {
	a, b, c, stages := threeStages(10)
	p := newTestPipeline(t, newProvider(), stages)
	require.NoError(t, p.Run(context.Background(), nil))

	require.NoError(t, p.UnwindTo(context.Background(), 4))
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 4, "b": 4, "c": 4}, checkpoints(t, p))
	for _, s := range []*fakeStage{a, b, c} {
		unwinds := s.recordedUnwinds()
		require.Len(t, unwinds, 1)
		assert.Nil(t, unwinds[0].BadBlock)
	}

	// nothing above the height is a no-op
	require.NoError(t, p.UnwindTo(context.Background(), 7))
	assert.Len(t, a.recordedUnwinds(), 1)
}

func TestPipelineNotifyReorgKeepsLowestHeight(t *testing.T) {
	_, _, _, stages := threeStages(10)
	p := newTestPipeline(t, newProvider(), stages)
	rec := recordEvents(t, p)
	require.NoError(t, p.Run(context.Background(), nil))

	p.NotifyReorg(6)
	p.NotifyReorg(2)
	p.NotifyReorg(8)
	require.NoError(t, p.Run(context.Background(), nil))

	unwound := rec.ofType(stagedsync.EventStageUnwound)
	require.Len(t, unwound, 3)
	for _, ev := range unwound {
		assert.EqualValues(t, 2, ev.BlockNumber)
	}
	assert.Equal(t, map[stagedsync.StageID]uint64{"a": 10, "b": 10, "c": 10}, checkpoints(t, p))
}

func TestPipelineValidatesStageOutput(t *testing.T) {
	testCases := map[string]struct {
		out  stagedsync.ExecOutput
		done bool
	}{
		"past target":    {out: stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(20)}, done: true},
		"data not found": {out: stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(3)}, done: false},
	}
	for name, tc := range testCases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			stage := &mocks.Stage{}
			stage.On("ID").Return(stagedsync.StageID("mocked"))
			stage.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(tc.out, nil)
			stage.On("IsExecuteDone", mock.Anything, mock.Anything, mock.Anything).Return(tc.done, nil)

			p := newTestPipeline(t, newProvider(), []stagedsync.Stage{stage})
			target := uint64(5)
			err := p.Run(context.Background(), &target)

			var perr *stagedsync.PipelineError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, stagedsync.KindValidation, perr.Kind)
			assert.Equal(t, stagedsync.StageID("mocked"), perr.Stage)

			progress, err := p.Progress(context.Background())
			require.NoError(t, err)
			assert.False(t, progress[0].Found)
		})
	}
}

func TestPipelineValidatesUnwindOutput(t *testing.T) {
	stage := &mocks.Stage{}
	stage.On("ID").Return(stagedsync.StageID("mocked"))
	stage.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(stagedsync.ExecOutput{Checkpoint: stagedsync.NewCheckpoint(5)}, nil)
	stage.On("IsExecuteDone", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	stage.On("Unwind", mock.Anything, mock.Anything, mock.Anything).
		Return(stagedsync.UnwindOutput{Checkpoint: stagedsync.NewCheckpoint(3)}, nil)

	p := newTestPipeline(t, newProvider(), []stagedsync.Stage{stage})
	target := uint64(5)
	require.NoError(t, p.Run(context.Background(), &target))

	err := p.UnwindTo(context.Background(), 1)
	var perr *stagedsync.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, stagedsync.KindValidation, perr.Kind)
	assert.EqualValues(t, 5, perr.From)
	assert.EqualValues(t, 1, perr.To)
	assert.EqualValues(t, 5, checkpoints(t, p)["mocked"])
}

func TestPipelineForwardsEventsToSinks(t *testing.T) {
	sink := &mocks.EventSink{}
	sink.On("IndexStageEvent", mock.Anything).Return(nil)

	_, _, _, stages := threeStages(5)
	p := newTestPipeline(t, newProvider(), stages, stagedsync.WithEventSinks(sink))
	require.NoError(t, p.Run(context.Background(), nil))

	sink.AssertCalled(t, "IndexStageEvent", mock.MatchedBy(func(ev stagedsync.StageEvent) bool {
		return ev.Stage == "c" && ev.Type == stagedsync.EventStageFinished && ev.BlockNumber == 5
	}))
}

func TestPipelineSurvivesFailingSink(t *testing.T) {
	sink := &mocks.EventSink{}
	sink.On("IndexStageEvent", mock.Anything).Return(errors.New("sink down"))
	sink.On("Type").Return(stagedsync.PSQL)

	_, _, _, stages := threeStages(5)
	p := newTestPipeline(t, newProvider(), stages, stagedsync.WithEventSinks(sink))
	require.NoError(t, p.Run(context.Background(), nil))
	assert.EqualValues(t, 5, checkpoints(t, p)["c"])
}

func TestPipelineServiceFollowsTip(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _, _, stages := threeStages(10)
	p := newTestPipeline(t, newProvider(), stages)
	require.NoError(t, p.Start(ctx))

	require.Eventually(t, func() bool {
		return checkpoints(t, p)["c"] == 10
	}, 3*time.Second, 5*time.Millisecond)

	a.setTip(20)
	require.Eventually(t, func() bool {
		return checkpoints(t, p)["c"] == 20
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	p.Wait()
	assert.NoError(t, p.Err())
}

func TestPipelineServiceStopsOnFatalError(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, b, _, stages := threeStages(10)
	b.failWith = errors.New("corrupted database")
	p := newTestPipeline(t, newProvider(), stages)
	require.NoError(t, p.Start(ctx))

	p.Wait()
	var perr *stagedsync.PipelineError
	require.True(t, errors.As(p.Err(), &perr))
	assert.Equal(t, stagedsync.StageID("b"), perr.Stage)
	assert.False(t, p.IsRunning())
}

func TestPipelineServiceStopsWithContext(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	ctx, cancel := context.WithCancel(context.Background())

	_, _, _, stages := threeStages(10)
	p := newTestPipeline(t, newProvider(), stages, stagedsync.WithLoopInterval(time.Hour))
	require.NoError(t, p.Start(ctx))

	cancel()
	p.Wait()
	assert.NoError(t, p.Err())
}
