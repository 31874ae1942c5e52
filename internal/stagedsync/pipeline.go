package stagedsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendermint/stagesync/config"
	"github.com/tendermint/stagesync/libs/events"
	"github.com/tendermint/stagesync/libs/log"
	"github.com/tendermint/stagesync/libs/service"
)

var errExternalReorg = errors.New("external reorg notice")

/*
Pipeline drives an ordered list of stages.

A run executes every stage in declared order. Stage 0 is asked to reach the
run target; every later stage is bounded by the checkpoint of the stage
before it. A stage is called repeatedly until it reports done, each call in
its own transaction that also persists the stage checkpoint. Passes repeat
until a pass makes no progress.

When a stage reports a bad block, asks for an unwind, or an external reorg
notice arrives, every stage above the unwind height is unwound in reverse
declared order and the forward pass restarts from stage 0.

Started as a service, the pipeline runs RunLoop until stopped.
*/
type Pipeline struct {
	service.BaseService
	logger log.Logger

	provider Provider
	stages   []Stage
	metrics  *Metrics
	evsw     events.EventSwitch
	sinks    []EventSink

	maxRetries         int
	retryBackoff       time.Duration
	loopInterval       time.Duration
	verifyStages       bool
	maxBadBlockUnwinds int
	loopTarget         *uint64

	// serializes runs and explicit unwinds
	runMtx sync.Mutex

	reorgMtx     sync.Mutex
	pendingReorg *uint64

	cancel   context.CancelFunc
	loopDone chan struct{}

	errMtx  sync.Mutex
	loopErr error
}

// NewPipeline returns a pipeline over stages. Stage IDs must be unique.
func NewPipeline(logger log.Logger, provider Provider, stages []Stage, opts ...Option) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, errors.New("pipeline needs at least one stage")
	}
	seen := make(map[StageID]struct{}, len(stages))
	for _, s := range stages {
		id := s.ID()
		if id == "" {
			return nil, errors.New("stage with empty ID")
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("duplicated stage ID %q", id)
		}
		seen[id] = struct{}{}
	}

	p := &Pipeline{
		logger:   logger,
		provider: provider,
		stages:   append([]Stage(nil), stages...),
		metrics:  NopMetrics(),
		evsw:     events.NewEventSwitch(),
	}
	WithSyncConfig(config.DefaultSyncConfig())(p)
	for _, opt := range opts {
		opt(p)
	}
	p.BaseService = *service.NewBaseService(logger, "Pipeline", p)

	if err := p.registerSinks(); err != nil {
		return nil, err
	}
	return p, nil
}

// EventSwitch returns the switch lifecycle events are fired on. Events carry
// a StageEvent.
func (p *Pipeline) EventSwitch() events.EventSwitch {
	return p.evsw
}

// Stages returns the stage IDs in declared order.
func (p *Pipeline) Stages() []StageID {
	ids := make([]StageID, len(p.stages))
	for i, s := range p.stages {
		ids[i] = s.ID()
	}
	return ids
}

// OnStart implements service.Service by running RunLoop in the background.
func (p *Pipeline) OnStart(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loopDone = make(chan struct{})
	go p.loopRoutine(ctx)
	return nil
}

// OnStop implements service.Service.
func (p *Pipeline) OnStop() {
	p.cancel()
	<-p.loopDone
}

// Err returns the error that ended the background loop, if any.
func (p *Pipeline) Err() error {
	p.errMtx.Lock()
	defer p.errMtx.Unlock()
	return p.loopErr
}

func (p *Pipeline) loopRoutine(ctx context.Context) {
	err := p.RunLoop(ctx)

	p.errMtx.Lock()
	p.loopErr = err
	p.errMtx.Unlock()
	close(p.loopDone)

	if err != nil {
		p.logger.Error("pipeline loop aborted", "err", err)
		if err := p.Stop(); err != nil && !errors.Is(err, service.ErrAlreadyStopped) {
			p.logger.Error("failed to stop pipeline", "err", err)
		}
	}
}

// RunLoop repeats Run until ctx is done, pausing between runs. It returns
// nil on shutdown and the run's error when a run aborts.
func (p *Pipeline) RunLoop(ctx context.Context) error {
	for {
		if err := p.Run(ctx, p.loopTarget); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		timer := time.NewTimer(p.loopInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Run syncs every stage towards target, nil meaning as far as the first
// stage can go. It returns nil once a pass makes no progress, the context
// error when ctx is done, and a *PipelineError when the run aborts.
func (p *Pipeline) Run(ctx context.Context, target *uint64) error {
	p.runMtx.Lock()
	defer p.runMtx.Unlock()

	run := p.newRun()
	run.logger.Info("pipeline run started", "target", formatTarget(target))

	for {
		progressed, sig, err := p.forward(ctx, run, target)
		if err != nil {
			return err
		}
		if sig != nil {
			if err := p.handleUnwind(ctx, run, sig); err != nil {
				return err
			}
			continue
		}
		if !progressed {
			run.logger.Info("pipeline run finished", "target", formatTarget(target))
			return nil
		}
	}
}

// UnwindTo unwinds every stage above height, in reverse order.
func (p *Pipeline) UnwindTo(ctx context.Context, height uint64) error {
	p.runMtx.Lock()
	defer p.runMtx.Unlock()

	return p.unwindAll(ctx, p.newRun(), height, nil, -1)
}

// NotifyReorg asks the pipeline to unwind to height at the next stage
// boundary of the current or next run. Of several pending notices the
// lowest height wins.
func (p *Pipeline) NotifyReorg(height uint64) {
	p.reorgMtx.Lock()
	defer p.reorgMtx.Unlock()

	if p.pendingReorg == nil || height < *p.pendingReorg {
		h := height
		p.pendingReorg = &h
	}
}

func (p *Pipeline) takeReorg() (uint64, bool) {
	p.reorgMtx.Lock()
	defer p.reorgMtx.Unlock()

	if p.pendingReorg == nil {
		return 0, false
	}
	h := *p.pendingReorg
	p.pendingReorg = nil
	return h, true
}

// Progress returns every stage's persisted checkpoint in declared order.
func (p *Pipeline) Progress(ctx context.Context) ([]StageProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := p.provider.Reader()
	progress := make([]StageProgress, 0, len(p.stages))
	for _, s := range p.stages {
		cp, found, err := LoadCheckpoint(r, s.ID())
		if err != nil {
			return nil, err
		}
		progress = append(progress, StageProgress{ID: s.ID(), Checkpoint: cp, Found: found})
	}
	return progress, nil
}

//-----------------------------------------------------------------------------
// forward pass

type runState struct {
	id     string
	logger log.Logger

	// consecutive unwinds for the same bad height reported by the same stage
	badStage  int
	badHeight uint64
	badCount  int
}

func (p *Pipeline) newRun() *runState {
	id := uuid.NewString()
	return &runState{id: id, logger: p.logger.With("run", id)}
}

// unwindSignal interrupts a forward pass.
type unwindSignal struct {
	stage    int
	to       uint64
	badBlock *uint64
	cause    error

	// range of the interrupted call
	from   uint64
	target uint64
}

func (p *Pipeline) forward(ctx context.Context, run *runState, target *uint64) (bool, *unwindSignal, error) {
	var (
		progressed bool
		upstream   uint64
	)
	for i, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return progressed, nil, err
		}
		if to, ok := p.takeReorg(); ok {
			return progressed, &unwindSignal{stage: -1, to: to, cause: errExternalReorg}, nil
		}

		cp, found, err := LoadCheckpoint(p.provider.Reader(), stage.ID())
		if err != nil {
			return progressed, nil, &PipelineError{Stage: stage.ID(), Kind: KindFatal, Err: err}
		}
		in := ExecInput{Target: target}
		if found {
			in.Checkpoint = &cp
		}
		if i > 0 {
			in = in.Bound(upstream)
		}
		if in.TargetReached() {
			upstream = in.Progress()
			continue
		}

		reached, stageProgressed, sig, err := p.executeStage(ctx, run, i, stage, in)
		if err != nil || sig != nil {
			return progressed || stageProgressed, sig, err
		}
		progressed = progressed || stageProgressed
		upstream = reached
	}
	return progressed, nil, nil
}

// executeStage calls the stage until it is done or stops making progress
// and returns the height it reached.
func (p *Pipeline) executeStage(
	ctx context.Context,
	run *runState,
	index int,
	stage Stage,
	in ExecInput,
) (uint64, bool, *unwindSignal, error) {
	id := stage.ID()
	logger := run.logger.With("stage", id)
	progressed := false

	p.fire(run, EventStageStarted, id, in.Progress())
	logger.Debug("executing stage", "from", in.Progress(), "target", formatTarget(in.Target))

	for {
		if err := ctx.Err(); err != nil {
			return in.Progress(), progressed, nil, err
		}

		out, err := p.executeWithRetry(ctx, logger, stage, in)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && isContextError(err) {
				return in.Progress(), progressed, nil, ctxErr
			}
			sig, err := p.classifyExecError(logger, index, stage, in, err)
			return in.Progress(), progressed, sig, err
		}

		stalled := out.Checkpoint.BlockNumber == in.Progress()
		if !stalled {
			progressed = true
		}
		cp := out.Checkpoint
		in.Checkpoint = &cp

		if in.IsDone(out) {
			break
		}
		if stalled {
			logger.Debug("stage made no progress", "height", cp.BlockNumber)
			break
		}
	}

	p.fire(run, EventStageFinished, id, in.Progress())
	logger.Info("stage finished", "height", in.Progress())
	return in.Progress(), progressed, nil, nil
}

func (p *Pipeline) classifyExecError(
	logger log.Logger,
	index int,
	stage Stage,
	in ExecInput,
	err error,
) (*unwindSignal, error) {
	var (
		badBlock *BadBlockError
		request  *UnwindRequest
		target   = in.Progress()
	)
	if in.Target != nil {
		target = *in.Target
	}

	switch {
	case errors.As(err, &badBlock):
		p.metrics.BadBlocks.With("stage", string(stage.ID())).Add(1)
		logger.Error("stage reported bad block", "height", badBlock.Height, "err", badBlock.Err)

		height := badBlock.Height
		if height == 0 {
			return nil, &PipelineError{Stage: stage.ID(), Kind: KindBadBlock, From: in.Progress(), To: target,
				Err: fmt.Errorf("genesis block rejected: %w", err)}
		}
		return &unwindSignal{
			stage:    index,
			to:       height - 1,
			badBlock: &height,
			cause:    err,
			from:     in.Progress(),
			target:   target,
		}, nil

	case errors.As(err, &request):
		if request.To >= in.Progress() {
			return nil, &PipelineError{Stage: stage.ID(), Kind: KindValidation, From: in.Progress(), To: target,
				Err: fmt.Errorf("unwind to %d requested at progress %d: %w", request.To, in.Progress(), err)}
		}
		logger.Info("stage requested unwind", "to", request.To, "reason", request.Reason)
		return &unwindSignal{stage: index, to: request.To, cause: err, from: in.Progress(), target: target}, nil

	default:
		logger.Error("stage failed", "err", err)
		return nil, &PipelineError{Stage: stage.ID(), Kind: KindOf(err), From: in.Progress(), To: target, Err: err}
	}
}

func (p *Pipeline) executeWithRetry(ctx context.Context, logger log.Logger, stage Stage, in ExecInput) (ExecOutput, error) {
	backoff := p.retryBackoff
	for attempt := 0; ; attempt++ {
		out, err := p.executeOnce(ctx, stage, in)
		if err == nil || KindOf(err) != KindRetryable || attempt >= p.maxRetries {
			return out, err
		}

		p.metrics.Retries.With("stage", string(stage.ID())).Add(1)
		logger.Info("retrying stage execute", "attempt", attempt+1, "backoff", backoff, "err", err)
		if err := sleep(ctx, backoff); err != nil {
			return ExecOutput{}, err
		}
		backoff *= 2
	}
}

func (p *Pipeline) executeOnce(ctx context.Context, stage Stage, in ExecInput) (ExecOutput, error) {
	tx, err := p.provider.BeginRW(ctx)
	if err != nil {
		return ExecOutput{}, err
	}
	defer tx.Rollback()

	id := string(stage.ID())
	start := time.Now()
	out, err := stage.Execute(ctx, tx, in)
	p.metrics.ExecuteCalls.With("stage", id).Add(1)
	p.metrics.StageCallDuration.With("stage", id, "op", "execute").Observe(time.Since(start).Seconds())
	if err != nil {
		return ExecOutput{}, err
	}

	if out.Checkpoint.BlockNumber < in.Progress() {
		return ExecOutput{}, validationErrorf("checkpoint regressed from %d to %d",
			in.Progress(), out.Checkpoint.BlockNumber)
	}
	if in.Target != nil && out.Checkpoint.BlockNumber > *in.Target {
		return ExecOutput{}, validationErrorf("checkpoint %d is past target %d",
			out.Checkpoint.BlockNumber, *in.Target)
	}
	if p.verifyStages {
		done, err := stage.IsExecuteDone(tx, in, out)
		if err != nil {
			return ExecOutput{}, Fatal(err)
		}
		if !done {
			return ExecOutput{}, validationErrorf("stored data does not reflect checkpoint %d",
				out.Checkpoint.BlockNumber)
		}
	}

	if err := SaveCheckpoint(tx, stage.ID(), out.Checkpoint); err != nil {
		return ExecOutput{}, Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		return ExecOutput{}, Fatal(err)
	}

	p.metrics.StageCheckpoint.With("stage", id).Set(float64(out.Checkpoint.BlockNumber))
	p.metrics.BlocksProcessed.With("stage", id).Add(float64(out.Checkpoint.BlockNumber - in.Progress()))
	return out, nil
}

//-----------------------------------------------------------------------------
// unwind pass

func (p *Pipeline) handleUnwind(ctx context.Context, run *runState, sig *unwindSignal) error {
	if sig.badBlock != nil {
		height := *sig.badBlock
		if run.badCount > 0 && run.badStage == sig.stage && run.badHeight == height {
			run.badCount++
		} else {
			run.badStage, run.badHeight, run.badCount = sig.stage, height, 1
		}
		if run.badCount > p.maxBadBlockUnwinds {
			return &PipelineError{
				Stage: p.stages[sig.stage].ID(),
				Kind:  KindBadBlock,
				From:  sig.from,
				To:    sig.target,
				Err:   fmt.Errorf("block %d rejected %d times in a row: %w", height, run.badCount, sig.cause),
			}
		}
	}
	return p.unwindAll(ctx, run, sig.to, sig.badBlock, sig.stage)
}

// unwindAll unwinds, in reverse order, every stage whose checkpoint is above
// to. The reporter is always unwound so that it learns about the bad block;
// when its checkpoint is at or below to it is unwound to that checkpoint.
func (p *Pipeline) unwindAll(ctx context.Context, run *runState, to uint64, badBlock *uint64, reporter int) error {
	run.logger.Info("unwinding stages", "to", to, "bad_block", formatTarget(badBlock))

	r := p.provider.Reader()
	for i := len(p.stages) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}

		stage := p.stages[i]
		cp, _, err := LoadCheckpoint(r, stage.ID())
		if err != nil {
			return &PipelineError{Stage: stage.ID(), Kind: KindFatal, Err: err}
		}
		if i != reporter && cp.BlockNumber <= to {
			continue
		}

		in := UnwindInput{UnwindTo: to, Checkpoint: cp}
		if i == reporter {
			in.BadBlock = badBlock
			if cp.BlockNumber < to {
				in.UnwindTo = cp.BlockNumber
			}
		}

		logger := run.logger.With("stage", stage.ID())
		out, err := p.unwindWithRetry(ctx, logger, stage, in)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && isContextError(err) {
				return ctxErr
			}
			logger.Error("stage unwind failed", "err", err)
			return &PipelineError{Stage: stage.ID(), Kind: KindOf(err), From: cp.BlockNumber, To: in.UnwindTo, Err: err}
		}

		p.fire(run, EventStageUnwound, stage.ID(), out.Checkpoint.BlockNumber)
		logger.Info("stage unwound", "from", cp.BlockNumber, "to", out.Checkpoint.BlockNumber)
	}
	return nil
}

func (p *Pipeline) unwindWithRetry(ctx context.Context, logger log.Logger, stage Stage, in UnwindInput) (UnwindOutput, error) {
	backoff := p.retryBackoff
	for attempt := 0; ; attempt++ {
		out, err := p.unwindOnce(ctx, stage, in)
		if err == nil || KindOf(err) != KindRetryable || attempt >= p.maxRetries {
			return out, err
		}

		p.metrics.Retries.With("stage", string(stage.ID())).Add(1)
		logger.Info("retrying stage unwind", "attempt", attempt+1, "backoff", backoff, "err", err)
		if err := sleep(ctx, backoff); err != nil {
			return UnwindOutput{}, err
		}
		backoff *= 2
	}
}

func (p *Pipeline) unwindOnce(ctx context.Context, stage Stage, in UnwindInput) (UnwindOutput, error) {
	tx, err := p.provider.BeginRW(ctx)
	if err != nil {
		return UnwindOutput{}, err
	}
	defer tx.Rollback()

	id := string(stage.ID())
	start := time.Now()
	out, err := stage.Unwind(ctx, tx, in)
	p.metrics.UnwindCalls.With("stage", id).Add(1)
	p.metrics.StageCallDuration.With("stage", id, "op", "unwind").Observe(time.Since(start).Seconds())
	if err != nil {
		return UnwindOutput{}, err
	}

	if out.Checkpoint.BlockNumber != in.UnwindTo {
		return UnwindOutput{}, validationErrorf("unwound to %d instead of %d",
			out.Checkpoint.BlockNumber, in.UnwindTo)
	}
	if p.verifyStages && !stage.IsUnwindDone(tx, in, out) {
		return UnwindOutput{}, validationErrorf("data above %d remains after unwind", in.UnwindTo)
	}

	if err := SaveCheckpoint(tx, stage.ID(), out.Checkpoint); err != nil {
		return UnwindOutput{}, Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		return UnwindOutput{}, Fatal(err)
	}

	p.metrics.StageCheckpoint.With("stage", id).Set(float64(out.Checkpoint.BlockNumber))
	return out, nil
}

//-----------------------------------------------------------------------------
// events

func (p *Pipeline) fire(run *runState, typ EventType, id StageID, height uint64) {
	p.evsw.FireEvent(string(typ), StageEvent{
		RunID:       run.id,
		Stage:       id,
		Type:        typ,
		BlockNumber: height,
		Time:        time.Now().UTC(),
	})
}

func (p *Pipeline) registerSinks() error {
	if len(p.sinks) == 0 {
		return nil
	}
	forward := func(data events.EventData) error {
		ev, ok := data.(StageEvent)
		if !ok {
			return fmt.Errorf("unexpected event data %T", data)
		}
		for _, sink := range p.sinks {
			if err := sink.IndexStageEvent(ev); err != nil {
				p.logger.Error("failed to index stage event",
					"sink", sink.Type(), "stage", ev.Stage, "event", ev.Type, "err", err)
			}
		}
		return nil
	}
	for _, typ := range []EventType{EventStageStarted, EventStageFinished, EventStageUnwound} {
		if err := p.evsw.AddListenerForEvent("event-sinks", string(typ), forward); err != nil {
			return err
		}
	}
	return nil
}

//-----------------------------------------------------------------------------
// helpers

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func formatTarget(h *uint64) string {
	if h == nil {
		return "none"
	}
	return strconv.FormatUint(*h, 10)
}
