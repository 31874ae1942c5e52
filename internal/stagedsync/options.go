package stagedsync

import (
	"time"

	"github.com/tendermint/stagesync/config"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics sets the metrics the pipeline reports to.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithEventSinks forwards every lifecycle event to the sinks.
func WithEventSinks(sinks ...EventSink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithSyncConfig applies the [sync] section of the configuration.
func WithSyncConfig(cfg *config.SyncConfig) Option {
	return func(p *Pipeline) {
		p.maxRetries = cfg.MaxRetries
		p.retryBackoff = cfg.RetryBackoff
		p.loopInterval = cfg.LoopInterval
		p.verifyStages = cfg.VerifyStages
		p.maxBadBlockUnwinds = cfg.MaxBadBlockUnwinds
		p.loopTarget = cfg.Target()
	}
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) { p.maxRetries = n }
}

// WithRetryBackoff sets the wait before the first retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(p *Pipeline) { p.retryBackoff = d }
}

// WithLoopInterval sets the pause between runs of RunLoop.
func WithLoopInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.loopInterval = d }
}

// WithVerifyStages makes the pipeline consult IsExecuteDone and IsUnwindDone
// before committing.
func WithVerifyStages(verify bool) Option {
	return func(p *Pipeline) { p.verifyStages = verify }
}

// WithMaxBadBlockUnwinds bounds consecutive unwinds for the same bad block.
func WithMaxBadBlockUnwinds(n int) Option {
	return func(p *Pipeline) { p.maxBadBlockUnwinds = n }
}

// WithLoopTarget sets the target RunLoop syncs towards. Nil follows the
// source.
func WithLoopTarget(target *uint64) Option {
	return func(p *Pipeline) { p.loopTarget = target }
}
