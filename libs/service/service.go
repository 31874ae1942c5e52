// Package service gives long running components, such as the sync pipeline
// and the node, a shared start and stop lifecycle.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/tendermint/stagesync/libs/log"
)

var (
	// ErrAlreadyStarted is returned when starting a running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when starting or stopping a service
	// that has been stopped.
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when stopping a service that never started.
	ErrNotStarted = errors.New("not started")
)

// Service is a component that runs in the background between Start and
// Stop. A service runs at most once: after Stop it cannot be started again.
type Service interface {
	// Start launches the service. It runs until Stop is called or ctx is
	// done.
	Start(context.Context) error
	Stop() error
	IsRunning() bool
	String() string
	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation is the component a BaseService drives.
type Implementation interface {
	Service

	// OnStart launches the component's goroutines. An error leaves the
	// service startable.
	OnStart(context.Context) error
	// OnStop releases what OnStart acquired. It is called once.
	OnStop()
}

type state int

const (
	idle state = iota
	running
	stopped
)

// BaseService tracks the lifecycle of an Implementation embedding it:
//
//	type Pipeline struct {
//		service.BaseService
//		...
//	}
//
//	p.BaseService = *service.NewBaseService(logger, "Pipeline", p)
//
// Start and Stop may be called from any goroutine, including from the
// service's own goroutines while OnStart is still running.
type BaseService struct {
	logger log.Logger
	name   string
	impl   Implementation

	mtx   sync.Mutex
	state state
	quit  chan struct{}
}

// NewBaseService returns a BaseService for impl. A nil logger discards
// output.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BaseService{
		logger: logger,
		name:   name,
		impl:   impl,
		quit:   make(chan struct{}),
	}
}

// Start calls OnStart and stops the service once ctx is done.
func (bs *BaseService) Start(ctx context.Context) error {
	bs.mtx.Lock()
	switch bs.state {
	case running:
		bs.mtx.Unlock()
		return ErrAlreadyStarted
	case stopped:
		bs.mtx.Unlock()
		bs.logger.Error("not starting service; already stopped", "service", bs.name)
		return ErrAlreadyStopped
	}
	// marked running first so that OnStart's goroutines may stop it
	bs.state = running
	bs.mtx.Unlock()

	bs.logger.Debug("starting service", "service", bs.name)
	if err := bs.impl.OnStart(ctx); err != nil {
		bs.mtx.Lock()
		if bs.state == running {
			bs.state = idle
		}
		bs.mtx.Unlock()
		return err
	}

	go func() {
		select {
		case <-bs.quit:
		case <-ctx.Done():
			if err := bs.Stop(); err != nil && !errors.Is(err, ErrAlreadyStopped) {
				bs.logger.Error("failed to stop service", "service", bs.name, "err", err)
				return
			}
			bs.logger.Info("stopped service", "service", bs.name)
		}
	}()
	return nil
}

// Stop calls OnStop and releases Wait. Only the first call does anything.
func (bs *BaseService) Stop() error {
	bs.mtx.Lock()
	switch bs.state {
	case idle:
		bs.mtx.Unlock()
		bs.logger.Error("not stopping service; not started yet", "service", bs.name)
		return ErrNotStarted
	case stopped:
		bs.mtx.Unlock()
		return ErrAlreadyStopped
	}
	bs.state = stopped
	bs.mtx.Unlock()

	bs.logger.Debug("stopping service", "service", bs.name)
	bs.impl.OnStop()
	close(bs.quit)
	return nil
}

// IsRunning reports whether the service started and has not been stopped.
func (bs *BaseService) IsRunning() bool {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()
	return bs.state == running
}

// Wait blocks until Stop has finished.
func (bs *BaseService) Wait() { <-bs.quit }

func (bs *BaseService) String() string { return bs.name }
