package linekit

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

const defaultSuperviseInterval = 30 * time.Second

// Worker is a long lived task the supervisor keeps alive. Run blocks until
// the context is cancelled or the worker fails; a healthy worker checks
// cancellation at its yield points and returns the context error.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

type supervised struct {
	worker   Worker
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	restarts uint64
}

// TaskSupervisor launches registered workers and relaunches any that stop,
// whatever the cause. Worker goroutines recover their own panics into errors,
// so a crashing worker costs one cycle, not the process.
type TaskSupervisor struct {
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	workers map[string]*supervised
	order   []string
	started bool
	runCtx  context.Context
}

func NewTaskSupervisor(interval time.Duration, logger *log.Logger) *TaskSupervisor {
	if interval <= 0 {
		interval = defaultSuperviseInterval
	}
	if logger == nil {
		logger = log.Default()
	}

	return &TaskSupervisor{
		interval: interval,
		logger:   logger,
		workers:  make(map[string]*supervised),
	}
}

// Register adds a worker. All workers must be registered before Run.
func (s *TaskSupervisor) Register(worker Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := worker.Name()
	if _, taken := s.workers[name]; taken {
		s.logger.Warn("worker already registered, ignoring", "worker", name)
		return
	}
	s.workers[name] = &supervised{worker: worker}
	s.order = append(s.order, name)
}

// Run launches every registered worker, then periodically relaunches the ones
// that have stopped. Blocks until ctx is cancelled; on the way out it stops
// all workers and waits for each to acknowledge.
func (s *TaskSupervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.runCtx = ctx
	for _, name := range s.order {
		s.launch(ctx, s.workers[name])
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.StopAll()
			return ctx.Err()
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// Started reports whether Run has launched the workers.
func (s *TaskSupervisor) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started
}

// Alive reports whether the named worker is currently running.
func (s *TaskSupervisor) Alive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sv, found := s.workers[name]
	if !found || sv.done == nil {
		return false
	}
	select {
	case <-sv.done:
		return false
	default:
		return true
	}
}

// RestartCount reports how many times the named worker has been relaunched.
func (s *TaskSupervisor) RestartCount(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	sv, found := s.workers[name]
	if !found {
		return 0
	}

	return sv.restarts
}

// Stop cancels the named worker and waits for it to finish. The supervisor
// may relaunch it on its next cycle; use Restart to bring it back sooner.
func (s *TaskSupervisor) Stop(name string) error {
	s.mu.Lock()
	sv, found := s.workers[name]
	if !found {
		s.mu.Unlock()
		return errors.Errorf("no worker registered as %q", name)
	}
	cancel, done := sv.cancel, sv.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	return nil
}

// Restart stops the named worker and launches it again. The new instance runs
// under the supervisor's own context, not the caller's, so it outlives the
// call. If the supervisor already relaunched the worker in between, the fresh
// instance is left running.
func (s *TaskSupervisor) Restart(ctx context.Context, name string) error {
	s.mu.Lock()
	sv, found := s.workers[name]
	if !found {
		s.mu.Unlock()
		return errors.Errorf("no worker registered as %q", name)
	}
	cancel, done := sv.cancel, sv.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	launchCtx := s.runCtx
	if launchCtx == nil {
		launchCtx = ctx
	}
	if launchCtx.Err() != nil {
		return launchCtx.Err()
	}
	if sv.done != done {
		return nil
	}
	s.launch(launchCtx, sv)

	return nil
}

// StopAll cancels every worker and waits for each to acknowledge.
func (s *TaskSupervisor) StopAll() {
	s.mu.Lock()
	handles := make([]*supervised, 0, len(s.order))
	for _, name := range s.order {
		handles = append(handles, s.workers[name])
	}
	s.mu.Unlock()

	for _, sv := range handles {
		if sv.cancel != nil {
			sv.cancel()
		}
	}
	for _, sv := range handles {
		if sv.done != nil {
			<-sv.done
		}
	}
}

// launch starts the worker goroutine. Caller holds s.mu.
func (s *TaskSupervisor) launch(ctx context.Context, sv *supervised) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	sv.cancel = cancel
	sv.done = done
	sv.err = nil

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				sv.err = errors.Errorf("worker %s panicked: %v", sv.worker.Name(), r)
			}
		}()
		sv.err = sv.worker.Run(runCtx)
	}()
}

// check relaunches workers that have stopped, logging the termination cause.
func (s *TaskSupervisor) check(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order {
		sv := s.workers[name]
		if sv.done == nil {
			s.logger.Warn("worker was never launched, launching", "worker", name)
			s.launch(ctx, sv)
			continue
		}
		select {
		case <-sv.done:
		default:
			continue
		}
		if ctx.Err() != nil {
			return
		}

		sv.restarts++
		switch {
		case sv.err == nil:
			s.logger.Warn("worker exited cleanly without cancellation, restarting",
				"worker", name, "restarts", sv.restarts)
		case errors.Is(sv.err, context.Canceled):
			s.logger.Warn("worker was cancelled outside shutdown, restarting",
				"worker", name, "restarts", sv.restarts)
		default:
			s.logger.Error("worker failed, restarting",
				"worker", name, "err", sv.err, "restarts", sv.restarts)
		}
		s.launch(ctx, sv)
	}
}
