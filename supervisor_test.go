package linekit

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
)

// testWorker runs until cancelled by default; the fail fields make it exit
// immediately in the matching way.
type testWorker struct {
	name      string
	failWith  error
	exitClean bool
	panicMsg  string

	mu   sync.Mutex
	runs int
}

func (w *testWorker) Name() string {
	return w.name
}

func (w *testWorker) Run(ctx context.Context) error {
	w.mu.Lock()
	w.runs++
	w.mu.Unlock()

	if len(w.panicMsg) > 0 {
		panic(w.panicMsg)
	}
	if w.failWith != nil {
		return w.failWith
	}
	if w.exitClean {
		return nil
	}

	<-ctx.Done()
	return ctx.Err()
}

func (w *testWorker) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.runs
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runSupervisor(t testing.TB, sup *TaskSupervisor) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return cancel
}

func TestSupervisorKeepsHealthyWorkerRunning(t *testing.T) {
	sup := NewTaskSupervisor(5*time.Millisecond, log.New(io.Discard))
	worker := &testWorker{name: "steady"}
	sup.Register(worker)

	runSupervisor(t, sup)

	waitFor(t, "worker launch", func() bool { return sup.Alive("steady") })
	time.Sleep(30 * time.Millisecond)

	assertInts(t, worker.Runs(), 1)
	if sup.RestartCount("steady") != 0 {
		t.Errorf("healthy worker was restarted %d times", sup.RestartCount("steady"))
	}
}

func TestSupervisorRelaunchesFailedWorker(t *testing.T) {
	sup := NewTaskSupervisor(5*time.Millisecond, log.New(io.Discard))
	worker := &testWorker{name: "flaky", failWith: errors.New("probe lost")}
	sup.Register(worker)

	runSupervisor(t, sup)

	waitFor(t, "worker relaunch", func() bool { return worker.Runs() >= 2 })
	if sup.RestartCount("flaky") == 0 {
		t.Error("restart count not incremented")
	}
}

func TestSupervisorRelaunchesCleanExit(t *testing.T) {
	sup := NewTaskSupervisor(5*time.Millisecond, log.New(io.Discard))
	worker := &testWorker{name: "quitter", exitClean: true}
	sup.Register(worker)

	runSupervisor(t, sup)

	waitFor(t, "worker relaunch", func() bool { return worker.Runs() >= 2 })
}

func TestSupervisorRecoversPanickingWorker(t *testing.T) {
	sup := NewTaskSupervisor(5*time.Millisecond, log.New(io.Discard))
	worker := &testWorker{name: "crasher", panicMsg: "nil map write"}
	sup.Register(worker)

	runSupervisor(t, sup)

	waitFor(t, "worker relaunch after panic", func() bool { return worker.Runs() >= 2 })
}

func TestSupervisorStopAndRestart(t *testing.T) {
	sup := NewTaskSupervisor(time.Minute, log.New(io.Discard))
	worker := &testWorker{name: "steady"}
	sup.Register(worker)

	runSupervisor(t, sup)
	waitFor(t, "worker launch", func() bool { return sup.Alive("steady") })

	assertNoError(t, sup.Stop("steady"))
	assertBools(t, sup.Alive("steady"), false)
	assertInts(t, worker.Runs(), 1)

	assertNoError(t, sup.Restart(context.Background(), "steady"))
	waitFor(t, "worker relaunch", func() bool { return sup.Alive("steady") })
	assertInts(t, worker.Runs(), 2)
}

func TestSupervisorUnknownWorker(t *testing.T) {
	sup := NewTaskSupervisor(time.Minute, log.New(io.Discard))

	assertError(t, sup.Stop("missing"))
	assertError(t, sup.Restart(context.Background(), "missing"))
	assertBools(t, sup.Alive("missing"), false)
}

func TestSupervisorStopsWorkersOnCancel(t *testing.T) {
	sup := NewTaskSupervisor(time.Minute, log.New(io.Discard))
	first := &testWorker{name: "first"}
	second := &testWorker{name: "second"}
	sup.Register(first)
	sup.Register(second)

	cancel := runSupervisor(t, sup)
	waitFor(t, "workers launch", func() bool { return sup.Alive("first") && sup.Alive("second") })

	cancel()

	waitFor(t, "workers stop", func() bool {
		return !sup.Alive("first") && !sup.Alive("second")
	})
}
