package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dusk-indust/vigil/internal/errors"
	"golang.org/x/sync/errgroup"
)

// Subtask is one labeled branch of a fan-out.
type Subtask[T any] struct {
	Label string
	Run   func(ctx context.Context) (T, error)
}

// Branch is the outcome of one Subtask. Cut is set when the branch had not
// returned by the barrier deadline; its Value is then the zero value.
type Branch[T any] struct {
	Label string
	Value T
	Err   error
	Cut   bool
}

// FanOut runs every subtask concurrently and waits for all of them, or
// until timeout elapses. Branches are independent: one failing does not
// cancel the others. A branch still running at the deadline is sealed out
// and reported as Cut; whatever it returns later is discarded. Results are
// index-aligned with tasks. A zero timeout waits on ctx alone.
//
// onProgress, when set, is called from the branch goroutines.
func FanOut[T any](ctx context.Context, timeout time.Duration, tasks []Subtask[T], onProgress func(label string, status ProgressStatus, msg string)) []Branch[T] {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	emit := func(label string, st ProgressStatus, msg string) {
		if onProgress != nil {
			onProgress(label, st, msg)
		}
	}

	var (
		mu      sync.Mutex
		sealed  bool
		results = make([]Branch[T], len(tasks))
		done    = make([]bool, len(tasks))
		g       errgroup.Group
	)

	for i, task := range tasks {
		emit(task.Label, ProgressPending, "")
		g.Go(func() error {
			emit(task.Label, ProgressWorking, "")
			v, err := task.Run(ctx)

			mu.Lock()
			defer mu.Unlock()
			// A branch returning after the deadline is cut like one still
			// running; the sealing pass below records it.
			if sealed || ctx.Err() != nil {
				return nil
			}
			results[i] = Branch[T]{Label: task.Label, Value: v, Err: err}
			done[i] = true
			if err != nil {
				emit(task.Label, ProgressFailed, err.Error())
			} else {
				emit(task.Label, ProgressComplete, "")
			}
			return nil
		})
	}

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	sealed = true
	for i, task := range tasks {
		if done[i] {
			continue
		}
		err := cutError(ctx.Err())
		results[i] = Branch[T]{Label: task.Label, Err: err, Cut: true}
		emit(task.Label, ProgressFailed, err.Error())
	}
	return results
}

func cutError(cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", errors.ErrTimeout, reasonStageTimeout)
	}
	if cause == nil {
		cause = context.Canceled
	}
	return cause
}

// reasonStageTimeout is the omission reason of a branch cut at the barrier.
const reasonStageTimeout = "stage timeout"
