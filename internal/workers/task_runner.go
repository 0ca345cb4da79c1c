package workers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alumitra/advisory/internal/providers/llm"
	"github.com/alumitra/advisory/internal/utils"
)

type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskStarted TaskState = "STARTED"
	TaskRetry   TaskState = "RETRY"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
)

type TaskStatus struct {
	ID      string    `json:"id"`
	State   TaskState `json:"state"`
	Attempt int       `json:"attempt"`
	Result  any       `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Work is one asynchronous unit of orchestration. It must keep its side
// effects inside a single transaction so a retried attempt starts clean.
type Work func(ctx context.Context) (any, error)

type job struct {
	id   string
	work Work
}

// TaskRunner drains a buffered queue with a fixed pool of workers. The
// submitting caller never blocks past enqueue. Transient external failures
// are retried with linear backoff inside a wall-clock budget; terminal
// failures and non-external errors fail the task immediately.
type TaskRunner struct {
	Store  TaskStore
	Logger *logrus.Logger

	NumWorkers  int
	QueueSize   int
	MaxAttempts int           // attempts per task, including the first
	BackoffBase time.Duration // attempt n waits n * BackoffBase
	Timeout     time.Duration // budget covering all attempts

	queue chan job
}

func (r *TaskRunner) Start(ctx context.Context) error {
	if r.Store == nil {
		return errors.New("TaskRunner missing dependency: Store must be set")
	}
	if r.NumWorkers <= 0 {
		r.NumWorkers = 5
	}
	if r.QueueSize <= 0 {
		r.QueueSize = 256
	}
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.BackoffBase <= 0 {
		r.BackoffBase = 2 * time.Second
	}
	if r.Timeout <= 0 {
		r.Timeout = 90 * time.Second
	}
	if r.Logger == nil {
		r.Logger = logrus.New()
	}

	r.queue = make(chan job, r.QueueSize)
	for i := 0; i < r.NumWorkers; i++ {
		go r.runWorker(ctx)
	}
	return nil
}

// Submit enqueues one work unit and returns its task id. A full queue is
// reported as unavailable rather than blocking the caller.
func (r *TaskRunner) Submit(ctx context.Context, work Work) (string, error) {
	const op = "TaskRunner.Submit"

	if r.queue == nil {
		return "", utils.E(utils.CodeUnavailable, op, "runner not started", nil)
	}

	id := uuid.NewString()
	if err := r.Store.Put(ctx, TaskStatus{
		ID:        id,
		State:     TaskPending,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to record task", err)
	}

	select {
	case r.queue <- job{id: id, work: work}:
		return id, nil
	default:
		return "", utils.E(utils.CodeUnavailable, op, "task queue is full, try again shortly", nil)
	}
}

func (r *TaskRunner) Status(ctx context.Context, id string) (*TaskStatus, error) {
	const op = "TaskRunner.Status"

	st, hit, err := r.Store.Get(ctx, id)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read task status", err)
	}
	if !hit {
		return nil, utils.E(utils.CodeNotFound, op, "task not found", nil)
	}
	return st, nil
}

func (r *TaskRunner) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.execute(ctx, j)
		}
	}
}

func (r *TaskRunner) execute(ctx context.Context, j job) {
	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	log := r.Logger.WithField("task_id", j.id)

	var lastErr error
	attempt := 1
	for {
		state := TaskStarted
		if attempt > 1 {
			state = TaskRetry
		}
		r.put(ctx, TaskStatus{ID: j.id, State: state, Attempt: attempt})

		result, err := j.work(runCtx)
		if err == nil {
			r.put(ctx, TaskStatus{ID: j.id, State: TaskSuccess, Attempt: attempt, Result: result})
			return
		}
		lastErr = err

		if !llm.IsTransient(err) {
			log.WithError(err).Warn("task failed without retry")
			break
		}
		if attempt >= r.MaxAttempts {
			log.WithError(err).Warn("task exhausted retries")
			break
		}
		log.WithError(err).WithField("attempt", attempt).Info("transient failure, backing off")

		select {
		case <-runCtx.Done():
			// Out of wall-clock budget; fail instead of retrying forever.
			lastErr = utils.E(utils.CodeTimeout, "TaskRunner", "task exceeded its overall deadline", runCtx.Err())
		case <-time.After(time.Duration(attempt) * r.BackoffBase):
			attempt++
			continue
		}
		break
	}

	r.put(ctx, TaskStatus{ID: j.id, State: TaskFailure, Attempt: attempt, Error: lastErr.Error()})
}

func (r *TaskRunner) put(ctx context.Context, st TaskStatus) {
	st.UpdatedAt = time.Now().UTC()
	if err := r.Store.Put(ctx, st); err != nil {
		r.Logger.WithError(err).WithField("task_id", st.ID).Error("failed to persist task status")
	}
}
