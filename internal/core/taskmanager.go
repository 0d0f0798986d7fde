package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type taskEntry struct {
	progress TaskProgress
	cancel   context.CancelFunc
}

// TaskManager is the concurrent, cancellable, step-structured executor for
// long-running operations. It generalizes a single-active-job model into
// the real concurrency contract: any number of tasks may be in flight, but
// at most one may hold the ADB semaphore and at most one may hold the
// download (rclone) semaphore at any instant.
type TaskManager struct {
	mu           sync.Mutex
	tasks        map[uint64]*taskEntry
	idCounter    uint64
	emitter      JobEventEmitter
	throttle     ThrottleConfig
	lastEmitTime map[uint64]time.Time

	adbSemaphore      chan struct{}
	downloadSemaphore chan struct{}
}

// NewTaskManager creates a TaskManager with default throttling and single
// capacity ADB/download semaphores.
func NewTaskManager(emitter JobEventEmitter) *TaskManager {
	return NewTaskManagerWithThrottle(emitter, DefaultThrottleConfig())
}

func NewTaskManagerWithThrottle(emitter JobEventEmitter, throttle ThrottleConfig) *TaskManager {
	adbSem := make(chan struct{}, 1)
	adbSem <- struct{}{}
	dlSem := make(chan struct{}, 1)
	dlSem <- struct{}{}

	return &TaskManager{
		tasks:             make(map[uint64]*taskEntry),
		emitter:           emitter,
		throttle:          throttle,
		lastEmitTime:      make(map[uint64]time.Time),
		adbSemaphore:      adbSem,
		downloadSemaphore: dlSem,
	}
}

func (tm *TaskManager) SetEmitter(emitter JobEventEmitter) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.emitter = emitter
}

// AddEmitter registers an additional emitter (wrapping into a MultiEmitter
// on the second registration) so the Wails frontend and SSE clients can
// both observe the same task stream.
func (tm *TaskManager) AddEmitter(emitter JobEventEmitter) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.emitter == nil {
		tm.emitter = emitter
		return
	}
	if multi, ok := tm.emitter.(*MultiEmitter); ok {
		multi.Add(emitter)
		return
	}
	tm.emitter = &MultiEmitter{emitters: []JobEventEmitter{tm.emitter, emitter}}
}

// StartTask registers a new task in the Waiting state and returns its id and
// a context that is cancelled when the task is cancelled. The caller drives
// the task body, calling UpdateStep/CompleteTask/FailTask as it progresses.
func (tm *TaskManager) StartTask(ctx context.Context, kind TaskKind, name string, params map[string]string) (uint64, context.Context, error) {
	tm.mu.Lock()
	tm.idCounter++
	id := tm.idCounter
	taskCtx, cancel := context.WithCancel(ctx)

	now := time.Now()
	entry := &taskEntry{
		cancel: cancel,
		progress: TaskProgress{
			ID:          id,
			Kind:        kind,
			Name:        name,
			Status:      TaskWaiting,
			Params:      params,
			CurrentStep: 1,
			TotalSteps:  kind.TotalSteps(),
			Message:     name,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	tm.tasks[id] = entry
	tm.mu.Unlock()

	tm.emit(id, "")
	return id, taskCtx, nil
}

// AcquireADB blocks until the ADB semaphore is available or taskCtx is
// cancelled, whichever happens first. Per the scheduler's cancellation
// policy, a task already cancelled before acquisition fails immediately
// without ever touching the semaphore.
func (tm *TaskManager) AcquireADB(taskCtx context.Context) error {
	return tm.acquire(taskCtx, tm.adbSemaphore)
}

func (tm *TaskManager) ReleaseADB() { tm.adbSemaphore <- struct{}{} }

// AcquireDownload/ReleaseDownload guard the rclone-using section of a task.
func (tm *TaskManager) AcquireDownload(taskCtx context.Context) error {
	return tm.acquire(taskCtx, tm.downloadSemaphore)
}

func (tm *TaskManager) ReleaseDownload() { tm.downloadSemaphore <- struct{}{} }

func (tm *TaskManager) acquire(taskCtx context.Context, sem chan struct{}) error {
	select {
	case <-taskCtx.Done():
		return Wrap(KindCancellation, "acquire", fmt.Errorf("cancelled before semaphore"))
	default:
	}
	select {
	case <-sem:
		return nil
	case <-taskCtx.Done():
		return Wrap(KindCancellation, "acquire", taskCtx.Err())
	}
}

// UpdateStep reports progress within the task's current step. stepProgress
// is clamped to [0,1]; TotalProgress is recomputed from the invariant.
func (tm *TaskManager) UpdateStep(id uint64, step int, stepProgress float64, message string) {
	tm.mu.Lock()
	entry, ok := tm.tasks[id]
	if !ok {
		tm.mu.Unlock()
		return
	}
	sp := clamp01(stepProgress)
	entry.progress.Status = TaskRunning
	entry.progress.CurrentStep = step
	entry.progress.StepProgress = &sp
	entry.progress.TotalProgress = computeTotalProgress(step, entry.progress.TotalSteps, sp)
	if message != "" {
		entry.progress.Message = message
	}
	entry.progress.UpdatedAt = time.Now()

	last := tm.lastEmitTime[id]
	now := time.Now()
	shouldEmit := now.Sub(last) >= tm.throttle.MinInterval
	if shouldEmit {
		tm.lastEmitTime[id] = now
	}
	tm.mu.Unlock()

	if shouldEmit {
		tm.emit(id, "")
	}
}

// CompleteStep marks the current step fully done (step_progress = 1.0) and
// always emits, regardless of throttling, since step boundaries are
// significant transitions.
func (tm *TaskManager) CompleteStep(id uint64, step int, message string) {
	tm.mu.Lock()
	entry, ok := tm.tasks[id]
	if !ok {
		tm.mu.Unlock()
		return
	}
	one := 1.0
	entry.progress.Status = TaskRunning
	entry.progress.CurrentStep = step
	entry.progress.StepProgress = &one
	entry.progress.TotalProgress = computeTotalProgress(step, entry.progress.TotalSteps, 1.0)
	if message != "" {
		entry.progress.Message = message
	}
	entry.progress.UpdatedAt = time.Now()
	tm.mu.Unlock()

	tm.emit(id, "")
}

// CompleteTask marks the task Completed with total_progress = 1.0.
func (tm *TaskManager) CompleteTask(id uint64, message string) {
	tm.mu.Lock()
	entry, ok := tm.tasks[id]
	if ok {
		entry.progress.Status = TaskCompleted
		entry.progress.TotalProgress = 1.0
		if message != "" {
			entry.progress.Message = message
		}
		entry.progress.UpdatedAt = time.Now()
	}
	tm.mu.Unlock()
	if ok {
		tm.emit(id, "")
	}
}

// FailTask marks the task Failed with a classified error.
func (tm *TaskManager) FailTask(id uint64, err error, details string) {
	tm.mu.Lock()
	entry, ok := tm.tasks[id]
	if ok {
		entry.progress.Status = TaskFailed
		entry.progress.Error = &TaskError{
			Kind:    ErrKind(err),
			Message: err.Error(),
			Details: details,
		}
		entry.progress.UpdatedAt = time.Now()
	}
	tm.mu.Unlock()
	if ok {
		tm.emit(id, "")
	}
}

// CancelTask cancels the task's context; the task body is responsible for
// observing cancellation and performing any side-effect cleanup (§4.G).
func (tm *TaskManager) CancelTask(id uint64) error {
	tm.mu.Lock()
	entry, ok := tm.tasks[id]
	tm.mu.Unlock()
	if !ok {
		return fmt.Errorf("task not found: %d", id)
	}

	entry.cancel()

	tm.mu.Lock()
	entry.progress.Status = TaskCancelled
	entry.progress.Message = "cancelled"
	entry.progress.UpdatedAt = time.Now()
	tm.mu.Unlock()

	tm.emit(id, "")
	return nil
}

// GetTask returns a copy of the task's current progress.
func (tm *TaskManager) GetTask(id uint64) (*TaskProgress, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	entry, ok := tm.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %d", id)
	}
	p := entry.progress
	return &p, nil
}

// ListTasks returns every known task, newest first.
func (tm *TaskManager) ListTasks() []*TaskProgress {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	list := make([]*TaskProgress, 0, len(tm.tasks))
	for _, e := range tm.tasks {
		p := e.progress
		list = append(list, &p)
	}
	for i := 0; i < len(list)-1; i++ {
		for j := i + 1; j < len(list); j++ {
			if list[j].CreatedAt.After(list[i].CreatedAt) {
				list[i], list[j] = list[j], list[i]
			}
		}
	}
	return list
}

// EmitLogLine streams a log line alongside the task's current snapshot,
// bypassing throttling since log lines are explicit, infrequent events.
func (tm *TaskManager) EmitLogLine(id uint64, line string) {
	tm.mu.Lock()
	_, ok := tm.tasks[id]
	tm.mu.Unlock()
	if !ok {
		return
	}
	tm.emit(id, line)
}

func (tm *TaskManager) emit(id uint64, logLine string) {
	tm.mu.Lock()
	entry, ok := tm.tasks[id]
	if !ok {
		tm.mu.Unlock()
		return
	}
	snapshot := entry.progress
	emitter := tm.emitter
	tm.mu.Unlock()

	if emitter == nil {
		return
	}
	emitter.EmitJobUpdate(TaskUpdateEvent{TaskProgress: snapshot, LogLine: logLine})
}
