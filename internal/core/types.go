// Package core provides the framework-agnostic business logic and types for
// sidedock. This package must NOT import any adapter-specific code (Wails,
// HTTP frameworks). It must be fully testable without a UI.
package core

import (
	"sync"
	"time"
)

// TaskKind identifies the shape of a requested operation.
type TaskKind string

const (
	TaskDownload        TaskKind = "download"
	TaskDownloadInstall TaskKind = "download_install"
	TaskInstallApk      TaskKind = "install_apk"
	TaskInstallLocalApp TaskKind = "install_local_app"
	TaskUninstall       TaskKind = "uninstall"
	TaskBackupApp       TaskKind = "backup_app"
	TaskRestoreBackup   TaskKind = "restore_backup"
	TaskDonateApp       TaskKind = "donate_app"
)

// stepsForKind is the step-count table from the task scheduler design: each
// task variant decomposes into a fixed number of sequential steps that
// share progress space evenly.
var stepsForKind = map[TaskKind]int{
	TaskDownload:        1,
	TaskDownloadInstall: 2,
	TaskInstallApk:      1,
	TaskInstallLocalApp: 1,
	TaskUninstall:       1,
	TaskBackupApp:       1,
	TaskRestoreBackup:   1,
	TaskDonateApp:       3,
}

// TotalSteps returns the number of steps a task of this kind is composed of.
// Unknown kinds default to a single step.
func (k TaskKind) TotalSteps() int {
	if n, ok := stepsForKind[k]; ok {
		return n
	}
	return 1
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskWaiting   TaskStatus = "waiting"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskError carries the classified failure of a task.
type TaskError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// TaskProgress is the authoritative, UI-facing state of one task.
//
// Invariant: TotalProgress == (float64(CurrentStep-1) + clamp(StepProgress, 0, 1)) / float64(TotalSteps)
type TaskProgress struct {
	ID            uint64            `json:"id"`
	Kind          TaskKind          `json:"kind"`
	Name          string            `json:"name,omitempty"`
	Status        TaskStatus        `json:"status"`
	Params        map[string]string `json:"params,omitempty"`
	CurrentStep   int               `json:"currentStep"`
	TotalSteps    int               `json:"totalSteps"`
	StepProgress  *float64          `json:"stepProgress,omitempty"`
	TotalProgress float64           `json:"totalProgress"`
	Message       string            `json:"message"`
	Error         *TaskError        `json:"error,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// TaskUpdateEvent is the event shape broadcast to every registered emitter
// whenever a task's state changes, including an optional streamed log line.
type TaskUpdateEvent struct {
	TaskProgress
	LogLine string `json:"logLine,omitempty"`
}

// JobEventEmitter is implemented by adapters (Wails runtime, SSE clients)
// that want to receive task events. The task manager is agnostic about how
// events are actually delivered.
type JobEventEmitter interface {
	EmitJobUpdate(event TaskUpdateEvent)
}

// MultiEmitter broadcasts every event to a set of emitters, letting the
// Wails frontend and any number of SSE clients observe the same task stream.
type MultiEmitter struct {
	mu       sync.Mutex
	emitters []JobEventEmitter
}

func (m *MultiEmitter) Add(emitter JobEventEmitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitters = append(m.emitters, emitter)
}

func (m *MultiEmitter) EmitJobUpdate(event TaskUpdateEvent) {
	m.mu.Lock()
	emitters := make([]JobEventEmitter, len(m.emitters))
	copy(emitters, m.emitters)
	m.mu.Unlock()

	for _, e := range emitters {
		if e != nil {
			e.EmitJobUpdate(event)
		}
	}
}

// ThrottleConfig controls how often progress updates are emitted while a
// task is running. The external collaborator only needs to repaint at
// human-visible frequency.
type ThrottleConfig struct {
	MinInterval time.Duration
}

// DefaultThrottleConfig matches the ">= 200ms between UI emissions"
// requirement for the consumer loop.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{MinInterval: 200 * time.Millisecond}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func computeTotalProgress(currentStep, totalSteps int, stepProgress float64) float64 {
	if totalSteps <= 0 {
		totalSteps = 1
	}
	return (float64(currentStep-1) + clamp01(stepProgress)) / float64(totalSteps)
}
