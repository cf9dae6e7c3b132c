// Package report persists a diagnostic record of each bootstrap run to the
// workspace volume. It is write-only from the pipeline's perspective:
// idempotency always derives from inspecting the repositories themselves,
// never from this file.
package report

import (
	"path/filepath"
	"time"

	"github.com/opsforge/agentprep/internal/fsutil"
	"github.com/opsforge/agentprep/internal/provision"
)

// Status is the overall outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StageResult records one pipeline stage.
type StageResult struct {
	Name     string        `json:"name"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Run is the persisted record of one bootstrap invocation.
type Run struct {
	RunID           string            `json:"run_id"`
	TaskID          string            `json:"task_id"`
	Status          Status            `json:"status"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Stages          []StageResult     `json:"stages"`
	Branch          string            `json:"branch,omitempty"`
	ConflictedFiles []string          `json:"conflicted_files,omitempty"`
	Provisioning    *provision.Report `json:"provisioning,omitempty"`
	MissingPaths    []string          `json:"missing_paths,omitempty"`
}

// NewRun starts a record for a task.
func NewRun(runID, taskID string) *Run {
	return &Run{
		RunID:     runID,
		TaskID:    taskID,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// RecordStage appends a stage outcome.
func (r *Run) RecordStage(name string, started time.Time, err error) {
	stage := StageResult{Name: name, Duration: time.Since(started)}
	if err != nil {
		stage.Error = err.Error()
	}
	r.Stages = append(r.Stages, stage)
}

// MarkCompleted finalizes the record as successful.
func (r *Run) MarkCompleted() {
	r.Status = StatusCompleted
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// MarkFailed finalizes the record as failed.
func (r *Run) MarkFailed() {
	r.Status = StatusFailed
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// Save writes the record under <workspace>/state, both per-run and as
// latest.json, using atomic writes so a crash never leaves a torn file.
func (r *Run) Save(workspaceDir string) error {
	stateDir := filepath.Join(workspaceDir, "state")
	if err := fsutil.AtomicWriteJSON(filepath.Join(stateDir, "bootstrap-"+r.RunID+".json"), r); err != nil {
		return err
	}
	return fsutil.AtomicWriteJSON(filepath.Join(stateDir, "latest.json"), r)
}
