package model

import "time"

// Stage names a pipeline stage with its own run record.
type Stage string

const (
	StageDedup    Stage = "dedup"
	StageAlign    Stage = "align"
	StageTune     Stage = "tune"
	StageValidate Stage = "validate"
)

// RunStatus represents the current state of a stage run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run represents a single invocation of a pipeline stage.
type Run struct {
	ID        string     `json:"id"`
	Stage     Stage      `json:"stage"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	InputSpans    int                `json:"input_spans,omitempty"`
	OutputSpans   int                `json:"output_spans,omitempty"`
	Conflicts     int                `json:"conflicts,omitempty"`
	Strategies    []StrategyResult   `json:"strategies,omitempty"`
	Skips         map[SkipReason]int `json:"skips,omitempty"`
	Phases        []PhaseResult      `json:"phases"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	TotalDuration int64              `json:"total_duration_ms"`
}

// StrategyResult summarizes the alignment of canonical spans to one chunking
// strategy.
type StrategyResult struct {
	Strategy   string `json:"strategy"`
	Manifest   string `json:"manifest"`
	Chunks     int    `json:"chunks"`
	Alignments int    `json:"alignments"`
	Pairs      int    `json:"pairs"`
	QrelsPath  string `json:"qrels_path,omitempty"`
	Skipped    int    `json:"skipped"`
	Error      string `json:"error,omitempty"`
}

// RunPhase records a single phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
