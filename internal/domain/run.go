package domain

import (
	"encoding/json"
	"time"
)

// RunStatus is how a grading run ended.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunOutcome summarizes a finished run for recorders.
type RunOutcome struct {
	RunID      string
	JobID      string
	Status     RunStatus
	Error      string
	Preview    bool
	TotalMs    int64
	PhaseTimes PhaseTimes
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunRecord is the persisted timing record of one grading run.
type RunRecord struct {
	ID         string    `gorm:"type:text;primaryKey" json:"id"`
	JobID      string    `gorm:"type:text;index" json:"job_id,omitempty"`
	Status     RunStatus `gorm:"type:text;not null;index" json:"status"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Preview    bool      `gorm:"default:false" json:"preview"`
	TotalMs    int64     `gorm:"default:0" json:"total_ms"`
	PhaseTimes string    `gorm:"type:text" json:"-"`
	StartedAt  time.Time `gorm:"index" json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name for RunRecord.
func (RunRecord) TableName() string {
	return "grading_runs"
}

// NewRunRecord converts an outcome into its persisted form.
func NewRunRecord(o RunOutcome) (*RunRecord, error) {
	phases, err := json.Marshal(o.PhaseTimes)
	if err != nil {
		return nil, err
	}
	return &RunRecord{
		ID:         o.RunID,
		JobID:      o.JobID,
		Status:     o.Status,
		Error:      o.Error,
		Preview:    o.Preview,
		TotalMs:    o.TotalMs,
		PhaseTimes: string(phases),
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}, nil
}

// Phases decodes the stored phase timings.
func (r *RunRecord) Phases() (PhaseTimes, error) {
	if r.PhaseTimes == "" {
		return PhaseTimes{}, nil
	}
	var out PhaseTimes
	if err := json.Unmarshal([]byte(r.PhaseTimes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalJSON includes the decoded phase timings as an ordered object.
func (r RunRecord) MarshalJSON() ([]byte, error) {
	type alias RunRecord
	phases, err := r.Phases()
	if err != nil {
		phases = PhaseTimes{}
	}
	return json.Marshal(struct {
		alias
		PhaseTimes PhaseTimes `json:"phase_times"`
	}{alias: alias(r), PhaseTimes: phases})
}
