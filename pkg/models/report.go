package models

import "time"

// SourceCycleStats summarizes one source's contribution to a reconciliation
// cycle.
type SourceCycleStats struct {
	Polled            int `json:"polled"`
	Created           int `json:"created"`
	Updated           int `json:"updated"`
	Failed            int `json:"failed"`
	DuplicatesFlagged int `json:"duplicates_flagged"`
}

// CycleError records one contained failure within a cycle.
type CycleError struct {
	SourceCode string `json:"source_code,omitempty"`
	Message    string `json:"message"`
}

// ReconciliationReport is the per-cycle summary handed to the event
// collaborator. It is produced exactly once per orchestrator run and never
// persisted by the core.
type ReconciliationReport struct {
	StartedAt    time.Time                    `json:"started_at"`
	Duration     time.Duration                `json:"duration"`
	Sources      map[string]*SourceCycleStats `json:"sources"`
	StaleOffline int                          `json:"stale_offline"`
	Errors       []CycleError                 `json:"errors,omitempty"`
}

// NewReconciliationReport returns an empty report stamped with the cycle
// start time.
func NewReconciliationReport(startedAt time.Time) *ReconciliationReport {
	return &ReconciliationReport{
		StartedAt: startedAt,
		Sources:   make(map[string]*SourceCycleStats),
	}
}

// SourceStats returns the stats entry for code, creating it on first use.
func (r *ReconciliationReport) SourceStats(code string) *SourceCycleStats {
	stats, ok := r.Sources[code]
	if !ok {
		stats = &SourceCycleStats{}
		r.Sources[code] = stats
	}

	return stats
}

// AddError appends a contained per-source failure to the report.
func (r *ReconciliationReport) AddError(sourceCode string, err error) {
	if err == nil {
		return
	}

	r.Errors = append(r.Errors, CycleError{SourceCode: sourceCode, Message: err.Error()})
}
