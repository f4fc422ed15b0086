// -----------------------------------------------------------------------
// JobRecord - one board row, evaluated once per cycle
// -----------------------------------------------------------------------

package models

import (
	"strings"
	"time"
)

// JobOutcome is the recorded result of processing a board row
type JobOutcome string

const (
	JobOutcomeAccepted JobOutcome = "accepted"
	JobOutcomeRejected JobOutcome = "rejected"
	JobOutcomeSkipped  JobOutcome = "skipped"
)

// JobRecord is the value parsed from a board row. It is passed by value;
// outcome helpers return a modified copy.
type JobRecord struct {
	ID          int64      `json:"id,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	Ref         string     `json:"ref"`
	Submitted   string     `json:"submitted"`
	ApptDate    string     `json:"appt_date"`
	ApptTime    string     `json:"appt_time"`
	Duration    string     `json:"duration"`
	Language    string     `json:"language"`
	StatusText  string     `json:"status_text"`
	JobType     string     `json:"job_type"`
	DetailURL   string     `json:"detail_url"`
	Outcome     JobOutcome `json:"status,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ScrapedAt   time.Time  `json:"scraped_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Field looks a field up by its configured name. "status" is the board's
// status column; "category" is accepted as an alias of job_type.
func (j JobRecord) Field(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ref":
		return j.Ref
	case "submitted":
		return j.Submitted
	case "appt_date":
		return j.ApptDate
	case "appt_time":
		return j.ApptTime
	case "duration":
		return j.Duration
	case "language":
		return j.Language
	case "status", "status_text":
		return j.StatusText
	case "job_type", "category":
		return j.JobType
	case "detail_url":
		return j.DetailURL
	}
	return ""
}

// WithOutcome returns a copy of the record carrying the given outcome
func (j JobRecord) WithOutcome(outcome JobOutcome, reason string, at time.Time) JobRecord {
	j.Outcome = outcome
	j.Reason = reason
	processed := at
	j.ProcessedAt = &processed
	return j
}

// FromDecision maps an evaluator decision onto the record
func (j JobRecord) FromDecision(d Decision, at time.Time) JobRecord {
	if d.IsAccept() {
		return j.WithOutcome(JobOutcomeAccepted, "", at)
	}
	return j.WithOutcome(JobOutcomeRejected, d.Reason, at)
}
