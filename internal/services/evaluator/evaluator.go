// -----------------------------------------------------------------------
// Job Evaluator - accept/reject decision for a single board row
// -----------------------------------------------------------------------

package evaluator

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/atozbot/internal/models"
)

// Evaluator decides whether a job should be accepted. It performs no I/O;
// the logger only records unparseable appointment times.
type Evaluator struct {
	logger arbor.ILogger
	now    func() time.Time
}

// New creates an evaluator using the wall clock
func New(logger arbor.ILogger) *Evaluator {
	return &Evaluator{logger: logger, now: time.Now}
}

// WithClock returns a copy of the evaluator reading time from now
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	out := *e
	out.now = now
	return &out
}

// Evaluate applies the decision policy in order; the first failing gate wins:
//
//  1. category matches the accepted job type and is not an excluded type
//  2. status is open/matched
//  3. required fields are non-empty
//  4. language has a plausible length
//  5. duration, when present, parses within bounds
//  6. detail text mentions no excluded type
//  7. appointment, when parseable, is not in the past
func (e *Evaluator) Evaluate(job models.JobRecord, detailText string, c Criteria) models.Decision {
	if d, ok := e.checkCategory(job, detailText, c); !ok {
		return d
	}
	if d, ok := checkStatus(job, c); !ok {
		return d
	}
	if d, ok := checkRequired(job, c); !ok {
		return d
	}
	if d, ok := checkLanguage(job, c); !ok {
		return d
	}
	if d, ok := checkDuration(job, c); !ok {
		return d
	}
	if kw, found := firstMatch(normalize(detailText), c.ExcludedKeywords); found {
		return models.Reject(models.GateExcludedType, fmt.Sprintf("detail page mentions excluded type %q", kw))
	}
	if d, ok := e.checkAppointment(job, c); !ok {
		return d
	}
	return models.Accept()
}

// Precheck runs the row-only gates (1-5) so obviously ineligible jobs are
// rejected before any detail page navigation. needsDetail is true when the
// row carries no category and gate 1 must wait for the detail text.
func (e *Evaluator) Precheck(job models.JobRecord, c Criteria) (d models.Decision, needsDetail bool) {
	if strings.TrimSpace(job.JobType) == "" {
		needsDetail = true
	} else if d, ok := e.checkCategory(job, "", c); !ok {
		return d, false
	}
	if d, ok := checkStatus(job, c); !ok {
		return d, false
	}
	if d, ok := checkRequired(job, c); !ok {
		return d, false
	}
	if d, ok := checkLanguage(job, c); !ok {
		return d, false
	}
	if d, ok := checkDuration(job, c); !ok {
		return d, false
	}
	return models.Accept(), needsDetail
}

// IsAvailable reports whether the row's status shows the job can be taken
func IsAvailable(job models.JobRecord, c Criteria) bool {
	_, ok := firstMatch(normalize(job.StatusText), c.AvailableStatuses)
	return ok
}

func (e *Evaluator) checkCategory(job models.JobRecord, detailText string, c Criteria) (models.Decision, bool) {
	category := normalize(job.JobType)
	source := "category"
	if category == "" {
		category = normalize(detailText)
		source = "detail page"
	}
	if category == "" {
		return models.Reject(models.GateCategory, "missing required field: job_type"), false
	}
	if kw, found := firstMatch(category, c.ExcludedKeywords); found && source == "category" {
		return models.Reject(models.GateCategory, fmt.Sprintf("category %q is an excluded type (%s)", job.JobType, kw)), false
	}
	if _, found := firstMatch(category, c.AcceptedKeywords); !found {
		if source == "category" {
			return models.Reject(models.GateCategory, fmt.Sprintf("category %q does not match job type filter %q", job.JobType, c.JobTypeFilter)), false
		}
		return models.Reject(models.GateCategory, fmt.Sprintf("detail page does not match job type filter %q", c.JobTypeFilter)), false
	}
	return models.Decision{}, true
}

func checkStatus(job models.JobRecord, c Criteria) (models.Decision, bool) {
	if strings.TrimSpace(job.StatusText) == "" {
		return models.Reject(models.GateStatus, "missing required field: status"), false
	}
	if !IsAvailable(job, c) {
		return models.Reject(models.GateStatus, fmt.Sprintf("status %q is not open", job.StatusText)), false
	}
	return models.Decision{}, true
}

func checkRequired(job models.JobRecord, c Criteria) (models.Decision, bool) {
	for _, field := range c.RequiredFields {
		if strings.TrimSpace(job.Field(field)) == "" {
			return models.Reject(models.GateRequiredField, "missing required field: "+field), false
		}
	}
	return models.Decision{}, true
}

func checkLanguage(job models.JobRecord, c Criteria) (models.Decision, bool) {
	language := strings.TrimSpace(job.Language)
	if language == "" {
		return models.Reject(models.GateLanguage, "missing required field: language"), false
	}
	n := utf8.RuneCountInString(language)
	if n < c.MinLanguageLen || n > c.MaxLanguageLen {
		return models.Reject(models.GateLanguage, fmt.Sprintf("language %q has implausible length %d", truncate(language, 60), n)), false
	}
	return models.Decision{}, true
}

func checkDuration(job models.JobRecord, c Criteria) (models.Decision, bool) {
	raw := strings.TrimSpace(job.Duration)
	if raw == "" {
		return models.Decision{}, true
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return models.Reject(models.GateDuration, fmt.Sprintf("duration %q could not be parsed", raw)), false
	}
	if d < c.MinDuration || d > c.MaxDuration {
		return models.Reject(models.GateDuration, fmt.Sprintf("duration %s outside %s-%s", d, c.MinDuration, c.MaxDuration)), false
	}
	return models.Decision{}, true
}

// checkAppointment is a soft check: an unparseable appointment is logged and passes
func (e *Evaluator) checkAppointment(job models.JobRecord, c Criteria) (models.Decision, bool) {
	if job.ApptDate == "" && job.ApptTime == "" {
		return models.Decision{}, true
	}
	at, ok := ParseAppointment(job.ApptDate, job.ApptTime, c.Location)
	if !ok {
		if e.logger != nil {
			e.logger.Warn().
				Str("ref", job.Ref).
				Str("appt_date", job.ApptDate).
				Str("appt_time", job.ApptTime).
				Msg("Could not parse appointment time, continuing")
		}
		return models.Decision{}, true
	}
	if at.Before(e.now()) {
		return models.Reject(models.GateAppointmentPast, fmt.Sprintf("appointment %s %s is in the past", job.ApptDate, job.ApptTime)), false
	}
	return models.Decision{}, true
}

// Excluded reports whether d rejected the job as an excluded type, from the
// row category or the detail page
func Excluded(d models.Decision) bool {
	if d.IsAccept() {
		return false
	}
	return d.Gate == models.GateExcludedType ||
		(d.Gate == models.GateCategory && strings.Contains(d.Reason, "excluded type"))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
