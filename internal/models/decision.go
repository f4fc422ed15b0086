package models

// Verdict is the evaluator's accept/reject result
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
)

// Gate names the evaluation check that produced a rejection
type Gate string

const (
	GateCategory        Gate = "category"
	GateStatus          Gate = "status"
	GateRequiredField   Gate = "required_field"
	GateLanguage        Gate = "language"
	GateDuration        Gate = "duration"
	GateExcludedType    Gate = "excluded_type"
	GateAppointmentPast Gate = "appointment_past"
)

// Decision is the tagged result of evaluating a job. Reason and Gate are set
// only for rejections.
type Decision struct {
	Verdict Verdict `json:"verdict"`
	Gate    Gate    `json:"gate,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// Accept builds an accepting decision
func Accept() Decision {
	return Decision{Verdict: VerdictAccept}
}

// Reject builds a rejecting decision
func Reject(gate Gate, reason string) Decision {
	return Decision{Verdict: VerdictReject, Gate: gate, Reason: reason}
}

func (d Decision) IsAccept() bool {
	return d.Verdict == VerdictAccept
}
