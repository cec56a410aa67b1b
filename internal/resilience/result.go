package resilience

import "time"

// Status is the outcome of an operation executed through a Handler.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusPartialSuccess Status = "PARTIAL_SUCCESS"
	StatusFailure        Status = "FAILURE"
	StatusRetrying       Status = "RETRYING"
	StatusCircuitOpen    Status = "CIRCUIT_OPEN"
)

// Terminal reports whether no further attempts follow this status.
func (s Status) Terminal() bool {
	return s != StatusRetrying
}

// ErrorDetail is one recorded failure.
type ErrorDetail struct {
	Kind      Kind           `json:"error_kind"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

// NewErrorDetail classifies err and returns its detail record.
func NewErrorDetail(err error, now time.Time, ctx map[string]any) ErrorDetail {
	kind := KindOf(err)
	return ErrorDetail{
		Kind:      kind,
		Message:   err.Error(),
		Severity:  SeverityOf(kind),
		Timestamp: now,
		Context:   ctx,
	}
}

// Result is the structured outcome of an operation. Callers never see bare
// errors from a Handler; they inspect Success, Status and Errors.
type Result struct {
	Status        Status         `json:"status"`
	Success       bool           `json:"success"`
	Data          any            `json:"data,omitempty"`
	Errors        []ErrorDetail  `json:"errors,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	RetryCount    int            `json:"retry_count"`
}

// AddError appends d. A CRITICAL detail forces Success to false and moves the
// result to a terminal status.
func (r *Result) AddError(d ErrorDetail) {
	r.Errors = append(r.Errors, d)
	if d.Severity == SeverityCritical {
		r.Success = false
		switch r.Status {
		case "", StatusSuccess, StatusRetrying:
			r.Status = StatusFailure
		}
	}
}

// AddWarning appends a warning message.
func (r *Result) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// HasCritical reports whether any recorded error is CRITICAL.
func (r *Result) HasCritical() bool {
	for _, e := range r.Errors {
		if e.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// LastError returns the most recent error detail, if any.
func (r *Result) LastError() (ErrorDetail, bool) {
	if len(r.Errors) == 0 {
		return ErrorDetail{}, false
	}
	return r.Errors[len(r.Errors)-1], true
}

// Succeeded builds a SUCCESS result carrying data.
func Succeeded(data any) *Result {
	return &Result{Status: StatusSuccess, Success: true, Data: data}
}

// Failed builds a FAILURE result from err.
func Failed(err error, ctx map[string]any) *Result {
	r := &Result{Status: StatusFailure}
	r.AddError(NewErrorDetail(err, time.Now(), ctx))
	return r
}
