package jobs

import (
	"fmt"

	"chatflow_backend/platform/apperr"
)

// OutcomeKind discriminates the result of one execution.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeRetry
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unclassified"
	}
}

// Outcome is what an Executor returns: Success(value), Retry(reason) or Fatal(reason).
// The zero value is unclassified and is handled like Retry.
type Outcome struct {
	kind   OutcomeKind
	value  any
	reason string
	err    error
}

// Success wraps the value produced by a job.
func Success(value any) Outcome {
	return Outcome{kind: OutcomeSuccess, value: value}
}

// Retry reports a transient failure.
func Retry(reason string, err error) Outcome {
	return Outcome{kind: OutcomeRetry, reason: reason, err: err}
}

// Fatal reports a permanent failure.
func Fatal(reason string, err error) Outcome {
	return Outcome{kind: OutcomeFatal, reason: reason, err: err}
}

// Classify maps an error to an Outcome: nil succeeds, known permanent kinds are
// fatal and everything else, including errors of unknown type, is retried.
func Classify(err error) Outcome {
	if err == nil {
		return Success(nil)
	}
	if apperr.IsFatal(err) {
		return Fatal(err.Error(), err)
	}
	return Retry(err.Error(), err)
}

// FromResult builds an Outcome from the usual (value, error) pair.
func FromResult(value any, err error) Outcome {
	if err != nil {
		return Classify(err)
	}
	return Success(value)
}

func (o Outcome) Kind() OutcomeKind { return o.kind }
func (o Outcome) Value() any        { return o.value }
func (o Outcome) Err() error        { return o.err }

// Reason describes a failure, falling back to the wrapped error text.
func (o Outcome) Reason() string {
	if o.reason != "" {
		return o.reason
	}
	if o.err != nil {
		return o.err.Error()
	}
	if o.kind == 0 {
		return "executor returned no outcome"
	}
	return ""
}

func (o Outcome) String() string {
	if o.kind == OutcomeSuccess {
		return "success"
	}
	return fmt.Sprintf("%s: %s", o.kind, o.Reason())
}
