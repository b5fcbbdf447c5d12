package api

import (
	"fmt"
	"strings"
)

// ConfigValidationError reports a malformed topology. Raised before any
// fabric or process exists.
type ConfigValidationError struct {
	Reason string
	Nodes  []string // offending node ids, if any
}

func (e *ConfigValidationError) Error() string {
	if len(e.Nodes) == 0 {
		return "invalid topology: " + e.Reason
	}
	return fmt.Sprintf("invalid topology: %s: %s", e.Reason, strings.Join(e.Nodes, ", "))
}

// PreconditionError reports an environment that cannot run the experiment.
type PreconditionError struct {
	Reason string
	Names  []string // offending names, e.g. congestion control algorithms
	Err    error
}

func (e *PreconditionError) Error() string {
	msg := "precondition failed: " + e.Reason
	if len(e.Names) > 0 {
		msg += ": " + strings.Join(e.Names, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// RuntimeExecutionError aborts one repetition. It carries enough context to
// find the logs of the failing run.
type RuntimeExecutionError struct {
	OutputFolder string
	Repetition   int
	Node         string
	Reason       string
	Err          error
}

func (e *RuntimeExecutionError) Error() string {
	msg := fmt.Sprintf("repetition %d in %s", e.Repetition, e.OutputFolder)
	if e.Node != "" {
		msg += " on " + e.Node
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeExecutionError) Unwrap() error {
	return e.Err
}
