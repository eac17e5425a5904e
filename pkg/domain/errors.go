package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrContractViolation matches capabilities that fail admission because of their shape.
	ErrContractViolation = errors.New("capability contract violation")
	// ErrConfiguration matches invalid configuration supplied at admission time.
	ErrConfiguration = errors.New("invalid capability configuration")
	// ErrStructure matches graph mutations that would violate tree invariants.
	ErrStructure = errors.New("invalid tree structure")
	// ErrInputValidation matches missing or malformed tool inputs.
	ErrInputValidation = errors.New("invalid tool inputs")
	// ErrNoToolAvailable matches runs that cannot make forward progress.
	ErrNoToolAvailable = errors.New("no tool available")
	// ErrMaxStepsExceeded matches runs stopped by the step guard.
	ErrMaxStepsExceeded = errors.New("maximum steps exceeded")
	// ErrPredictor matches hard failures of the decision predictor.
	ErrPredictor = errors.New("predictor failure")
	// ErrRunNotFound is returned when a stored run cannot be found.
	ErrRunNotFound = errors.New("run not found")
)

// ContractViolationError reports a capability that does not satisfy the calling contract.
type ContractViolationError struct {
	Tool   string
	Reason string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("tool %q violates the capability contract: %s", e.Tool, e.Reason)
}

func (e *ContractViolationError) Unwrap() error { return ErrContractViolation }

// TypeError reports that the violation concerns the capability's type shape.
// Callers that distinguish type errors from other admission failures check this.
func (e *ContractViolationError) TypeError() bool { return true }

// ConfigurationError reports invalid configuration supplied when admitting a tool.
type ConfigurationError struct {
	Tool string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tool %q: invalid configuration: %v", e.Tool, e.Err)
}

func (e *ConfigurationError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

// StructureError reports a rejected graph mutation.
type StructureError struct {
	Op     string
	NodeID string
	Reason string
}

func (e *StructureError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Op, e.NodeID, e.Reason)
}

func (e *StructureError) Unwrap() error { return ErrStructure }

// InputValidationError reports inputs that do not match a tool's input spec.
type InputValidationError struct {
	Tool   string
	Errors []error
}

func (e *InputValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("tool %q: invalid inputs: %s", e.Tool, strings.Join(msgs, "; "))
}

func (e *InputValidationError) Unwrap() error { return ErrInputValidation }

// NoToolAvailableError reports a node with nothing eligible to run.
type NoToolAvailableError struct {
	NodeID string
}

func (e *NoToolAvailableError) Error() string {
	return fmt.Sprintf("no tool available at node %q", e.NodeID)
}

func (e *NoToolAvailableError) Unwrap() error { return ErrNoToolAvailable }

// MaxStepsExceededError reports that the forward-progress guard stopped a run.
type MaxStepsExceededError struct {
	Limit int
}

func (e *MaxStepsExceededError) Error() string {
	return fmt.Sprintf("run exceeded the maximum of %d steps", e.Limit)
}

func (e *MaxStepsExceededError) Unwrap() error { return ErrMaxStepsExceeded }

// PredictorError wraps a hard failure of the decision predictor.
type PredictorError struct {
	NodeID string
	Err    error
}

func (e *PredictorError) Error() string {
	return fmt.Sprintf("predictor failed at node %q: %v", e.NodeID, e.Err)
}

func (e *PredictorError) Unwrap() []error { return []error{ErrPredictor, e.Err} }
