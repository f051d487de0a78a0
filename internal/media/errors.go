package media

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	ErrUnauthorized    = errors.New("not authorized")
	ErrUnknownToken    = errors.New("unknown or expired request token")
	ErrInvalidStep     = errors.New("invalid gate step")
	ErrQueueClosed     = errors.New("queue closed")
	ErrArtifactMissing = errors.New("artifact missing")
)

// ValidationError reports inbound text that does not carry an acceptable URL.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// ProbeErrorKind classifies probe failures.
type ProbeErrorKind string

// Probe error kinds.
const (
	ProbeAuthRequired ProbeErrorKind = "auth_required"
	ProbeUnavailable  ProbeErrorKind = "unavailable"
	ProbeForbidden    ProbeErrorKind = "forbidden"
	ProbeUnknown      ProbeErrorKind = "unknown"
)

// ProbeError reports a failed metadata inspection.
type ProbeError struct {
	Kind    ProbeErrorKind
	Message string
	Err     error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %s", e.Kind, e.Message)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// FetchError reports a failed retrieval.
type FetchError struct {
	JobID string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch job %s: %v", e.JobID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a failed hand-off to the delivery collaborator.
type DeliveryError struct {
	Path string
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Path, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// StorageError reports an entitlement store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("entitlement store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ValidateStep rejects proof-step numbers outside 1..GateSteps.
func ValidateStep(step int) error {
	if step < 1 || step > GateSteps {
		return fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	return nil
}
