// Package media defines core types shared across subsystems.
package media

import (
	"time"
)

// GateSteps is the number of proof-steps a gated user must confirm.
const GateSteps = 3

// AuthContext is the opaque credential bundle handed to the media engine.
// The core never inspects its contents.
type AuthContext struct {
	CookieFile string
}

// Empty reports whether no credentials are attached.
func (a AuthContext) Empty() bool {
	return a.CookieFile == ""
}

// Format describes one encoding offered for a resource.
type Format struct {
	ID        string `json:"id"`
	Ext       string `json:"ext"`
	SizeBytes int64  `json:"size_bytes"`
}

// Metadata is the download-free view of a resource produced by the prober.
type Metadata struct {
	Title              string   `json:"title"`
	EstimatedSizeBytes int64    `json:"estimated_size_bytes"`
	Formats            []Format `json:"formats"`
}

// UserEntitlement is the persisted per-user admission record.
type UserEntitlement struct {
	UserID       string          `json:"user_id"`
	AdminGranted bool            `json:"admin_granted"`
	GateSteps    [GateSteps]bool `json:"gate_steps"`
}

// Progress returns how many proof-steps are recorded.
func (e UserEntitlement) Progress() int {
	count := 0
	for _, done := range e.GateSteps {
		if done {
			count++
		}
	}
	return count
}

// GateComplete reports whether all proof-steps are recorded.
func (e UserEntitlement) GateComplete() bool {
	return e.Progress() == GateSteps
}

// Tier is the admission bucket a request fell into.
type Tier string

// Admission tiers.
const (
	TierNone    Tier = ""
	TierFree    Tier = "free"
	TierAdmin   Tier = "admin"
	TierGate    Tier = "gate"
	TierUnknown Tier = "unknown"
)

// State is the admission state of a FetchRequest.
type State string

// Admission states.
const (
	StateReceived    State = "received"
	StateSized       State = "sized"
	StateAdmitted    State = "admitted"
	StateGatePending State = "gate_pending"
	StateRejected    State = "rejected"
)

// FetchRequest is a single admission attempt.
type FetchRequest struct {
	URL                string
	RequesterID        string
	ChatID             string
	Title              string
	EstimatedSizeBytes int64
	Auth               AuthContext
	Tier               Tier
	State              State
}

// SizeKnown reports whether the probe produced a size estimate.
func (r FetchRequest) SizeKnown() bool {
	return r.EstimatedSizeBytes > 0
}

// FetchJob is the unit of serialized work handed to the worker.
type FetchJob struct {
	ID          string
	URL         string
	RequesterID string
	ChatID      string
	Title       string
	Auth        AuthContext
	Submitted   time.Time
}

// Artifact is a fetched file on disk.
type Artifact struct {
	Path      string
	SizeBytes int64
	OwningJob string
}

// JobStatus is the terminal state of a fetch job.
type JobStatus string

// Job status values.
const (
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Outcome is the terminal result of a fetch job.
type Outcome struct {
	JobID    string
	Status   JobStatus
	Artifact Artifact
	Err      error
	Finished time.Time
}

// InboundMessage is a text message received from the messaging collaborator.
type InboundMessage struct {
	RequesterID string
	ChatID      string
	Text        string
}

// ActionKind identifies a gate prompt button.
type ActionKind string

// Gate actions.
const (
	ActionStep   ActionKind = "step"
	ActionVerify ActionKind = "verify"
)

// InboundAction is a gate confirmation received from the messaging collaborator.
type InboundAction struct {
	RequesterID string
	ChatID      string
	CallbackID  string
	Kind        ActionKind
	Step        int
	Token       string
}

// GateStep is one social-proof step shown to a gated user.
type GateStep struct {
	Label string `mapstructure:"label"`
	URL   string `mapstructure:"url"`
}

// GatePrompt is the structured prompt sent when a request is gated.
type GatePrompt struct {
	Text  string
	Token string
	Steps []GateStep
}
