package media

import (
	"context"
	"time"
)

// Extractor is the download-free side of the media engine. It returns the
// engine's raw, loosely-typed description of a URL.
type Extractor interface {
	Extract(ctx context.Context, url string, auth AuthContext) (map[string]any, error)
}

// Fetcher performs the actual retrieval and leaves an artifact on disk.
type Fetcher interface {
	Fetch(ctx context.Context, job FetchJob) (Artifact, error)
}

// Messenger sends replies through the messaging collaborator.
type Messenger interface {
	SendText(ctx context.Context, chatID string, text string) error
	SendFile(ctx context.Context, chatID string, path string, caption string) error
	SendGatePrompt(ctx context.Context, chatID string, prompt GatePrompt) error
}

// EntitlementStore persists per-user admission records. Every mutation is
// atomic per user and returns the record as stored afterwards.
type EntitlementStore interface {
	Get(ctx context.Context, userID string) (UserEntitlement, error)
	SetAdminGranted(ctx context.Context, userID string, granted bool) (UserEntitlement, error)
	SetGateStep(ctx context.Context, userID string, step int, done bool) (UserEntitlement, error)
	ResetGate(ctx context.Context, userID string) (UserEntitlement, error)
}

// AuthProvider supplies the credential bundle used for probes and fetches.
type AuthProvider interface {
	AuthContext(ctx context.Context) AuthContext
}

// Queue provides FIFO enqueue/dequeue semantics for fetch jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes job outcome events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs and correlation tokens (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run together with its completion handle.
type QueueItem struct {
	Job    FetchJob
	Ticket *Ticket
}
