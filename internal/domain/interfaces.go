package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define the boundaries the hard core depends on.
// Infrastructure adapters implement them; the orchestrator and dispatcher
// depend only on the interface.

// ModelClient fronts the external learned-model service.
type ModelClient interface {
	// Infer classifies text, honoring deadline. Errors are one of
	// ErrNetwork, ErrTimeout, ErrDecode, ErrUnknownModel, or *ServiceError.
	Infer(ctx context.Context, text string, model string) (SentimentVerdict, error)
}

// ContentSource fetches RawItems from an external social-media source.
type ContentSource interface {
	// Fetch returns a finite, non-restartable sequence of RawItems for
	// params, invoking yield for each item in order. Fetch returns when
	// the sequence is exhausted, ctx is cancelled, or yield returns false
	// (caller wants no more items). A non-nil error indicates the
	// sequence ended early due to an upstream failure after retries.
	Fetch(ctx context.Context, params SourceParams, yield func(RawItem) bool) error
}

// ResultStore persists Classifications and Alerts with dedup and
// indexed analytics queries.
type ResultStore interface {
	StoreClassification(ctx context.Context, c Classification) (id string, inserted bool, err error)
	StoreAlert(ctx context.Context, a Alert) (id string, err error)
	UpdateAlertStatus(ctx context.Context, id string, status AlertStatus, note string) (bool, error)
	Summarize(ctx context.Context, window int64) (Summary, error)
	ListAlerts(ctx context.Context, status AlertStatus, limit, offset int) ([]Alert, error)
}
