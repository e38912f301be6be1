package snapshot

import (
	"context"
	"io"
	"time"
)

// Launcher starts a browser session.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is a single browser page.
type Session interface {
	// Navigate performs one navigation attempt and returns once the configured
	// readiness event fired or the attempt failed.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs script in the document and decodes its value into out.
	Evaluate(ctx context.Context, script string, out any) error
	// Close shuts the browser down.
	Close() error
}

// BlobStore writes the record and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Clock provides time and interruptible waits (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Notifier announces a persisted run.
type Notifier interface {
	Notify(ctx context.Context, outcome Outcome) error
}
