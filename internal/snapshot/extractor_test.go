package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/pagesnap/internal/hash/sha256"
	"github.com/JakeFAU/pagesnap/internal/storage/memory"
)

const targetURL = "https://example.com/start"

func examplePage() rawPage {
	return rawPage{
		URL:             "https://example.com/landing",
		Title:           "Example Domain",
		Heading:         strPtr("Example Domain"),
		MetaDescription: strPtr("An example page"),
		Links: []rawLink{
			{Text: " More information... ", Href: "https://www.iana.org/domains/example"},
		},
	}
}

func newTestExtractor(t *testing.T, launcher Launcher, store BlobStore, clock Clock, opts ...Option) *Extractor {
	t.Helper()
	e, err := New(Config{TargetURL: targetURL, Retry: DefaultRetryConfig(), Settle: DefaultSettleConfig()},
		launcher, store, clock, nil, opts...)
	require.NoError(t, err)
	return e
}

func readRecord(t *testing.T, store *memory.BlobStore) map[string]any {
	t.Helper()
	b, err := store.GetObject(context.Background(), DefaultObjectPath)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(b, &rec))
	return rec
}

func TestNewValidation(t *testing.T) {
	launcher := &fakeLauncher{}
	store := memory.NewBlobStore()
	clock := newFakeClock()

	tests := []struct {
		name     string
		cfg      Config
		launcher Launcher
		store    BlobStore
		clock    Clock
	}{
		{"missing url", Config{}, launcher, store, clock},
		{"missing launcher", Config{TargetURL: targetURL}, nil, store, clock},
		{"missing store", Config{TargetURL: targetURL}, launcher, nil, clock},
		{"missing clock", Config{TargetURL: targetURL}, launcher, store, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.launcher, tt.store, tt.clock, nil)
			assert.Error(t, err)
		})
	}

	e, err := New(Config{TargetURL: targetURL}, launcher, store, clock, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultObjectPath, e.cfg.ObjectPath)
	assert.Equal(t, 3, e.cfg.Retry.MaxAttempts)
	assert.Equal(t, SettleFixed, e.cfg.Settle.Strategy)
}

func TestRunWritesSuccessRecord(t *testing.T) {
	store := memory.NewBlobStore()
	clock := newFakeClock()
	session := &fakeSession{page: examplePage()}
	// The record must already be persisted when the browser is closed.
	var writesAtClose int
	session.onClose = func() { writesAtClose = store.Writes() }

	e := newTestExtractor(t, &fakeLauncher{session: session}, store, clock)
	require.NoError(t, e.Run(context.Background()))

	rec := readRecord(t, store)
	assert.Equal(t, "https://example.com/landing", rec["url"], "success record carries the final URL")
	assert.Equal(t, "Example Domain", rec["title"])
	assert.Equal(t, "Example Domain", rec["heading"])
	assert.Equal(t, "An example page", rec["metaDescription"])
	assert.Equal(t, "2024-01-02T03:04:08.678Z", rec["timestamp"])
	assert.Equal(t, []any{
		map[string]any{"text": "More information...", "href": "https://www.iana.org/domains/example"},
	}, rec["links"])
	assert.NotContains(t, rec, "error")

	assert.Equal(t, []string{targetURL}, session.navURLs)
	assert.Equal(t, []time.Duration{3 * time.Second}, clock.Sleeps())
	assert.Equal(t, 1, session.Closed())
	assert.Equal(t, 1, writesAtClose)
	assert.Equal(t, []string{"navigate", "extract", "close"}, session.events)
	assert.Equal(t, contentTypeJSON, store.ContentType(DefaultObjectPath))
}

func TestRunRecordFieldOrder(t *testing.T) {
	store := memory.NewBlobStore()
	e := newTestExtractor(t, &fakeLauncher{session: &fakeSession{page: examplePage()}}, store, newFakeClock())
	require.NoError(t, e.Run(context.Background()))

	b, err := store.GetObject(context.Background(), DefaultObjectPath)
	require.NoError(t, err)
	body := string(b)
	keys := []string{`"url"`, `"title"`, `"heading"`, `"metaDescription"`, `"links"`, `"timestamp"`}
	last := -1
	for _, k := range keys {
		idx := strings.Index(body, k)
		require.Greater(t, idx, last, "key %s out of order in %s", k, body)
		last = idx
	}
	assert.True(t, strings.HasPrefix(body, "{\n  \"url\""))
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	store := memory.NewBlobStore()
	clock := newFakeClock()
	session := &fakeSession{
		page: examplePage(),
		navErrs: []error{
			errors.New("net::ERR_CONNECTION_RESET"),
			errors.New("net::ERR_CONNECTION_RESET"),
		},
	}

	e := newTestExtractor(t, &fakeLauncher{session: session}, store, clock)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 3, session.NavigateCalls())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 3 * time.Second}, clock.Sleeps())
	assert.Equal(t, "Example Domain", readRecord(t, store)["title"])
}

func TestRunWritesErrorRecordAfterExhaustedRetries(t *testing.T) {
	store := memory.NewBlobStore()
	clock := newFakeClock()
	navErr := errors.New("net::ERR_NAME_NOT_RESOLVED at https://example.com/start")
	session := &fakeSession{navErrs: []error{navErr, navErr, navErr, navErr}}
	notifier := &recordingNotifier{}

	e := newTestExtractor(t, &fakeLauncher{session: session}, store, clock,
		WithNotifier(notifier), WithRunID("run-42"))
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 3, session.NavigateCalls())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.Sleeps())
	assert.Equal(t, 1, session.Closed())
	assert.NotContains(t, session.events, "extract")

	rec := readRecord(t, store)
	assert.Equal(t, true, rec["error"])
	assert.Equal(t, targetURL, rec["url"])
	assert.Contains(t, rec["message"], "net::ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, "2024-01-02T03:04:09.678Z", rec["timestamp"])
	assert.Len(t, rec, 4)

	require.Len(t, notifier.outcomes, 1)
	got := notifier.outcomes[0]
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "run-42", got.RunID)
	assert.Equal(t, "memory://"+DefaultObjectPath, got.URI)
	assert.Contains(t, got.Message, "navigation failed after 3 attempts")
}

func TestRunLaunchFailureSkipsTeardown(t *testing.T) {
	store := memory.NewBlobStore()
	launcher := &fakeLauncher{err: errors.New("exec: \"/usr/bin/chromium\": no such file")}

	e := newTestExtractor(t, launcher, store, newFakeClock())
	require.NoError(t, e.Run(context.Background()))

	rec := readRecord(t, store)
	assert.Equal(t, true, rec["error"])
	assert.Equal(t, targetURL, rec["url"])
	assert.Contains(t, rec["message"], "launch browser")
	assert.Contains(t, rec["message"], "no such file")
	assert.Equal(t, 1, launcher.calls)
}

func TestRunExtractionFailure(t *testing.T) {
	store := memory.NewBlobStore()
	session := &fakeSession{evalErr: errors.New("Execution context was destroyed")}

	e := newTestExtractor(t, &fakeLauncher{session: session}, store, newFakeClock())
	require.NoError(t, e.Run(context.Background()))

	rec := readRecord(t, store)
	assert.Equal(t, true, rec["error"])
	assert.Contains(t, rec["message"], "Execution context was destroyed")
	assert.Equal(t, 1, session.Closed())
}

func TestRunPersistFailureStillCloses(t *testing.T) {
	session := &fakeSession{page: examplePage()}
	diskFull := errors.New("no space left on device")

	e := newTestExtractor(t, &fakeLauncher{session: session}, failingStore{err: diskFull}, newFakeClock())
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, 1, session.Closed())
}

func TestRunCloseErrorDoesNotFailRun(t *testing.T) {
	store := memory.NewBlobStore()
	session := &fakeSession{page: examplePage(), closeErr: errors.New("browser already gone")}

	e := newTestExtractor(t, &fakeLauncher{session: session}, store, newFakeClock())
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, "Example Domain", readRecord(t, store)["title"])
}

func TestRunCanceledDuringRetryStillWritesRecord(t *testing.T) {
	store := memory.NewBlobStore()
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock.onSleep = func(time.Duration) { cancel() }
	session := &fakeSession{navErrs: []error{errors.New("timeout"), errors.New("timeout")}}

	e := newTestExtractor(t, &fakeLauncher{session: session}, store, clock)
	require.NoError(t, e.Run(ctx))

	assert.Equal(t, 1, session.NavigateCalls())
	rec := readRecord(t, store)
	assert.Equal(t, true, rec["error"])
	assert.Contains(t, rec["message"], context.Canceled.Error())
	assert.Equal(t, 1, session.Closed())
}

func TestRunOverwritesPreviousRecord(t *testing.T) {
	store := memory.NewBlobStore()

	failing := &fakeSession{navErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	e := newTestExtractor(t, &fakeLauncher{session: failing}, store, newFakeClock())
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, true, readRecord(t, store)["error"])

	ok := &fakeSession{page: examplePage()}
	e = newTestExtractor(t, &fakeLauncher{session: ok}, store, newFakeClock())
	require.NoError(t, e.Run(context.Background()))

	rec := readRecord(t, store)
	assert.NotContains(t, rec, "error")
	assert.Equal(t, "Example Domain", rec["title"])
	assert.Equal(t, 2, store.Writes())
}

func TestRunNotifierFailureIgnored(t *testing.T) {
	store := memory.NewBlobStore()
	notifier := &recordingNotifier{err: errors.New("pubsub unavailable")}

	e := newTestExtractor(t, &fakeLauncher{session: &fakeSession{page: examplePage()}}, store, newFakeClock(),
		WithNotifier(notifier))
	require.NoError(t, e.Run(context.Background()))

	require.Len(t, notifier.outcomes, 1)
	assert.Equal(t, StatusSuccess, notifier.outcomes[0].Status)
	assert.Empty(t, notifier.outcomes[0].Message)

	stored, err := store.GetObject(context.Background(), DefaultObjectPath)
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum(stored), notifier.outcomes[0].SHA256)
}

func recordSpans(t *testing.T) (*tracetest.SpanRecorder, Option) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})
	return recorder, WithTracer(provider.Tracer("test"))
}

func spanNames(spans []sdktrace.ReadOnlySpan) []string {
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	return names
}

func TestRunRecordsStageSpans(t *testing.T) {
	recorder, withTracer := recordSpans(t)
	store := memory.NewBlobStore()

	e := newTestExtractor(t, &fakeLauncher{session: &fakeSession{page: examplePage()}}, store, newFakeClock(),
		withTracer, WithRunID("run-7"))
	require.NoError(t, e.Run(context.Background()))

	spans := recorder.Ended()
	assert.Equal(t, []string{
		"snapshot.navigate", "snapshot.settle", "snapshot.extract", "snapshot.persist", "snapshot.run",
	}, spanNames(spans))

	run := spans[len(spans)-1]
	for _, child := range spans[:len(spans)-1] {
		assert.Equal(t, run.SpanContext().SpanID(), child.Parent().SpanID(), child.Name())
	}
	attrs := map[string]string{}
	for _, kv := range run.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, targetURL, attrs["url.full"])
	assert.Equal(t, "run-7", attrs["snapshot.run_id"])
	assert.Equal(t, StatusSuccess, attrs["snapshot.status"])
	assert.Equal(t, codes.Unset, run.Status().Code)
}

func TestRunMarksFailedNavigationSpan(t *testing.T) {
	recorder, withTracer := recordSpans(t)
	navErr := errors.New("net::ERR_CONNECTION_REFUSED")
	session := &fakeSession{navErrs: []error{navErr, navErr, navErr}}

	e := newTestExtractor(t, &fakeLauncher{session: session}, memory.NewBlobStore(), newFakeClock(), withTracer)
	require.NoError(t, e.Run(context.Background()))

	spans := recorder.Ended()
	assert.Equal(t, []string{"snapshot.navigate", "snapshot.persist", "snapshot.run"}, spanNames(spans))
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Status().Description, "ERR_CONNECTION_REFUSED")
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Equal(t, codes.Error, spans[2].Status().Code)
}
