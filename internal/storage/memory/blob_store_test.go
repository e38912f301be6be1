package memory

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "out/scraped_data.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://out/scraped_data.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, err := store.GetObject(context.Background(), "out/scraped_data.json")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	stored[0] = 'X'
	again, _ := store.GetObject(context.Background(), "out/scraped_data.json")
	if string(again) != "content" {
		t.Fatalf("expected GetObject to return a copy, got %q", again)
	}
	if ct := store.ContentType("out/scraped_data.json"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestBlobStoreOverwrite(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, body := range []string{"first", "second"} {
		if _, err := store.PutObject(ctx, "record.json", "", bytes.NewReader([]byte(body))); err != nil {
			t.Fatalf("PutObject() error = %v", err)
		}
	}
	got, err := store.GetObject(ctx, "record.json")
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected last write to win, got %q", got)
	}
	if store.Writes() != 2 {
		t.Fatalf("expected 2 writes, got %d", store.Writes())
	}
}

func TestBlobStoreErrors(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.PutObject(context.Background(), " ", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
	if _, err := store.GetObject(context.Background(), "missing.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}
