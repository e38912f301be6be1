package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/pagesnap/internal/hash/sha256"
)

const contentTypeJSON = "application/json; charset=utf-8"

// encodeRecord renders the record as two-space indented JSON without HTML
// escaping and without a trailing newline.
func encodeRecord(record any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// written describes a persisted record.
type written struct {
	uri    string
	digest string
}

func writeRecord(ctx context.Context, store BlobStore, path string, record any) (written, error) {
	payload, err := encodeRecord(record)
	if err != nil {
		return written{}, err
	}
	uri, err := store.PutObject(ctx, path, contentTypeJSON, bytes.NewReader(payload))
	if err != nil {
		return written{}, fmt.Errorf("write record %s: %w", path, err)
	}
	return written{uri: uri, digest: sha256.Sum(payload)}, nil
}
