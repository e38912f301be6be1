package snapshot

import (
	"errors"
	"time"
)

// Placeholders substituted when the page does not supply a value.
const (
	PlaceholderTitle           = "No title found"
	PlaceholderHeading         = "No H1 found"
	PlaceholderMetaDescription = "No meta description found"
	PlaceholderLinkText        = "[No text]"
	PlaceholderLinkHref        = "#"
)

// MaxLinks caps the number of anchors kept in a record.
const MaxLinks = 10

// DefaultObjectPath is the object name the record is written to.
const DefaultObjectPath = "scraped_data.json"

// timestampLayout matches ECMAScript Date.prototype.toISOString for UTC times.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Status values reported for a finished run.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Sentinel errors wrapped into the failure chain of a run.
var (
	ErrLaunch     = errors.New("launch browser")
	ErrNavigation = errors.New("navigation failed")
	ErrExtraction = errors.New("extract page data")
)

// Link is one anchor element of the page.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Page is the success record.
type Page struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	Heading         string `json:"heading"`
	MetaDescription string `json:"metaDescription"`
	Links           []Link `json:"links"`
	Timestamp       string `json:"timestamp"`
}

// Failure is the error record written when the page could not be captured.
type Failure struct {
	Error     bool   `json:"error"`
	Message   string `json:"message"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
}

// Outcome summarizes a persisted run for notifications.
type Outcome struct {
	RunID     string `json:"run_id"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	URI       string `json:"uri"`
	SHA256    string `json:"sha256"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
