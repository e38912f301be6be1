// Package snapshot captures the headline fields of a single web page through a
// headless browser session and persists them as one JSON record.
//
// A run walks a fixed sequence of stages: launch the browser, navigate with a
// bounded retry budget, let client-side rendering settle, evaluate a read-only
// extraction script, write the record, and close the browser. Every failure
// between launch and extraction is converted into an error record so that
// exactly one record exists after each run. Only a failure to write that record
// is returned to the caller.
package snapshot
