// Package workflow coordinates job execution: submissions enter here, get
// deduplicated against the shared library or dispatched to a bounded worker
// pool, and run the download, analyze, separate, finalize pipeline with
// cooperative cancellation at stage boundaries.
package workflow
