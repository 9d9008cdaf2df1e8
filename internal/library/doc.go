// Package library implements the shared, reference-counted content store for
// deduplicated processing results: write-then-commit publishing, user links
// with usage counting, the archive/restore lifecycle, and two-phase permanent
// deletion.
package library
