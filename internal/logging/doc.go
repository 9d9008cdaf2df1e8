// Package logging provides slog construction helpers and standardized
// structured field names shared across the daemon.
package logging
