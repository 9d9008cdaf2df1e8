// Package services defines the shared error taxonomy and context annotations
// used across the pipeline, plus adapters for the external engines in its
// subpackages.
package services
