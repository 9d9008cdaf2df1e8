// Package stems formalizes the on-disk naming convention for separated
// audio stems and the metadata sidecar stored beside them.
package stems
