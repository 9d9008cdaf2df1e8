// Package config loads, validates, and defaults the TOML configuration for
// the harmonix daemon and CLI.
package config
