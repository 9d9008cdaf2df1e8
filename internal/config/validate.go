package config

import (
	"errors"
	"fmt"
)

var knownQualities = map[string]struct{}{"fast": {}, "balanced": {}, "studio": {}}

var knownModes = map[string]struct{}{"grouped": {}, "per_instrument": {}, "karaoke": {}}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StorageDir == "" {
		return errors.New("paths.storage_dir must be set")
	}
	if c.Paths.ArchiveDir == "" {
		return errors.New("paths.archive_dir must be set")
	}
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrentJobs < 1 {
		return errors.New("workflow.max_concurrent_jobs must be at least 1")
	}
	if c.Workflow.MaxJobSeconds < 60 {
		return errors.New("workflow.max_job_seconds must be at least 60")
	}
	if c.Workflow.ReservationTTLSeconds < 1 {
		return errors.New("workflow.reservation_ttl_seconds must be at least 1")
	}
	return nil
}

func (c *Config) validateProcessing() error {
	if _, ok := knownQualities[c.Processing.DefaultQuality]; !ok {
		return fmt.Errorf("processing.default_quality must be one of fast, balanced, studio (got %q)", c.Processing.DefaultQuality)
	}
	if _, ok := knownModes[c.Processing.DefaultMode]; !ok {
		return fmt.Errorf("processing.default_mode must be one of grouped, per_instrument, karaoke (got %q)", c.Processing.DefaultMode)
	}
	if c.Processing.ComplexityThreshold <= 0 {
		return errors.New("processing.complexity_threshold must be positive")
	}
	return nil
}

func (c *Config) validateAuth() error {
	seen := make(map[string]struct{}, len(c.Auth.Tokens))
	for i, tok := range c.Auth.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("auth.tokens[%d].token must be set", i)
		}
		if tok.User == "" {
			return fmt.Errorf("auth.tokens[%d].user must be set", i)
		}
		switch tok.Role {
		case "user", "admin":
		default:
			return fmt.Errorf("auth.tokens[%d].role must be user or admin (got %q)", i, tok.Role)
		}
		if _, dup := seen[tok.Token]; dup {
			return fmt.Errorf("auth.tokens[%d].token duplicates an earlier entry", i)
		}
		seen[tok.Token] = struct{}{}
	}
	return nil
}
