package testsupport

import (
	"testing"

	"harmonix/internal/config"
	"harmonix/internal/library"
	"harmonix/internal/logging"
)

// MustOpenStore opens a library store rooted in the config's storage
// directories. Tests run strict so counter violations fail loudly.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...library.Option) *library.Store {
	t.Helper()

	opts = append([]library.Option{library.WithStrict(true)}, opts...)
	store, err := library.NewStore(cfg.Paths.StorageDir, cfg.Paths.ArchiveDir, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("library.NewStore: %v", err)
	}
	return store
}
