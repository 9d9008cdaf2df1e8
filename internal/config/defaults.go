package config

import "runtime"

const (
	defaultStorageDir          = "~/.local/share/harmonix/outputs"
	defaultArchiveDir          = "~/.local/share/harmonix/archive"
	defaultStagingDir          = "~/.local/share/harmonix/staging"
	defaultLogDir              = "~/.local/share/harmonix/logs"
	defaultAPIBind             = "127.0.0.1:8937"
	defaultMaxJobSeconds       = 1800
	defaultReservationTTL      = 30
	defaultDemucsBin           = "demucs"
	defaultYtdlpBin            = "yt-dlp"
	defaultAubioBin            = "aubio"
	defaultQuality             = "balanced"
	defaultMode                = "grouped"
	defaultComplexityThreshold = 4.0
	defaultDownloadTimeout     = 300
	defaultAnalyzeTimeout      = 120
	defaultProcessTimeout      = 1200
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StorageDir: defaultStorageDir,
			ArchiveDir: defaultArchiveDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:     runtime.NumCPU(),
			MaxJobSeconds:         defaultMaxJobSeconds,
			ReservationTTLSeconds: defaultReservationTTL,
		},
		Processing: Processing{
			DemucsBin:           defaultDemucsBin,
			YtdlpBin:            defaultYtdlpBin,
			AubioBin:            defaultAubioBin,
			DefaultQuality:      defaultQuality,
			DefaultMode:         defaultMode,
			ComplexityThreshold: defaultComplexityThreshold,
			DownloadTimeout:     defaultDownloadTimeout,
			AnalyzeTimeout:      defaultAnalyzeTimeout,
			ProcessTimeout:      defaultProcessTimeout,
		},
		Activity: Activity{
			Enabled: true,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
