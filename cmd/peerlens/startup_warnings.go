package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/peerlens/peerlens/internal/config"
	"github.com/peerlens/peerlens/internal/detect"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config, registry *detect.Registry) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxFrameBytes > 32<<20 {
		logger.Warn("startup warning: MAX_FRAME_SIZE is very large (increases per-message allocation exposure)",
			"warning_code", "max_frame_bytes_large",
			"max_frame_bytes", cfg.MaxFrameBytes,
			"mode", cfg.Mode,
		)
	}

	// Models whose artifact file is absent silently fall back to simulated
	// detections on first use; say so up front instead.
	for _, missing := range missingModelArtifacts(cfg.ModelDir, registry) {
		logger.Warn("startup warning: model artifact missing, detections for this model will be simulated",
			"warning_code", "model_artifact_missing",
			"model", missing.ID,
			"path", filepath.Join(cfg.ModelDir, missing.Path),
			"mode", cfg.Mode,
		)
	}
}

func missingModelArtifacts(modelDir string, registry *detect.Registry) []detect.Descriptor {
	var missing []detect.Descriptor
	for _, desc := range registry.List() {
		if _, err := os.Stat(filepath.Join(modelDir, desc.Path)); err != nil {
			missing = append(missing, desc)
		}
	}
	return missing
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
