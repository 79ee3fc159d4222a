// Package resolver decides which engine a job runs on.
package resolver

import (
	"context"
	"strings"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/logging"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
)

// Config is the global engine selection state at the moment a job is dispatched.
type Config struct {
	OfflineMode      bool
	SelectedProvider model.Provider
	Credential       string `json:"-"`
	AllowFallback    bool
}

type Resolution struct {
	Provider      model.Provider
	Credential    string `json:"-"`
	AllowFallback bool
	// Downgraded is set when a remote provider was selected but could not be used.
	Downgraded bool
}

// Resolve maps configuration to an engine choice. It never fails: anything that
// cannot run remotely runs on device without fallback.
func Resolve(ctx context.Context, cfg Config) Resolution {
	local := Resolution{Provider: model.ProviderLocal}

	if cfg.OfflineMode {
		return local
	}
	if !cfg.SelectedProvider.IsRemote() {
		return local
	}
	if _, ok := model.ParseProvider(string(cfg.SelectedProvider)); !ok {
		logging.NewComponentLogger(ctx, "resolver").Infof("unknown_provider provider=%q using=local", cfg.SelectedProvider)
		local.Downgraded = true
		return local
	}

	credential := strings.TrimSpace(cfg.Credential)
	if credential == "" {
		logging.NewComponentLogger(ctx, "resolver").Infof("missing_credential provider=%s using=local", cfg.SelectedProvider)
		local.Downgraded = true
		return local
	}

	return Resolution{
		Provider:      cfg.SelectedProvider,
		Credential:    credential,
		AllowFallback: cfg.AllowFallback,
	}
}
