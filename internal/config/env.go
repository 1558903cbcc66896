package config

import (
	"github.com/caarlos0/env/v11"

	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/internal/engine"
	"github.com/Yoganataa/tiktok-notification-forwarder-sub000/pkg/logx"
)

type engineEnv struct {
	Engine    string `env:"DOWNLOAD_ENGINE"`
	Fallback1 string `env:"DOWNLOAD_ENGINE_FALLBACK_1"`
	Fallback2 string `env:"DOWNLOAD_ENGINE_FALLBACK_2"`
}

// EngineSelection builds the download chain order, layering environment
// overrides on top of the file values. It is meant to be called per fetch so
// an operator can redirect the chain without a restart.
func (m *Manager) EngineSelection() engine.Selection {
	var sel engine.Selection
	if cfg := m.Get(); cfg != nil {
		sel = engine.Selection{
			Primary:   cfg.Download.Engine,
			Fallback1: cfg.Download.Fallback1,
			Fallback2: cfg.Download.Fallback2,
		}
	}

	var ov engineEnv
	if err := env.Parse(&ov); err != nil {
		m.log.Warn("download engine env overrides ignored", logx.Err(err))
		return sel
	}
	if ov.Engine != "" {
		sel.Primary = ov.Engine
	}
	if ov.Fallback1 != "" {
		sel.Fallback1 = ov.Fallback1
	}
	if ov.Fallback2 != "" {
		sel.Fallback2 = ov.Fallback2
	}
	return sel
}
