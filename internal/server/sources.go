package server

import (
	"slices"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/config"
)

// SourceStatus describes whether a source takes part in retrieval.
type SourceStatus struct {
	Source     article.Source `json:"source"`
	Rank       int            `json:"rank"`
	Enabled    bool           `json:"enabled"`
	Configured bool           `json:"configured"`
	Reason     string         `json:"reason,omitempty"`
}

// Usable reports whether the source is registered with the orchestrator.
func (s SourceStatus) Usable() bool {
	return s.Enabled && s.Configured
}

// SourceStatuses reports every known source in race order.
func SourceStatuses(cfg config.Config) []SourceStatus {
	enabled, _ := cfg.EnabledSources()
	out := make([]SourceStatus, 0, len(article.Sources()))
	for _, src := range article.Sources() {
		st := SourceStatus{Source: src, Rank: src.Rank(), Enabled: slices.Contains(enabled, src)}
		st.Configured, st.Reason = configured(cfg, src)
		if !st.Enabled && st.Reason == "" {
			st.Reason = "not listed in sources.enabled"
		}
		out = append(out, st)
	}
	return out
}

func configured(cfg config.Config, src article.Source) (bool, string) {
	switch src {
	case article.SourceDirect:
		return true, ""
	case article.SourcePrerendered:
		switch cfg.Sources.Prerender.Mode {
		case config.PrerenderChromedp:
			return true, ""
		case config.PrerenderRemote:
			if cfg.Sources.Prerender.Token == "" {
				return false, "sources.prerender.token is not set"
			}
			return true, ""
		default:
			return false, "sources.prerender.mode is not set"
		}
	case article.SourceArchive:
		if cfg.Sources.Archive.BaseURL == "" {
			return false, "sources.archive.base_url is not set"
		}
		return true, ""
	case article.SourceExtraction:
		if cfg.Sources.Extraction.Token == "" {
			return false, "sources.extraction.token is not set"
		}
		return true, ""
	default:
		return false, "unknown source"
	}
}
