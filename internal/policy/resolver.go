// Package policy resolves the effective recording policy for a channel.
// Resolution order is per-channel override, then global configuration, then
// built-in defaults. The resolver is pure: it reads a channel snapshot and
// the loaded configuration, and never mutates either.
package policy

import (
	"time"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/models"
)

// Built-in defaults, used when neither channel nor config set a value.
const (
	DefaultQuality          = "best"
	DefaultFilenameTemplate = "{streamer}/{year}-{month}-{day}_{title}_{id}"
)

// CleanupPolicy is the effective retention policy for a channel's recordings.
type CleanupPolicy struct {
	Strategy           models.CleanupStrategy
	MaxCount           int
	MaxBytes           int64
	MaxAge             time.Duration
	PreserveCategories []string
	PreserveFavorites  bool
}

// Enabled reports whether any pruning applies.
func (p CleanupPolicy) Enabled() bool {
	return p.Strategy != models.CleanupDisabled
}

// Policy is the effective recording policy for one channel.
type Policy struct {
	Quality          string
	Codecs           string
	ProxyURL         string
	AuthHeader       string
	FilenameTemplate string
	UseChapters      bool
	Cleanup          CleanupPolicy
}

// Resolver computes effective policies from global configuration.
type Resolver struct {
	recorder config.RecorderConfig
	platform config.PlatformConfig
}

// NewResolver creates a Resolver over the loaded configuration.
func NewResolver(recorder config.RecorderConfig, platform config.PlatformConfig) *Resolver {
	return &Resolver{recorder: recorder, platform: platform}
}

// Resolve produces the effective policy for a channel. A nil channel yields
// the global policy.
func (r *Resolver) Resolve(channel *models.Channel) Policy {
	p := Policy{
		Quality:          firstNonEmpty(r.recorder.Quality, DefaultQuality),
		Codecs:           r.recorder.Codecs,
		ProxyURL:         r.platform.ProxyURL,
		FilenameTemplate: firstNonEmpty(r.recorder.FilenameTemplate, DefaultFilenameTemplate),
		UseChapters:      r.recorder.UseChapters,
	}
	if r.platform.OAuthToken != "" {
		p.AuthHeader = "Authorization=OAuth " + r.platform.OAuthToken
	}

	if channel == nil {
		return p
	}

	if channel.Quality != "" {
		p.Quality = channel.Quality
	}
	if channel.Codecs != "" {
		p.Codecs = channel.Codecs
	}
	if channel.ProxyURL != "" {
		p.ProxyURL = channel.ProxyURL
	}
	if channel.FilenameTemplate != "" {
		p.FilenameTemplate = channel.FilenameTemplate
	}

	p.Cleanup = CleanupPolicy{
		Strategy:           channel.CleanupStrategy,
		MaxCount:           channel.CleanupMaxCount,
		MaxBytes:           channel.CleanupMaxBytes,
		MaxAge:             channel.CleanupMaxAge,
		PreserveCategories: channel.PreservedCategories(),
		PreserveFavorites:  models.BoolVal(channel.PreserveFavorites),
	}

	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
