package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// CleanupStrategy selects how old recordings for a channel are pruned.
type CleanupStrategy string

const (
	// CleanupDisabled keeps all recordings.
	CleanupDisabled CleanupStrategy = ""
	// CleanupByCount keeps at most MaxCount recordings.
	CleanupByCount CleanupStrategy = "count"
	// CleanupBySize keeps total recording size under MaxTotalBytes.
	CleanupBySize CleanupStrategy = "size"
	// CleanupByAge deletes recordings older than MaxAge.
	CleanupByAge CleanupStrategy = "age"
	// CleanupComposite applies count, size, and age limits together.
	CleanupComposite CleanupStrategy = "composite"
)

// Channel represents a monitored broadcaster on the streaming platform.
//
// Channels are created by the operator and never auto-deleted. The event
// dispatcher mutates liveness; the operator mutates settings. Per-channel
// fields override the global recording policy when non-empty (see
// policy.Resolver).
type Channel struct {
	BaseModel

	// PlatformID is the broadcaster's stable ID on the external platform.
	PlatformID string `gorm:"not null;size:64;uniqueIndex" json:"platform_id"`

	// Login is the broadcaster's login name, used in output paths and
	// capture tool arguments.
	Login string `gorm:"not null;size:128;uniqueIndex" json:"login"`

	// DisplayName is the broadcaster's display name.
	DisplayName string `gorm:"size:255" json:"display_name"`

	// IsLive tracks the last observed liveness of the channel.
	IsLive bool `gorm:"default:false;index" json:"is_live"`

	// LastLiveAt is when the channel was last observed live or updated by an
	// event. Used by startup reconciliation to stamp abandoned streams.
	LastLiveAt *Time `json:"last_live_at,omitempty"`

	// AutoRecord gates event-triggered recording starts. Operator force-start
	// is the only override.
	AutoRecord *bool `gorm:"default:true" json:"auto_record"`

	// Favorite marks the channel's recordings as exempt from cleanup when
	// the cleanup policy preserves favorites.
	Favorite bool `gorm:"default:false" json:"favorite"`

	// Quality overrides the global quality ladder (e.g. "1440p60,1080p60,best").
	Quality string `gorm:"size:128" json:"quality,omitempty"`

	// Codecs overrides the global codec preference list (e.g. "h265,h264").
	Codecs string `gorm:"size:128" json:"codecs,omitempty"`

	// ProxyURL overrides the global proxy for the capture tool.
	ProxyURL string `gorm:"size:512" json:"proxy_url,omitempty"`

	// FilenameTemplate overrides the global output filename template.
	FilenameTemplate string `gorm:"size:512" json:"filename_template,omitempty"`

	// Cleanup policy overrides. Strategy "" inherits the global policy.
	CleanupStrategy    CleanupStrategy `gorm:"size:16" json:"cleanup_strategy,omitempty"`
	CleanupMaxCount    int             `json:"cleanup_max_count,omitempty"`
	CleanupMaxBytes    int64           `json:"cleanup_max_bytes,omitempty"`
	CleanupMaxAge      time.Duration   `json:"cleanup_max_age,omitempty"`
	PreserveCategories string          `gorm:"size:1024" json:"preserve_categories,omitempty"`
	PreserveFavorites  *bool           `gorm:"default:true" json:"preserve_favorites"`
}

// TableName returns the table name for Channel.
func (Channel) TableName() string {
	return "channels"
}

// AutoRecordEnabled reports whether event-triggered recording is enabled.
func (c *Channel) AutoRecordEnabled() bool {
	return BoolVal(c.AutoRecord)
}

// PreservedCategories returns the cleanup-exempt categories as a slice.
func (c *Channel) PreservedCategories() []string {
	if c.PreserveCategories == "" {
		return nil
	}
	parts := strings.Split(c.PreserveCategories, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate performs basic validation on the channel.
func (c *Channel) Validate() error {
	if c.Login == "" {
		return ErrChannelLoginRequired
	}
	if c.PlatformID == "" {
		return ErrPlatformIDRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates a ULID.
func (c *Channel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// BeforeUpdate is a GORM hook that validates the channel before update.
func (c *Channel) BeforeUpdate(tx *gorm.DB) error {
	return c.Validate()
}
