package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Column limits for client supplied click fields. Longer values are cut.
const (
	MaxIPAddressLength = 45
	MaxUserAgentLength = 1024
	MaxRefererLength   = 2048
)

// MaxURLLength bounds original_url
const MaxURLLength = 2048

// Link represents a shortened URL record
type Link struct {
	ID           uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	ShortCode    string       `gorm:"uniqueIndex;type:varchar(20);not null" json:"short_code"`
	OriginalURL  string       `gorm:"type:text;not null;index:idx_links_original_url,length:255" json:"original_url"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt    *time.Time   `gorm:"index" json:"expires_at,omitempty"`
	Owner        *string      `gorm:"type:varchar(64);index" json:"owner,omitempty"`
	ClickCount   int64        `gorm:"not null;default:0" json:"click_count"`
	LastAccessed *time.Time   `json:"last_accessed,omitempty"`
	Clicks       []ClickEvent `gorm:"foreignKey:LinkID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Link
func (Link) TableName() string {
	return "links"
}

// IsExpiredAt reports whether the link's expiry is strictly before now.
func (l *Link) IsExpiredAt(now time.Time) bool {
	if l.ExpiresAt == nil {
		return false
	}
	return now.After(*l.ExpiresAt)
}

// ClickEvent is one durable redirect record. Append-only.
type ClickEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	LinkID    uint      `gorm:"index;not null" json:"-"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	IPAddress string    `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	UserAgent string    `gorm:"type:text" json:"user_agent,omitempty"`
	Referer   string    `gorm:"type:text" json:"referer,omitempty"`
}

// TableName specifies the table name for ClickEvent
func (ClickEvent) TableName() string {
	return "click_events"
}

// ClientMetadata is what the HTTP layer extracts from a redirect request.
type ClientMetadata struct {
	IPAddress string
	UserAgent string
	Referer   string
}

// ClickDetail is the buffered form of a click, queued in Redis until reconciled.
type ClickDetail struct {
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	Referer   string    `json:"referer"`
	Timestamp time.Time `json:"timestamp"`
}

// NewClickDetail stamps client metadata with the click time. Header values
// are cut to the column limits and made valid UTF-8.
func NewClickDetail(meta ClientMetadata, at time.Time) ClickDetail {
	return ClickDetail{
		IPAddress: clip(meta.IPAddress, MaxIPAddressLength),
		UserAgent: clip(meta.UserAgent, MaxUserAgentLength),
		Referer:   clip(meta.Referer, MaxRefererLength),
		Timestamp: at,
	}
}

// Event converts a buffered click into a durable event for the given link.
// Fields are clipped again so entries queued by older builds still fit.
func (d ClickDetail) Event(linkID uint) *ClickEvent {
	return &ClickEvent{
		LinkID:    linkID,
		Timestamp: d.Timestamp,
		IPAddress: clip(d.IPAddress, MaxIPAddressLength),
		UserAgent: clip(d.UserAgent, MaxUserAgentLength),
		Referer:   clip(d.Referer, MaxRefererLength),
	}
}

// clip returns s as valid UTF-8 of at most limit runes
func clip(s string, limit int) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
