package service

import (
	"errors"

	"github.com/Monthlyaway/short-link-analytics/internal/shortcode"
)

var (
	// ErrNotFound means no link exists for the short code
	ErrNotFound = errors.New("short code not found")
	// ErrGone means the link exists but its expiry has passed
	ErrGone = errors.New("short code expired")
	// ErrBufferWrite marks a failed click buffer write. It is logged, never returned by Resolve.
	ErrBufferWrite = errors.New("click buffer write failed")
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs
	ErrInvalidURL = errors.New("invalid URL")
	// ErrInvalidExpiry is returned when a new link would already be expired
	ErrInvalidExpiry = errors.New("expiry must be in the future")
	// ErrAliasTaken is returned when a custom alias is already in use
	ErrAliasTaken = errors.New("alias already taken")
	// ErrInvalidAlias is returned for malformed custom aliases
	ErrInvalidAlias = shortcode.ErrInvalidAlias
)
