package domain

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvalidRole          = errors.New("invalid role")
	ErrNotConnected         = errors.New("detection engine not connected")
	ErrDetectionDisabled    = errors.New("detection disabled")
	ErrThrottled            = errors.New("frame throttled")
	ErrDetectionTimeout     = errors.New("detection timed out")
	ErrDetectionUnavailable = errors.New("detection engine unavailable")
)
