package validation

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// SessionIDRegex validates session ID format (UUID-shaped or opaque token)
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateSessionID validates session ID
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if len(sessionID) > 100 {
		return fmt.Errorf("session ID is too long (max 100 characters)")
	}
	if !SessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateRole validates a signaling role name
func ValidateRole(role string) error {
	if role != "viewer" && role != "streamer" {
		return fmt.Errorf("invalid role (must be viewer or streamer)")
	}
	return nil
}

// ValidateBase64Image validates a base64-encoded image payload, with or
// without a data-URL prefix.
func ValidateBase64Image(image string) error {
	if image == "" {
		return fmt.Errorf("image is required")
	}
	if idx := strings.Index(image, ","); idx >= 0 && strings.HasPrefix(image, "data:") {
		image = image[idx+1:]
	}
	if _, err := base64.StdEncoding.DecodeString(image); err != nil {
		return fmt.Errorf("invalid base64 image data: %w", err)
	}
	return nil
}

// ValidateTimestamp validates a client-assigned frame timestamp
func ValidateTimestamp(ts int64) error {
	if ts < 0 {
		return fmt.Errorf("timestamp must be >= 0")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}
