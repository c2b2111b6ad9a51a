package schema

import (
	"net/url"
	"strings"
)

// NormalizePageAddress validates and trims a page address.
// Accepted schemes: http, https, file, about, data.
func NormalizePageAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "", ErrInvalidRequest
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", ErrInvalidRequest
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		if parsed.Host == "" {
			return "", ErrInvalidRequest
		}
	case "file", "about", "data":
	default:
		return "", ErrInvalidRequest
	}
	return trimmed, nil
}
