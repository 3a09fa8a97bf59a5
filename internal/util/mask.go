// Package util holds small helpers shared by the HTTP layer.
package util

import (
	"net/url"
	"strings"
)

// HideSecret keeps the first and last few characters of a key or code so
// it can appear in logs.
func HideSecret(secret string) string {
	switch n := len(secret); {
	case n > 8:
		return secret[:4] + "..." + secret[n-4:]
	case n > 4:
		return secret[:2] + "..." + secret[n-2:]
	case n > 2:
		return secret[:1] + "..." + secret[n-1:]
	default:
		return secret
	}
}

// MaskSensitiveQuery hides the values of key, token, secret and gift card
// code parameters in a raw query string.
func MaskSensitiveQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	changed := false
	for i, part := range parts {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		decodedKey, errKey := url.QueryUnescape(key)
		if errKey != nil {
			decodedKey = key
		}
		if !sensitiveParam(decodedKey) {
			continue
		}
		decodedValue, errValue := url.QueryUnescape(value)
		if errValue != nil {
			decodedValue = value
		}
		parts[i] = key + "=" + url.QueryEscape(HideSecret(strings.TrimSpace(decodedValue)))
		changed = true
	}
	if !changed {
		return raw
	}
	return strings.Join(parts, "&")
}

// MaskPath hides the gift card code or link token segment of an API path.
func MaskPath(path string) string {
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		switch segments[i-1] {
		case "gift-cards", "links":
			segments[i] = HideSecret(segments[i])
		}
	}
	return strings.Join(segments, "/")
}

func sensitiveParam(key string) bool {
	key = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(key)), "[]")
	switch {
	case key == "":
		return false
	case key == "key", key == "code":
		return true
	case strings.Contains(key, "api-key"), strings.Contains(key, "apikey"), strings.Contains(key, "api_key"):
		return true
	default:
		return strings.Contains(key, "token") || strings.Contains(key, "secret")
	}
}
