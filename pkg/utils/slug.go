package utils

import (
	"github.com/gosimple/slug"
)

// NormalizeSlug creates a URL-friendly slug using the gosimple/slug library
// This handles all Unicode characters including Turkish, European, and other languages
func NormalizeSlug(text string) string {
	if text == "" {
		return ""
	}
	return slug.Make(text)
}

// GenerateEventSlug creates a slug for an event from participant names and external ID
func GenerateEventSlug(home, away, externalID string) string {
	if home == "" {
		home = "team"
	}
	if away == "" {
		away = "team"
	}
	if externalID == "" {
		externalID = "event"
	}
	return NormalizeSlug(home + " vs " + away + " " + externalID)
}

// GenerateProfileSlug creates a slug for a competitor, qualified by sport
// so that namesakes across sports stay distinct
func GenerateProfileSlug(name, sport string) string {
	if name == "" {
		name = "team"
	}
	text := name
	if sport != "" {
		text = sport + " " + name
	}
	return NormalizeSlug(text)
}
