package artifact

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// MetaPrefix marks host-specific meta names that take precedence over generic ones.
const MetaPrefix = "maribro:"

const (
	defaultMaxDurationSec = 90
	minMaxDurationSec     = 5
	maxMaxDurationSec     = 300
)

// GameMetadata is the catalogue entry derived from a game's meta tags.
type GameMetadata struct {
	ID              string `json:"id"`
	Filename        string `json:"filename"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Author          string `json:"author"`
	CreatorAvatarID string `json:"creatorAvatarId"`
	MaxDurationSec  int    `json:"maxDurationSec"`
	UploadedAt      string `json:"uploadedAt"`
}

// Metadata derives the catalogue entry for the artifact stored as filename.
// A zero uploadedAt is replaced with the current time.
func (a *Artifact) Metadata(filename string, uploadedAt time.Time) GameMetadata {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	title := a.Pick("title")
	if title == "" {
		title = stem
	}
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}

	return GameMetadata{
		ID:              stem,
		Filename:        filepath.Base(filename),
		Title:           title,
		Description:     a.Pick("description"),
		Author:          a.Pick("author"),
		CreatorAvatarID: a.Pick("creatorAvatarId"),
		MaxDurationSec:  parseMaxDuration(a.Pick("maxDurationSec")),
		UploadedAt:      uploadedAt.UTC().Format(time.RFC3339),
	}
}

// parseMaxDuration accepts integer or fractional seconds, truncates, and clamps
// to [5, 300]. Anything unparsable yields the default of 90.
func parseMaxDuration(raw string) int {
	if raw == "" {
		return defaultMaxDurationSec
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultMaxDurationSec
	}
	n := int(f)
	if n < minMaxDurationSec {
		return minMaxDurationSec
	}
	if n > maxMaxDurationSec {
		return maxMaxDurationSec
	}
	return n
}
