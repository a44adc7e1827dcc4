// Package artifact loads a candidate game file once and exposes its bytes,
// its best-effort decoded text and the metadata declared in <meta> tags.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// ErrNotFound is returned by Load when the candidate file does not exist.
var ErrNotFound = errors.New("file not found")

// Artifact is an immutable candidate minigame bundle.
type Artifact struct {
	Path  string
	Raw   []byte
	Text  string // UTF-8; invalid bytes replaced with U+FFFD
	Lower string // lowercased Text, shared by the case-insensitive rules
	Lossy bool   // true when Raw was not valid UTF-8

	metaOnce sync.Once
	meta     map[string]string
}

// Load reads the candidate at path.
func Load(path string) (*Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat candidate: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidate: %w", err)
	}
	return New(path, raw), nil
}

// New wraps raw bytes already in memory (uploads, tests).
func New(path string, raw []byte) *Artifact {
	text, lossy := decode(raw)
	return &Artifact{
		Path:  path,
		Raw:   raw,
		Text:  text,
		Lower: strings.ToLower(text),
		Lossy: lossy,
	}
}

// decode returns raw as text, replacing every invalid byte with U+FFFD.
func decode(raw []byte) (string, bool) {
	if utf8.Valid(raw) {
		return string(raw), false
	}
	var b strings.Builder
	b.Grow(len(raw) + 16)
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		b.WriteRune(r)
		raw = raw[size:]
	}
	return b.String(), true
}

// Size is the byte length of the candidate.
func (a *Artifact) Size() int64 {
	return int64(len(a.Raw))
}

var metaRe = regexp.MustCompile(`(?i)<meta\s+[^>]*name\s*=\s*['"]([^'"]+)['"][^>]*content\s*=\s*['"]([^'"]*)['"][^>]*>`)

// Meta returns every <meta name=... content=...> pair. The first occurrence of
// a name wins. Extraction runs once, on first use.
func (a *Artifact) Meta() map[string]string {
	a.metaOnce.Do(func() {
		a.meta = make(map[string]string)
		for _, m := range metaRe.FindAllStringSubmatch(a.Text, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" {
				continue
			}
			if _, seen := a.meta[name]; seen {
				continue
			}
			a.meta[name] = strings.TrimSpace(m[2])
		}
	})
	return a.meta
}

// Pick returns the first non-empty value among the host-prefixed key
// ("maribro:<key>") and the generic key.
func (a *Artifact) Pick(key string) string {
	meta := a.Meta()
	for _, k := range []string{MetaPrefix + key, key} {
		if v := meta[k]; v != "" {
			return v
		}
	}
	return ""
}
