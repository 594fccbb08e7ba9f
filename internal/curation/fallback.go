// Package curation turns expanded search queries into a scored candidate
// pool and selects a bounded queue from it.
package curation

import (
	"strings"

	"vibedj/internal/core"
	"vibedj/internal/vibe"
)

// Compose builds search queries deterministically from the request parts.
// Used whenever the curator collaborator is unavailable or returns nothing.
// Output order is fixed and duplicates are dropped case-insensitively.
func Compose(req core.CurationRequest) core.CurationResult {
	langName := vibe.LanguageName(req.Lang)

	var raw []string
	add := func(parts ...string) {
		var kept []string
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				return // a missing part invalidates the whole permutation
			}
			kept = append(kept, p)
		}
		raw = append(raw, strings.Join(kept, " "))
	}

	add(req.Prompt)
	add(req.Seed)
	add(req.Seed, "similar songs")
	add(req.Mood, req.Prompt)
	add(langName, req.Prompt)
	add(langName, req.Mood, "songs")
	add(req.Prompt, "playlist")
	add(req.Prompt, "hits")

	seen := make(map[string]struct{}, len(raw))
	var queries []string
	for _, q := range raw {
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, q)
	}

	if req.MaxQueries > 0 && len(queries) > req.MaxQueries {
		queries = queries[:req.MaxQueries]
	}

	return core.CurationResult{
		SearchQueries: queries,
		AvoidTerms:    req.AvoidTerms,
		Notes:         "composed heuristically without the curator",
		Source:        core.SourceFallback,
	}
}

var repeatIntentKeywords = []string{"again", "repeat", "replay", "once more", "one more time"}

// WantsRepeats reports whether the prompt explicitly asks for repetition,
// which disables the no-repeat window for that request.
func WantsRepeats(prompt string) bool {
	text := vibe.Normalize(prompt)
	for _, kw := range repeatIntentKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
