package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"vibedj/internal/core"
)

const (
	defaultTemperature = 0.4
	maxTokensCuration  = 800
	maxTokensRescore   = 100
	maxAvoidTerms      = 12
)

type curationResponse struct {
	SearchQueries []string `json:"search_queries"`
	AvoidTerms    []string `json:"avoid_terms"`
	Notes         string   `json:"notes"`
}

type rescoreResponse struct {
	Score float64 `json:"score"`
}

// parseCurationContent decodes a provider reply into a curation result.
// Replies wrapped in markdown code fences are unwrapped first. The legacy
// "queries" key is rejected so a mistrained reply never silently yields an
// empty plan.
func parseCurationContent(content string, source core.CurationSource) (core.CurationResult, error) {
	content = stripCodeFence(content)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return core.CurationResult{}, fmt.Errorf("failed to parse curation response: %w", err)
	}
	if _, legacy := raw["queries"]; legacy {
		if _, ok := raw["search_queries"]; !ok {
			return core.CurationResult{}, fmt.Errorf("curation response uses legacy \"queries\" key")
		}
	}

	var resp curationResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return core.CurationResult{}, fmt.Errorf("failed to parse curation response: %w", err)
	}

	queries := cleanTerms(resp.SearchQueries)
	if len(queries) == 0 {
		return core.CurationResult{}, fmt.Errorf("curation response contains no search queries")
	}

	return core.CurationResult{
		SearchQueries: queries,
		AvoidTerms:    cleanTerms(resp.AvoidTerms),
		Notes:         strings.TrimSpace(resp.Notes),
		Source:        source,
	}, nil
}

func parseRescoreContent(content string) (float64, error) {
	content = stripCodeFence(content)

	var resp rescoreResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return 0, fmt.Errorf("failed to parse rescore response: %w", err)
	}
	if resp.Score < 0 {
		return 0, nil
	}
	if resp.Score > 1 {
		return 1, nil
	}
	return resp.Score, nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// cleanTerms trims, drops empties and removes duplicates while keeping
// the provider's order.
func cleanTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	var out []string
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, term)
	}
	return out
}

func buildCurationSystemPrompt() string {
	return `You are a music curator for an audio playback daemon. Given a listening prompt, produce search queries for a music catalog.

Respond with a JSON object in this exact format:
{
  "search_queries": ["query one", "query two"],
  "avoid_terms": ["remix", "nightcore"],
  "notes": "One short sentence about the direction taken"
}

Rules:
1. Use the key "search_queries" exactly, never "queries"
2. Produce diverse queries covering different angles of the prompt: genre, mood, era, language, similar artists
3. Every query should be usable as-is in a music search box
4. avoid_terms are lowercase single words or short phrases that indicate unwanted variants
5. Respect the requested language if one is given
6. Do not include any text outside the JSON object`
}

func buildCurationUserPrompt(req core.CurationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prompt: %s\n", req.Prompt)
	if req.Seed != "" {
		fmt.Fprintf(&b, "Currently playing seed: %s\n", req.Seed)
	}
	if req.Mood != "" {
		fmt.Fprintf(&b, "Mood: %s\n", req.Mood)
	}
	if req.Lang != "" {
		fmt.Fprintf(&b, "Preferred language: %s\n", req.Lang)
	}
	if len(req.AvoidTerms) > 0 {
		fmt.Fprintf(&b, "Already avoiding: %s\n", strings.Join(req.AvoidTerms, ", "))
	}
	if len(req.Liked) > 0 {
		fmt.Fprintf(&b, "Recently liked tracks: %s\n", strings.Join(req.Liked, "; "))
	}
	if len(req.Disliked) > 0 {
		fmt.Fprintf(&b, "Recently disliked tracks: %s\n", strings.Join(req.Disliked, "; "))
	}
	max := req.MaxQueries
	if max <= 0 {
		max = 10
	}
	fmt.Fprintf(&b, "Produce up to %d search queries.", max)
	return b.String()
}

func buildRescoreSystemPrompt() string {
	return `You judge how well a single track fits a listening profile.

Respond with a JSON object in this exact format:
{"score": 0.75}

Rules:
1. score is a number between 0.0 (no fit) and 1.0 (perfect fit)
2. Judge language, energy, tempo and instrumentation fit from the track title and artist only
3. Do not include any text outside the JSON object`
}

func buildRescoreUserPrompt(trackText, profileSummary string) string {
	return fmt.Sprintf("Profile:\n%s\n\nTrack: %s", profileSummary, trackText)
}
