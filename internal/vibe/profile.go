package vibe

import (
	"strings"

	"vibedj/internal/core"
)

// ProfileInput collects everything the profile builder may consider:
// the prompt, an optional seed track's text, explicit mood/lang overrides,
// recently liked track text, user avoid terms and the learning-derived
// energy/tempo default.
type ProfileInput struct {
	Prompt        string
	SeedText      string
	Mood          string
	Lang          string
	AvoidTerms    []string
	LikedTexts    []string
	LearnedEnergy core.EnergyLevel
	LearnedTempo  core.TempoLevel
}

// BuildProfile derives the target vibe profile for one curation pass.
func BuildProfile(in ProfileInput) core.VibeProfile {
	prompt := Normalize(in.Prompt)
	seed := Normalize(in.SeedText)
	liked := Normalize(strings.Join(in.LikedTexts, " "))
	moodPrompt := Normalize(in.Mood) + " " + prompt + " " + seed
	full := moodPrompt + " " + liked

	profile := core.VibeProfile{
		Languages:       detectProfileLanguages(in.Lang, full),
		Instrumentation: DetectInstruments(full),
		AvoidTerms:      effectiveAvoidTerms(prompt, in.AvoidTerms),
		AllowHeavy:      containsHeavyIntent(full),
	}

	profile.Energy = DetectEnergy(moodPrompt)
	profile.Tempo = DetectTempo(moodPrompt)

	if profile.Tempo == core.TempoNone && profile.Energy != core.EnergyNone {
		profile.Tempo = tempoFromEnergy(profile.Energy)
	}
	if profile.Energy == core.EnergyNone {
		profile.Energy = in.LearnedEnergy
	}
	if profile.Tempo == core.TempoNone {
		profile.Tempo = in.LearnedTempo
		if profile.Tempo == core.TempoNone && profile.Energy != core.EnergyNone {
			profile.Tempo = tempoFromEnergy(profile.Energy)
		}
	}

	return profile
}

func detectProfileLanguages(lang, text string) map[string]struct{} {
	if name := CanonicalLanguage(lang); name != "" {
		return map[string]struct{}{name: {}}
	}
	return DetectLanguages(text)
}

// effectiveAvoidTerms merges the default and user avoid sets, then removes
// any term the prompt itself mentions ("play the live version" must not
// filter out live versions).
func effectiveAvoidTerms(normalizedPrompt string, userTerms []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, term := range append(append([]string{}, DefaultAvoidTerms...), userTerms...) {
		t := Normalize(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		if strings.Contains(normalizedPrompt, t) {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func tempoFromEnergy(e core.EnergyLevel) core.TempoLevel {
	switch e {
	case core.EnergyLow:
		return core.TempoSlow
	case core.EnergyHigh:
		return core.TempoFast
	case core.EnergyMed:
		return core.TempoMedium
	default:
		return core.TempoNone
	}
}

// Summary renders a short human-readable profile description, used in the
// LLM re-scoring request and debug logging.
func Summary(p core.VibeProfile) string {
	var parts []string
	if len(p.Languages) > 0 {
		parts = append(parts, "languages: "+strings.Join(setKeys(p.Languages), ", "))
	}
	if p.Energy != core.EnergyNone {
		parts = append(parts, "energy: "+p.Energy.String())
	}
	if p.Tempo != core.TempoNone {
		parts = append(parts, "tempo: "+p.Tempo.String())
	}
	if len(p.Instrumentation) > 0 {
		parts = append(parts, "instrumentation: "+strings.Join(setKeys(p.Instrumentation), ", "))
	}
	if len(p.AvoidTerms) > 0 {
		parts = append(parts, "avoid: "+strings.Join(p.AvoidTerms, ", "))
	}
	if len(parts) == 0 {
		return "no constraints"
	}
	return strings.Join(parts, "; ")
}

func setKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for _, entry := range languageTable {
		if _, ok := set[entry.Label]; ok {
			out = append(out, entry.Label)
		}
	}
	for _, entry := range instrumentTable {
		if _, ok := set[entry.Label]; ok {
			out = append(out, entry.Label)
		}
	}
	if len(out) == len(set) {
		return out
	}
	// set contains labels outside the known tables; fall back to raw keys
	out = out[:0]
	for k := range set {
		out = append(out, k)
	}
	return out
}
