// Package vibe derives taste profiles from free text and scores tracks
// against them. Classification is pure keyword matching over declarative
// tables so individual detectors stay swappable and testable.
package vibe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"vibedj/internal/core"
)

// keywordEntry binds a label to its match patterns. Tables are ordered
// slices, not maps: ties on hit count break by declaration order.
type keywordEntry struct {
	Label    string
	Keywords []string
}

var energyTable = []keywordEntry{
	{"low", []string{
		"calm", "chill", "relax", "relaxing", "sleep", "soft", "lofi", "lo-fi",
		"mellow", "soothing", "ambient", "peaceful", "quiet", "unwind", "study",
		"rainy", "lullaby", "meditation", "sad",
	}},
	{"med", []string{
		"groove", "groovy", "smooth", "feel good", "feel-good", "vibe", "vibes",
		"cruise", "road trip", "roadtrip", "breezy", "easy", "sunny", "drive",
	}},
	{"high", []string{
		"party", "banger", "bangers", "hype", "workout", "gym", "dance", "edm",
		"pump", "energetic", "upbeat", "festival", "rage", "club", "running",
		"cardio", "intense", "power",
	}},
}

var tempoTable = []keywordEntry{
	{"slow", []string{
		"slow", "ballad", "lofi", "lo-fi", "chill", "downtempo", "lullaby",
		"adagio", "laid back", "laid-back",
	}},
	{"medium", []string{
		"mid tempo", "mid-tempo", "midtempo", "moderate", "steady", "groove",
	}},
	{"fast", []string{
		"fast", "uptempo", "up-tempo", "quick", "rapid", "speed", "sprint",
		"allegro", "bpm",
	}},
}

var instrumentTable = []keywordEntry{
	{"acoustic", []string{"acoustic", "unplugged", "piano", "strings", "violin", "flute", "veena", "sitar"}},
	{"electronic", []string{"electronic", "edm", "synth", "synthwave", "house", "techno", "trance", "dubstep", "electro"}},
	{"orchestral", []string{"orchestra", "orchestral", "symphony", "cinematic", "score", "philharmonic"}},
	{"guitars", []string{"rock", "guitar", "guitars", "riff", "metal", "punk", "grunge"}},
	{"drums", []string{"drums", "percussion", "beat heavy", "drumline", "dhol", "taiko"}},
}

// languageTable maps canonical language names to detection keywords,
// including common script/transliteration hints and language codes users
// pass via the lang parameter.
var languageTable = []keywordEntry{
	{"tamil", []string{"tamil", "kollywood", "tamizh", "chennai"}},
	{"hindi", []string{"hindi", "bollywood", "desi"}},
	{"telugu", []string{"telugu", "tollywood"}},
	{"malayalam", []string{"malayalam", "mollywood"}},
	{"punjabi", []string{"punjabi", "bhangra"}},
	{"english", []string{"english", "billboard", "pop hits"}},
	{"korean", []string{"korean", "kpop", "k-pop"}},
	{"japanese", []string{"japanese", "jpop", "j-pop", "anime"}},
	{"spanish", []string{"spanish", "latino", "latina", "reggaeton"}},
}

// langCodes maps explicit lang override codes to canonical names.
var langCodes = map[string]string{
	"ta": "tamil",
	"hi": "hindi",
	"te": "telugu",
	"ml": "malayalam",
	"pa": "punjabi",
	"en": "english",
	"ko": "korean",
	"ja": "japanese",
	"es": "spanish",
}

var heavyKeywords = []string{
	"metal", "hardstyle", "hardcore", "thrash", "death metal", "heavy",
	"banger", "rage", "dubstep", "drill", "phonk", "mosh",
}

// heavyIntentKeywords mark a prompt that explicitly asks for heavy
// material, which disables the low-energy heavy-track penalty.
var heavyIntentKeywords = append([]string{"rock", "edm"}, heavyKeywords...)

// DefaultAvoidTerms filter out noisy catalog variants unless the prompt
// asks for them.
var DefaultAvoidTerms = []string{"remix", "live", "8d", "nightcore", "slowed", "reverb", "cover"}

var stripMarks = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize lowercases text and strips combining marks so keyword matching
// is stable across accented and decomposed inputs.
func Normalize(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func hitCount(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// detectOrdinal returns the label with the most keyword hits. Ties break
// by table declaration order; zero hits means no detection.
func detectOrdinal(text string, table []keywordEntry) (string, bool) {
	best := ""
	bestHits := 0
	for _, entry := range table {
		if hits := hitCount(text, entry.Keywords); hits > bestHits {
			best = entry.Label
			bestHits = hits
		}
	}
	return best, bestHits > 0
}

// DetectLanguages returns every language with at least one keyword hit.
func DetectLanguages(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, entry := range languageTable {
		if hitCount(text, entry.Keywords) > 0 {
			out[entry.Label] = struct{}{}
		}
	}
	return out
}

// DetectEnergy classifies normalized text on the low/med/high scale.
func DetectEnergy(text string) core.EnergyLevel {
	label, ok := detectOrdinal(text, energyTable)
	if !ok {
		return core.EnergyNone
	}
	return core.ParseEnergy(label)
}

// DetectTempo classifies normalized text on the slow/medium/fast scale.
func DetectTempo(text string) core.TempoLevel {
	label, ok := detectOrdinal(text, tempoTable)
	if !ok {
		return core.TempoNone
	}
	return core.ParseTempo(label)
}

// DetectInstruments returns every instrumentation tag with a keyword hit.
func DetectInstruments(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, entry := range instrumentTable {
		if hitCount(text, entry.Keywords) > 0 {
			out[entry.Label] = struct{}{}
		}
	}
	return out
}

// ContainsHeavy reports whether normalized text hits a heavy-energy keyword.
func ContainsHeavy(text string) bool {
	return hitCount(text, heavyKeywords) > 0
}

func containsHeavyIntent(text string) bool {
	return hitCount(text, heavyIntentKeywords) > 0
}

// CanonicalLanguage resolves an explicit lang override (code or name) to a
// canonical language name, or "" when unrecognized.
func CanonicalLanguage(lang string) string {
	l := Normalize(strings.TrimSpace(lang))
	if l == "" {
		return ""
	}
	if name, ok := langCodes[l]; ok {
		return name
	}
	for _, entry := range languageTable {
		if entry.Label == l {
			return entry.Label
		}
	}
	return ""
}

// LanguageName returns a display name for query composition ("" passthrough).
func LanguageName(lang string) string {
	if name := CanonicalLanguage(lang); name != "" {
		return name
	}
	return strings.TrimSpace(lang)
}
