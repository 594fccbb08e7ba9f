package vibe

import (
	"strings"

	"vibedj/internal/core"
)

// Partial-credit and unknown-signal tables, indexed by strictness.
// Looser modes trust unknown signals more and punish near-misses less.
const (
	heavyCap         = 0.2
	distantMismatch  = 0.2
	languageMismatch = 0.4
)

func unknownSignalScore(mode core.Strictness) float64 {
	switch mode {
	case core.StrictnessStrict:
		return 0.85
	case core.StrictnessLoose:
		return 0.95
	default:
		return 0.90
	}
}

func nearMissScore(mode core.Strictness) float64 {
	switch mode {
	case core.StrictnessStrict:
		return 0.5
	case core.StrictnessLoose:
		return 0.85
	default:
		return 0.7
	}
}

func instrumentMissScore(mode core.Strictness) float64 {
	switch mode {
	case core.StrictnessStrict:
		return 0.6
	case core.StrictnessLoose:
		return 0.8
	default:
		return 0.7
	}
}

// Score rates a track against a profile in [0,1]. A track matching any
// effective avoid term scores exactly 0. Otherwise four independent
// factors multiply: language, energy, tempo and instrumentation. A
// low-energy profile caps heavy tracks at 0.2 unless heavy material was
// explicitly requested.
func Score(t core.Track, p core.VibeProfile, mode core.Strictness) float64 {
	text := Normalize(t.Text())

	for _, term := range p.AvoidTerms {
		if containsTerm(text, term) {
			return 0
		}
	}

	score := languageFactor(text, p, mode) *
		energyFactor(text, p, mode) *
		tempoFactor(text, p, mode) *
		instrumentFactor(text, p, mode)

	score = clamp01(score)

	if p.Energy == core.EnergyLow && !p.AllowHeavy && ContainsHeavy(text) {
		if score > heavyCap {
			score = heavyCap
		}
	}

	return score
}

func languageFactor(text string, p core.VibeProfile, mode core.Strictness) float64 {
	if len(p.Languages) == 0 {
		return 1.0
	}
	detected := DetectLanguages(text)
	if len(detected) == 0 {
		return unknownSignalScore(mode)
	}
	for lang := range detected {
		if _, ok := p.Languages[lang]; ok {
			return 1.0
		}
	}
	return languageMismatch
}

func energyFactor(text string, p core.VibeProfile, mode core.Strictness) float64 {
	if p.Energy == core.EnergyNone {
		return 1.0
	}
	got := DetectEnergy(text)
	if got == core.EnergyNone {
		return unknownSignalScore(mode)
	}
	return ordinalFactor(int(p.Energy), int(got), mode)
}

func tempoFactor(text string, p core.VibeProfile, mode core.Strictness) float64 {
	if p.Tempo == core.TempoNone {
		return 1.0
	}
	got := DetectTempo(text)
	if got == core.TempoNone {
		return unknownSignalScore(mode)
	}
	return ordinalFactor(int(p.Tempo), int(got), mode)
}

func ordinalFactor(want, got int, mode core.Strictness) float64 {
	switch dist := abs(want - got); dist {
	case 0:
		return 1.0
	case 1:
		return nearMissScore(mode)
	default:
		return distantMismatch
	}
}

func instrumentFactor(text string, p core.VibeProfile, mode core.Strictness) float64 {
	if len(p.Instrumentation) == 0 {
		return 1.0
	}
	tags := DetectInstruments(text)
	if len(tags) == 0 {
		return unknownSignalScore(mode)
	}
	for tag := range tags {
		if _, ok := p.Instrumentation[tag]; ok {
			return 1.0
		}
	}
	return instrumentMissScore(mode)
}

func containsTerm(text, term string) bool {
	return term != "" && strings.Contains(text, term)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
