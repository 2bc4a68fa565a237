package keywords

import "math"

// Classify buckets a keyword difficulty score into a tier.
func Classify(kd float64) string {
	switch {
	case kd <= 20:
		return "very_easy"
	case kd <= 30:
		return "easy"
	case kd <= 50:
		return "medium"
	case kd <= 70:
		return "hard"
	default:
		return "very_hard"
	}
}

// OpportunityScore blends volume and difficulty into a 0-100 score, higher
// is better. Volume is log-scaled so 10k searches do not dwarf everything,
// and a small intent multiplier nudges commercial queries up. A nil kd
// yields nil: unscored keywords have no opportunity.
func OpportunityScore(kd *float64, volume int, intent string) *float64 {
	if kd == nil {
		return nil
	}
	vol := volume
	if vol < 0 {
		vol = 0
	}
	difficulty := math.Max(0, math.Min(100, *kd))

	volumeScore := 0.0
	if vol > 0 {
		volumeScore = math.Log1p(float64(vol)) / math.Log1p(10000)
	}
	kdScore := 1.0 - difficulty/100.0

	multiplier := 1.0
	switch intent {
	case IntentCommercial:
		multiplier = 1.2
	case IntentInformational:
		multiplier = 1.0
	case IntentFree:
		multiplier = 0.95
	case IntentLocal:
		multiplier = 0.9
	}

	score := (volumeScore*0.6 + kdScore*0.4) * multiplier * 100.0

	// Ultra-low volume is only worth chasing when the keyword is very easy.
	if vol < 10 && difficulty > 20 {
		score *= 0.7
	}

	score = math.Round(math.Max(0, math.Min(100, score))*100) / 100
	return &score
}
