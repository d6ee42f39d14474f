package location

import (
	"strings"
	"sync"
)

// rule is one step of the cascade. Rules are tried in order and the first
// match decides the Detection.
type rule struct {
	name       string
	match      func(input string) bool
	context    Context
	confidence Confidence
	reason     string
}

// Detector classifies city strings against a Gazetteer.
type Detector struct {
	rules []rule
}

var (
	saudiKeywords         = []string{"saudi", "ksa", "kingdom"}
	administrativeSuffix  = []string{"region", "province", "governorate"}
	holyCityKeywords      = []string{"holy", "sacred"}
	defaultDetectorLoader = sync.OnceValue(func() *Detector {
		return NewDetector(DefaultGazetteer())
	})
)

// NewDetector builds the rule cascade for g.
func NewDetector(g *Gazetteer) *Detector {
	return &Detector{
		rules: []rule{
			{
				name:       "local_exact",
				match:      g.Local.Has,
				context:    ContextSaudi,
				confidence: ConfidenceHigh,
				reason:     "exact match in Saudi city list",
			},
			{
				name:       "international_exact",
				match:      g.International.Has,
				context:    ContextOther,
				confidence: ConfidenceHigh,
				reason:     "exact match in international city list",
			},
			{
				name:       "local_partial",
				match:      g.Local.Overlaps,
				context:    ContextSaudi,
				confidence: ConfidenceMedium,
				reason:     "partial match with a Saudi city name",
			},
			{
				name:       "saudi_keyword",
				match:      containsAny(saudiKeywords),
				context:    ContextSaudi,
				confidence: ConfidenceMedium,
				reason:     "mentions Saudi Arabia or the Kingdom",
			},
			{
				name:       "administrative_suffix",
				match:      hasAnySuffix(administrativeSuffix),
				context:    ContextSaudi,
				confidence: ConfidenceMedium,
				reason:     "named like a Saudi region, province or governorate",
			},
			{
				name:       "holy_city",
				match:      containsAny(holyCityKeywords),
				context:    ContextSaudi,
				confidence: ConfidenceMedium,
				reason:     "likely refers to Makkah or Madinah",
			},
			{
				name:       "international_partial",
				match:      g.International.Overlaps,
				context:    ContextOther,
				confidence: ConfidenceMedium,
				reason:     "partial match with an international city name",
			},
		},
	}
}

// Detect classifies city. It never fails: input no rule recognizes is
// reported as uncertain with low confidence.
func (d *Detector) Detect(city string) Detection {
	input := normalize(city)
	if input == "" {
		return newDetection(ContextUncertain, ConfidenceLow, "no city provided")
	}

	for _, r := range d.rules {
		if r.match(input) {
			return newDetection(r.context, r.confidence, r.reason)
		}
	}

	return newDetection(ContextUncertain, ConfidenceLow, "city not recognized")
}

// RuleNames lists the cascade in evaluation order.
func (d *Detector) RuleNames() []string {
	names := make([]string, 0, len(d.rules))
	for _, r := range d.rules {
		names = append(names, r.name)
	}
	return names
}

// DetectLocationContext classifies city with the embedded gazetteer.
func DetectLocationContext(city string) Detection {
	return defaultDetectorLoader().Detect(city)
}

func containsAny(tokens []string) func(string) bool {
	return func(input string) bool {
		for _, token := range tokens {
			if strings.Contains(input, token) {
				return true
			}
		}
		return false
	}
}

func hasAnySuffix(suffixes []string) func(string) bool {
	return func(input string) bool {
		for _, suffix := range suffixes {
			if strings.HasSuffix(input, suffix) {
				return true
			}
		}
		return false
	}
}
