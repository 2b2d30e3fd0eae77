package advisor

import (
	"sort"
	"strings"
	"time"

	"sitechat/internal/types"
)

const (
	IntentChatter    = "chatter"
	IntentTypography = "typography_change"
	IntentColor      = "color_change"
	IntentTone       = "tone_shift"
	IntentLayout     = "layout_change"
	IntentPublish    = "publish"
	IntentRemoval    = "content_removal"
)

type rule struct {
	intent   string
	kind     types.Kind
	blocking bool
	keywords []string
}

var rules = []rule{
	{intent: IntentPublish, kind: types.KindBlocker, blocking: true, keywords: []string{"publish", "deploy", "launch", "go live"}},
	{intent: IntentRemoval, kind: types.KindWarning, keywords: []string{"delete", "remove", "drop", "clear"}},
	{intent: IntentColor, kind: types.KindRecommendation, keywords: []string{"color", "colour", "palette", "contrast", "dark", "bright"}},
	{intent: IntentTypography, kind: types.KindRecommendation, keywords: []string{"bold", "font", "heading", "headline", "bigger", "smaller", "hero"}},
	{intent: IntentTone, kind: types.KindInsight, keywords: []string{"tone", "voice", "friendly", "formal", "playful", "copy"}},
	{intent: IntentLayout, kind: types.KindAction, keywords: []string{"layout", "move", "section", "grid", "spacing", "column"}},
}

// Classification is the advisor's reading of one turn.
type Classification struct {
	Meta types.AdvisoryMeta
	Kind types.Kind
}

type Advisor struct {
	ttl time.Duration
	now func() time.Time
}

func New(ttl time.Duration) *Advisor {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Advisor{ttl: ttl, now: time.Now}
}

// Classify scores every rule by keyword hits; the best rule wins, earlier rules break ties.
func (a *Advisor) Classify(content string) Classification {
	text := strings.ToLower(content)
	best := -1
	bestHits := 0
	var matched []string
	for i, r := range rules {
		hits := 0
		var words []string
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				hits++
				words = append(words, kw)
			}
		}
		if hits > bestHits {
			best, bestHits, matched = i, hits, words
		}
	}

	kind := types.KindChatter
	meta := types.AdvisoryMeta{
		Intent:     IntentChatter,
		Confidence: 0.2,
		ExpiresAt:  a.now().Add(a.ttl).UTC(),
	}
	if best >= 0 {
		r := rules[best]
		kind = r.kind
		meta.Intent = r.intent
		meta.Blocking = r.blocking
		meta.Confidence = confidence(bestHits)
		sort.Strings(matched)
		meta.RelatedContext = matched
	}
	if strings.HasSuffix(strings.TrimSpace(text), "?") && kind == types.KindChatter {
		kind = types.KindQuestion
	}
	return Classification{Meta: meta, Kind: kind}
}

func confidence(hits int) float64 {
	c := 0.4 + 0.2*float64(hits)
	if c > 0.95 {
		c = 0.95
	}
	return c
}
