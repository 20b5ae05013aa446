package enrich

import (
	"github.com/graaaaa/vrcwatch/internal/event"
)

// Upstream trust tags, highest tier first. A player with none of these is a
// newcomer, the lowest visible tier.
var tierTags = []struct {
	tag  string
	tier event.TrustTier
}{
	{"system_trust_veteran", event.TierVeteran},
	{"system_trust_trusted", event.TierTrusted},
	{"system_trust_known", event.TierKnown},
	{"system_trust_basic", event.TierBasic},
}

// Misconduct tags set the flagged bit regardless of tier.
var flagTags = map[string]struct{}{
	"system_troll":          {},
	"system_probable_troll": {},
}

// TierFromTags derives the trust tier from upstream tags.
func TierFromTags(tags []string) event.TrustTier {
	for _, t := range tierTags {
		for _, tag := range tags {
			if tag == t.tag {
				return t.tier
			}
		}
	}
	return event.TierNewcomer
}

// FlaggedFromTags reports whether the tags carry a misconduct flag.
func FlaggedFromTags(tags []string) bool {
	for _, tag := range tags {
		if _, ok := flagTags[tag]; ok {
			return true
		}
	}
	return false
}
