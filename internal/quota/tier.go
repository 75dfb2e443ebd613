package quota

import "strings"

// Tier is a subscription level.
type Tier string

const (
	TierFree      Tier = "free"
	TierSpotlight Tier = "spotlight"
	TierElite     Tier = "elite"
	TierIcon      Tier = "icon"
)

// Unlimited is the limit value that disables counting for a tier.
const Unlimited = -1

// Tiers lists every known tier from most to least restrictive.
var Tiers = []Tier{TierFree, TierSpotlight, TierElite, TierIcon}

var tierNames = map[Tier]string{
	TierFree:      "Free",
	TierSpotlight: "Spotlight",
	TierElite:     "Elite",
	TierIcon:      "Icon",
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// DisplayName returns the marketing name of the tier.
func (t Tier) DisplayName() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return tierNames[TierFree]
}

// ParseTier normalises a stored tier value. ok is false when the value is
// not a known tier; the returned tier is then TierFree.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return TierFree, false
	}
	return t, true
}
