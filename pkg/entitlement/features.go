package entitlement

import (
	"sort"
	"strings"
)

type Tier string
type Feature string

const (
	BasicTier    Tier = "basic"
	PremiumTier  Tier = "premium"
	ProTier      Tier = "pro"
	BusinessTier Tier = "business"
)

// DefaultTier is the most restrictive tier. Canceled subscriptions and
// unrecognized plan identifiers fall back to it.
const DefaultTier = BasicTier

const (
	RSVPWaitlist          Feature = "rsvp_waitlist"
	Ticketing             Feature = "ticketing"
	Donations             Feature = "donations"
	CustomBranding        Feature = "custom_branding"
	WhiteLabel            Feature = "white_label"
	KanbanBoards          Feature = "kanban_boards"
	Forums                Feature = "forums"
	TemplateCustomization Feature = "template_customization"
	PrioritySupport       Feature = "priority_support"
)

// Unlimited as MaxEvents disables the event cap.
const Unlimited = -1

type Limits struct {
	MaxEvents       int
	AllowedFeatures map[Feature]bool
}

var PlanFeatures = map[Tier]Limits{
	BasicTier: {
		MaxEvents: 3,
		AllowedFeatures: map[Feature]bool{
			RSVPWaitlist:          false,
			Ticketing:             false,
			Donations:             false,
			CustomBranding:        false,
			WhiteLabel:            false,
			KanbanBoards:          true,
			Forums:                false,
			TemplateCustomization: false,
			PrioritySupport:       false,
		},
	},
	PremiumTier: {
		MaxEvents: 25,
		AllowedFeatures: map[Feature]bool{
			RSVPWaitlist:          true,
			Ticketing:             true,
			Donations:             false,
			CustomBranding:        true,
			WhiteLabel:            false,
			KanbanBoards:          true,
			Forums:                true,
			TemplateCustomization: true,
			PrioritySupport:       false,
		},
	},
	ProTier: {
		MaxEvents: 100,
		AllowedFeatures: map[Feature]bool{
			RSVPWaitlist:          true,
			Ticketing:             true,
			Donations:             true,
			CustomBranding:        true,
			WhiteLabel:            false,
			KanbanBoards:          true,
			Forums:                true,
			TemplateCustomization: true,
			PrioritySupport:       true,
		},
	},
	BusinessTier: {
		MaxEvents: Unlimited,
		AllowedFeatures: map[Feature]bool{
			RSVPWaitlist:          true,
			Ticketing:             true,
			Donations:             true,
			CustomBranding:        true,
			WhiteLabel:            true,
			KanbanBoards:          true,
			Forums:                true,
			TemplateCustomization: true,
			PrioritySupport:       true,
		},
	},
}

// Tiers lists every defined tier from most to least restrictive.
func Tiers() []Tier {
	return []Tier{BasicTier, PremiumTier, ProTier, BusinessTier}
}

// ParseTier normalizes a plan identifier. Unknown or malformed values map to
// DefaultTier with ok set to false so the caller can flag them for review.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, exists := PlanFeatures[t]; !exists {
		return DefaultTier, false
	}
	return t, true
}

// For returns a copy of the limits for tier. It never fails: an unknown tier
// gets the DefaultTier limits.
func For(tier Tier) Limits {
	limits, exists := PlanFeatures[tier]
	if !exists {
		limits = PlanFeatures[DefaultTier]
	}
	features := make(map[Feature]bool, len(limits.AllowedFeatures))
	for f, allowed := range limits.AllowedFeatures {
		features[f] = allowed
	}
	return Limits{MaxEvents: limits.MaxEvents, AllowedFeatures: features}
}

func CanUseFeature(tier Tier, feature Feature) bool {
	return For(tier).AllowedFeatures[feature]
}

// Enabled returns the granted features in a stable order.
func (l Limits) Enabled() []Feature {
	out := make([]Feature, 0, len(l.AllowedFeatures))
	for f, allowed := range l.AllowedFeatures {
		if allowed {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllowsEvents reports whether another event fits under the cap.
func (l Limits) AllowsEvents(current int64) bool {
	if l.MaxEvents == Unlimited {
		return true
	}
	return current < int64(l.MaxEvents)
}

// Rank orders tiers for upgrade/downgrade comparisons.
func Rank(tier Tier) int {
	for i, t := range Tiers() {
		if t == tier {
			return i
		}
	}
	return 0
}
