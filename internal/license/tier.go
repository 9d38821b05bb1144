package license

import (
	"fmt"
	"strings"
)

// Tier is an ordered license level. Higher values unlock more components.
type Tier int

const (
	// TierDev is the free development tier.
	TierDev Tier = iota
	// TierFoundation unlocks the foundation stage components.
	TierFoundation
	// TierGrowth unlocks growth stage components.
	TierGrowth
	// TierFull unlocks the complete component set.
	TierFull
	// TierAgency unlocks everything plus agency-only components.
	TierAgency
)

// tierNames is the rank table. Index is the rank.
var tierNames = [...]string{
	TierDev:        "DEV",
	TierFoundation: "FOUNDATION",
	TierGrowth:     "GROWTH",
	TierFull:       "FULL",
	TierAgency:     "AGENCY",
}

// AllTiers returns every tier in ascending order.
func AllTiers() []Tier {
	return []Tier{TierDev, TierFoundation, TierGrowth, TierFull, TierAgency}
}

// ParseTier parses a tier name. Matching is case-insensitive.
func ParseTier(s string) (Tier, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	return TierDev, fmt.Errorf("unknown license tier: %q", s)
}

// IsValid reports whether t is one of the defined tiers.
func (t Tier) IsValid() bool {
	return t >= TierDev && int(t) < len(tierNames)
}

func (t Tier) String() string {
	if !t.IsValid() {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// Satisfies reports whether a license of tier t may access something that
// requires the given tier.
func (t Tier) Satisfies(required Tier) bool {
	return t.IsValid() && required.IsValid() && t >= required
}

// MarshalText encodes the tier as its upper-case name.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid license tier: %d", int(t))
	}
	return []byte(tierNames[t]), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// RequireTier returns a *TierError when actual does not satisfy required.
func RequireTier(actual, required Tier) error {
	if actual.Satisfies(required) {
		return nil
	}
	return &TierError{Required: required, Actual: actual}
}
