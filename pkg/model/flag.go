package model

import "encoding/json"

// Serve names which of the two flag values is served.
type Serve string

const (
	ServeA Serve = "A"
	ServeB Serve = "B"
)

func (s Serve) Valid() bool {
	return s == ServeA || s == ServeB
}

// LanguageRule serves a specific value to users matching a language within a
// country rule.
type LanguageRule struct {
	Language   string `json:"language"`
	ServeValue Serve  `json:"serveValue"`
}

// CountryRule serves a specific value to users from a country, optionally
// refined per language.
type CountryRule struct {
	Country    string         `json:"country"`
	ServeValue Serve          `json:"serveValue"`
	Languages  []LanguageRule `json:"languages,omitempty"`
}

// Targeting holds the user-targeting configuration shared by flags and
// experiments. Experiments ignore the serve values, presence alone decides
// eligibility there.
type Targeting struct {
	Countries         []CountryRule `json:"countries,omitempty"`
	ForceIncludeUsers []string      `json:"forceIncludeUsers,omitempty"`
	ForceExcludeUsers []string      `json:"forceExcludeUsers,omitempty"`
}

func (t Targeting) ForceIncluded(userID string) bool {
	return containsString(t.ForceIncludeUsers, userID)
}

func (t Targeting) ForceExcluded(userID string) bool {
	return containsString(t.ForceExcludeUsers, userID)
}

// CountryRuleFor returns the rule matching the given country, if any.
func (t Targeting) CountryRuleFor(country string) (CountryRule, bool) {
	if country == "" {
		return CountryRule{}, false
	}
	for _, rule := range t.Countries {
		if rule.Country == country {
			return rule, true
		}
	}
	return CountryRule{}, false
}

// Flag is a two-valued (A/B) feature flag scoped to a platform and
// environment. A flag accumulates immutable versions on update; only the
// active version is served. Rules is an optional JSON Logic document applied
// against the evaluation context's attributes, taking precedence over
// percentage rollout.
type Flag struct {
	Platform    string `json:"platform"`
	Environment string `json:"environment"`
	FlagKey     string `json:"flagKey"`

	Enabled  bool     `json:"enabled"`
	FlagType FlagType `json:"flagType"`

	ValueA FlagValue `json:"valueA"`
	ValueB FlagValue `json:"valueB"`

	Targeting    Targeting `json:"targeting"`
	DefaultValue Serve     `json:"defaultValue"`

	RolloutEnabled     bool    `json:"rolloutEnabled,omitempty"`
	RolloutPercentageA float64 `json:"rolloutPercentageA,omitempty"`
	RolloutPercentageB float64 `json:"rolloutPercentageB,omitempty"`

	Rules json.RawMessage `json:"rules,omitempty"`

	Version string `json:"version,omitempty"`
}

// Value returns the flag value for the given serve letter.
func (f *Flag) Value(s Serve) FlagValue {
	if s == ServeB {
		return f.ValueB
	}
	return f.ValueA
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
