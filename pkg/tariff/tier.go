package tariff

import (
	"strings"

	"github.com/raterudder/homedash/pkg/types"
)

// Tier is the pricing tier of a day on a Zen Flex style contract.
type Tier string

const (
	TierUnknown  Tier = "unknown"
	TierEco      Tier = "eco"
	TierSobriety Tier = "sobriety"
)

var accents = strings.NewReplacer("é", "e", "É", "e", "è", "e", "ê", "e")

// ParseTier maps a day label like "Jour Eco" or "Jour Sobriété" to its tier.
func ParseTier(label string) Tier {
	l := strings.ToLower(accents.Replace(strings.TrimSpace(label)))
	switch {
	case l == "":
		return TierUnknown
	case strings.Contains(l, "eco"), strings.Contains(l, "green"), strings.Contains(l, "vert"):
		return TierEco
	case strings.Contains(l, "sobri"), strings.Contains(l, "red"), strings.Contains(l, "rouge"):
		return TierSobriety
	}
	return TierUnknown
}

// Color is the display color of the tier.
func (t Tier) Color() string {
	switch t {
	case TierEco:
		return "green"
	case TierSobriety:
		return "red"
	}
	return "grey"
}

// Outlook is the parsed tariff indicator.
type Outlook struct {
	Today    Tier `json:"today"`
	Tomorrow Tier `json:"tomorrow"`
	// TomorrowKnown is false until the utility publishes tomorrow's tier.
	TomorrowKnown bool `json:"tomorrowKnown"`
}

// Describe parses a tariff indicator. A nil indicator yields an unknown
// outlook.
func Describe(ind *types.TariffIndicator) Outlook {
	if ind == nil {
		return Outlook{Today: TierUnknown, Tomorrow: TierUnknown}
	}
	o := Outlook{
		Today:    ParseTier(ind.Today),
		Tomorrow: ParseTier(ind.Tomorrow),
	}
	o.TomorrowKnown = o.Tomorrow != TierUnknown
	return o
}

// Label is the day label for a tier, as the upstream reports it.
func (t Tier) Label() string {
	switch t {
	case TierEco:
		return "Jour Eco"
	case TierSobriety:
		return "Jour Sobriété"
	}
	return ""
}
