package generation

// Preset bundles the quality knobs a caller can select.
type Preset struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	MaxAttempts        int     `json:"max_attempts"`
	SkipVerification   bool    `json:"skip_verification"`
	StrictVerification bool    `json:"strict_verification"`
	CostMultiplier     float64 `json:"cost_multiplier"`
}

// Verification pass thresholds. The strict value applies when the active
// preset requests strict verification.
const (
	VerifyThreshold       = 0.75
	VerifyThresholdStrict = 0.85
)

// Threshold returns the pass threshold the preset's strictness selects.
func (p Preset) Threshold() float64 {
	if p.StrictVerification {
		return VerifyThresholdStrict
	}
	return VerifyThreshold
}

var presets = []Preset{
	{
		ID:               "draft",
		Name:             "Draft",
		Description:      "Fast single-attempt generation, no verification",
		MaxAttempts:      1,
		SkipVerification: true,
		CostMultiplier:   0.7,
	},
	{
		ID:             "standard",
		Name:           "Standard",
		Description:    "Balanced quality with retries and verification",
		MaxAttempts:    3,
		CostMultiplier: 1.0,
	},
	{
		ID:                 "premium",
		Name:               "Premium",
		Description:        "Maximum retries with strict verification",
		MaxAttempts:        5,
		StrictVerification: true,
		CostMultiplier:     1.5,
	},
}

// Presets returns the selectable quality presets in display order.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// GetPreset resolves a preset id, falling back to standard for unknown
// or empty ids.
func GetPreset(id string) Preset {
	for _, p := range presets {
		if p.ID == id {
			return p
		}
	}
	return presets[1]
}

// Cost computes the run cost from the number of scenes that produced an
// image, the per-scene base cost and the preset multiplier.
func Cost(scenesWithImage int, perScene float64, p Preset) float64 {
	return float64(scenesWithImage) * perScene * p.CostMultiplier
}
