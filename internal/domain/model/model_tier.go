package model

// ModelTier is one selectable backend level. Prices are USD per million tokens.
type ModelTier struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	InputPrice  float64 `json:"input_price"`
	OutputPrice float64 `json:"output_price"`
}

// ModelTiers is ordered cheapest first; escalation only moves to higher indices.
var ModelTiers = []ModelTier{
	{ID: "claude-3-5-haiku-20241022", Name: "Haiku 3.5", InputPrice: 0.25, OutputPrice: 1.25},
	{ID: "claude-haiku-4-5", Name: "Haiku 4.5", InputPrice: 1, OutputPrice: 5},
	{ID: "claude-sonnet-4", Name: "Sonnet 4", InputPrice: 3, OutputPrice: 15},
	{ID: "claude-opus-4-6", Name: "Opus 4.6", InputPrice: 5, OutputPrice: 25},
}

func LastTierIndex() int { return len(ModelTiers) - 1 }

// ClampTierIndex keeps idx inside the tier table.
func ClampTierIndex(idx int) int {
	if idx < 0 {
		return 0
	}
	if idx > LastTierIndex() {
		return LastTierIndex()
	}
	return idx
}

func TierAt(idx int) ModelTier { return ModelTiers[ClampTierIndex(idx)] }

// TierByID falls back to the default tier for unknown ids.
func TierByID(id string) ModelTier {
	if i := TierIndex(id); i >= 0 {
		return ModelTiers[i]
	}
	return ModelTiers[0]
}

// TierIndex returns -1 when id is not in the table.
func TierIndex(id string) int {
	for i, t := range ModelTiers {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Cost prices a call against the tier identified by modelID.
func Cost(modelID string, inputTokens, outputTokens int) float64 {
	t := TierByID(modelID)
	return float64(inputTokens)/1e6*t.InputPrice + float64(outputTokens)/1e6*t.OutputPrice
}
