package budget

import "strings"

// modelRate is USD per million tokens.
type modelRate struct {
	in  float64
	out float64
}

// Rates for common models, matched by substring so dated releases
// ("claude-sonnet-4-20250514") hit their family entry.
var modelRates = []struct {
	match string
	rate  modelRate
}{
	{"claude-opus", modelRate{15.0, 75.0}},
	{"claude-sonnet", modelRate{3.0, 15.0}},
	{"claude-haiku", modelRate{0.80, 4.0}},
	{"gpt-4o-mini", modelRate{0.15, 0.60}},
	{"gpt-4o", modelRate{2.50, 10.0}},
	{"gpt-4", modelRate{30.0, 60.0}},
	{"gpt-3.5", modelRate{0.50, 1.50}},
}

// Conservative fallback for unknown models.
var defaultRate = modelRate{5.0, 15.0}

// EstimateCost converts a token count into USD for the given model.
func EstimateCost(model string, tokensIn, tokensOut int) float64 {
	rate := defaultRate
	lower := strings.ToLower(model)
	for _, r := range modelRates {
		if strings.Contains(lower, r.match) {
			rate = r.rate
			break
		}
	}
	return float64(tokensIn)/1e6*rate.in + float64(tokensOut)/1e6*rate.out
}
