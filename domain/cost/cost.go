// Package cost maps token consumption to monetary cost.
// The rate table is static configuration; estimation is a pure function.
package cost

// Table maps a provider name to its cost per token.
type Table map[string]float64

// Estimate returns tokens x the provider's per-token rate.
// An unrecognized provider carries rate 0, so its cost is 0.
func (t Table) Estimate(provider string, tokens int64) float64 {
	if tokens <= 0 {
		return 0
	}
	rate, ok := t[provider]
	if !ok {
		return 0
	}
	return float64(tokens) * rate
}

// Rate returns the per-token rate for a provider, 0 if unknown.
func (t Table) Rate(provider string) float64 {
	return t[provider]
}

// DefaultTable returns the built-in rate table. Rates are USD per token
// and can be overridden entirely from configuration.
func DefaultTable() Table {
	return Table{
		"openai":    0.000002,
		"anthropic": 0.000003,
		"gemini":    0.000001,
	}
}
