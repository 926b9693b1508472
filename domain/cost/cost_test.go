package cost_test

import (
	"testing"

	"github.com/artpar/metergate/domain/cost"
)

func TestEstimate_KnownProvider(t *testing.T) {
	table := cost.Table{"openai": 0.000002}

	got := table.Estimate("openai", 1500)

	want := 0.003
	if diff := got - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("Estimate = %g, want %g", got, want)
	}
}

func TestEstimate_UnknownProviderIsFree(t *testing.T) {
	table := cost.DefaultTable()

	if got := table.Estimate("unknown-llm", 5000); got != 0 {
		t.Errorf("Estimate for unknown provider = %g, want 0", got)
	}
}

func TestEstimate_NonPositiveTokens(t *testing.T) {
	table := cost.DefaultTable()

	if got := table.Estimate("openai", 0); got != 0 {
		t.Errorf("Estimate with 0 tokens = %g, want 0", got)
	}
	if got := table.Estimate("openai", -10); got != 0 {
		t.Errorf("Estimate with negative tokens = %g, want 0", got)
	}
}

func TestRate_Unknown(t *testing.T) {
	table := cost.Table{"anthropic": 0.000003}

	if got := table.Rate("anthropic"); got != 0.000003 {
		t.Errorf("Rate = %g, want 0.000003", got)
	}
	if got := table.Rate("nobody"); got != 0 {
		t.Errorf("Rate for unknown provider = %g, want 0", got)
	}
}

func TestDefaultTable_CoversBuiltinProviders(t *testing.T) {
	table := cost.DefaultTable()

	for _, name := range []string{"openai", "anthropic", "gemini"} {
		if table.Rate(name) <= 0 {
			t.Errorf("default rate for %s = %g, want > 0", name, table.Rate(name))
		}
	}
}
