package idgen_test

import (
	"testing"

	"github.com/artpar/metergate/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	a := g.New()
	b := g.New()

	if a == "" || b == "" {
		t.Fatal("expected non-empty IDs")
	}
	if a == b {
		t.Error("expected distinct IDs")
	}
	if len(a) != 36 {
		t.Errorf("len(id) = %d, want 36", len(a))
	}
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential("res-")

	if got := g.New(); got != "res-1" {
		t.Errorf("first id = %s, want res-1", got)
	}
	if got := g.New(); got != "res-2" {
		t.Errorf("second id = %s, want res-2", got)
	}
}
