package registry

import "testing"

func TestLookupExactCaseSensitive(t *testing.T) {
	reg := New([]Descriptor{
		{ID: "gpt-4o-mini", Provider: "openai", InputPricePer1K: 0.00015, OutputPricePer1K: 0.0006, PricingSet: true},
	})
	if _, err := reg.Lookup("GPT-4O-MINI"); err == nil {
		t.Fatal("expected case-sensitive lookup to fail for differently-cased model id")
	}
	d, err := reg.Lookup("gpt-4o-mini")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if d.Provider != "openai" {
		t.Fatalf("Provider = %s, want openai", d.Provider)
	}
}

func TestLookupUnknownModel(t *testing.T) {
	reg := New(nil)
	_, err := reg.Lookup("does-not-exist")
	var notFound *ErrModelNotFound
	if err == nil {
		t.Fatal("expected error")
	}
	if ok := asErrModelNotFound(err, &notFound); !ok {
		t.Fatalf("expected *ErrModelNotFound, got %T", err)
	}
}

func asErrModelNotFound(err error, target **ErrModelNotFound) bool {
	e, ok := err.(*ErrModelNotFound)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestHasCapability(t *testing.T) {
	d := Descriptor{Capabilities: map[Capability]bool{CapabilityChat: true}}
	if !d.HasCapability(CapabilityChat) {
		t.Fatal("expected chat capability")
	}
	if d.HasCapability(CapabilityImage) {
		t.Fatal("did not expect image capability")
	}
}
