package cost

import (
	"testing"

	"github.com/santrancisco/ai-gateway/internal/model"
	"github.com/santrancisco/ai-gateway/internal/registry"
)

func TestChatCostFormula(t *testing.T) {
	usage := model.TokenUsage{InputTokens: 1000, OutputTokens: 1000}
	desc := registry.Descriptor{InputPricePer1K: 0.01, OutputPricePer1K: 0.03, PricingSet: true}
	got := Chat(usage, desc)
	if got != 0.040000 {
		t.Fatalf("Chat() = %v, want 0.04", got)
	}
}

func TestChatCostZeroTokens(t *testing.T) {
	usage := model.TokenUsage{}
	desc := registry.Descriptor{InputPricePer1K: 0.01, OutputPricePer1K: 0.03, PricingSet: true}
	if got := Chat(usage, desc); got != 0 {
		t.Fatalf("Chat() = %v, want 0", got)
	}
}

func TestEmbeddingCostUsesInputPriceOnly(t *testing.T) {
	desc := registry.Descriptor{InputPricePer1K: 0.02, OutputPricePer1K: 999, PricingSet: true}
	got := Embedding(500, desc)
	if got != 0.01 {
		t.Fatalf("Embedding() = %v, want 0.01", got)
	}
}

func TestImageCostIsFlatPerImage(t *testing.T) {
	desc := registry.Descriptor{ImagePrice: 0.04, PricingSet: true}
	got := Image(3, desc)
	if got != 0.12 {
		t.Fatalf("Image() = %v, want 0.12", got)
	}
}

func TestFailedRequestCostIsZero(t *testing.T) {
	if Failed() != 0 {
		t.Fatal("Failed() must always be zero")
	}
}

func TestCountableChatAlwaysCounts(t *testing.T) {
	if !Countable(registry.Descriptor{}, registry.CapabilityChat) {
		t.Fatal("chat requests must always count toward cost limits")
	}
}

func TestCountableEmbeddingsOnlyWhenPriced(t *testing.T) {
	if Countable(registry.Descriptor{PricingSet: false}, registry.CapabilityEmbeddings) {
		t.Fatal("unpriced embeddings must not count toward cost limits")
	}
	if !Countable(registry.Descriptor{PricingSet: true}, registry.CapabilityEmbeddings) {
		t.Fatal("priced embeddings must count toward cost limits")
	}
}

func TestRoundHalfEven(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0.0000005, 0.000000}, // rounds to even (0)
		{0.0000015, 0.000002}, // rounds to even (2)
		{0.123456789, 0.123457},
	}
	for _, c := range cases {
		if got := roundHalfEven(c.in, precision); got != c.want {
			t.Errorf("roundHalfEven(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
