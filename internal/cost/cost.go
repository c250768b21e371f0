// Package cost implements the gateway's usage-and-cost meter (C4): given a
// finalized token usage record and the model's price descriptor, it computes
// the USD cost of a request to fixed 6-decimal precision.
package cost

import (
	"math"

	"github.com/santrancisco/ai-gateway/internal/model"
	"github.com/santrancisco/ai-gateway/internal/registry"
)

// precision is the number of decimal digits the spec fixes USD cost to.
const precision = 6

// Chat computes the cost of a chat/completions request from its token usage
// and the model's per-1K prices: prompt_tokens/1000*input_price +
// completion_tokens/1000*output_price, rounded half-even to 6 decimals.
func Chat(usage model.TokenUsage, desc registry.Descriptor) float64 {
	raw := float64(usage.InputTokens)/1000*desc.InputPricePer1K + float64(usage.OutputTokens)/1000*desc.OutputPricePer1K
	return roundHalfEven(raw, precision)
}

// Embedding computes the cost of an embeddings request, which prices only
// input tokens.
func Embedding(promptTokens int, desc registry.Descriptor) float64 {
	raw := float64(promptTokens) / 1000 * desc.InputPricePer1K
	return roundHalfEven(raw, precision)
}

// Image computes the cost of an image-generation request: a flat per-image
// price multiplied by the number of images produced.
func Image(count int, desc registry.Descriptor) float64 {
	raw := float64(count) * desc.ImagePrice
	return roundHalfEven(raw, precision)
}

// Failed is the cost of a request that failed before any usage chunk was
// observed: always zero, per the spec's accounting policy.
func Failed() float64 { return 0 }

// Countable reports whether a request against desc should count toward cost
// limits at all. Per the spec's open-question answer, embeddings and image
// requests count only when the relevant price was explicitly configured;
// chat requests always count.
func Countable(desc registry.Descriptor, op registry.Capability) bool {
	switch op {
	case registry.CapabilityEmbeddings, registry.CapabilityImage:
		return desc.PricingSet
	default:
		return true
	}
}

// roundHalfEven rounds v to the given number of decimal digits using
// round-half-to-even (banker's rounding), matching the spec's fixed-precision
// requirement. The standard library has no decimal type suited to USD money
// math at this scale, so the rounding is implemented directly against
// float64; inputs here are bounded (token counts times per-1K prices) well
// within float64's exact-integer range after scaling, so the usual
// floating-point money caveats do not apply at 6 decimal digits.
func roundHalfEven(v float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	scaled := v * scale
	floor := math.Floor(scaled)
	diff := scaled - floor
	const halfEps = 1e-9
	switch {
	case diff < 0.5-halfEps:
		return floor / scale
	case diff > 0.5+halfEps:
		return (floor + 1) / scale
	default:
		// Exactly (or within epsilon of) .5: round to the even neighbor.
		if math.Mod(floor, 2) == 0 {
			return floor / scale
		}
		return (floor + 1) / scale
	}
}
