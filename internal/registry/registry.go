// Package registry holds the static model-to-provider price table (the
// spec's ModelDescriptor) that the router consults to select an adapter and
// the cost meter consults to price a finished request. The table is built
// once at startup from the built-in Defaults catalog and never mutated
// afterward, so lookups require no synchronization.
package registry

import "fmt"

// Capability names a feature a model supports.
type Capability string

const (
	// CapabilityChat marks a model usable for /v1/chat/completions.
	CapabilityChat Capability = "chat"

	// CapabilityEmbeddings marks a model usable for /v1/embeddings.
	CapabilityEmbeddings Capability = "embeddings"

	// CapabilityImage marks a model usable for /v1/images/generations.
	CapabilityImage Capability = "image"

	// CapabilityTools marks a model that accepts tool declarations.
	CapabilityTools Capability = "tools"

	// CapabilityVision marks a model that accepts image input parts.
	CapabilityVision Capability = "vision"

	// CapabilityStreaming marks a model that supports streamed responses.
	CapabilityStreaming Capability = "streaming"
)

// Descriptor binds a model id to the provider that serves it and its prices.
// InputPricePer1K and OutputPricePer1K are USD per 1,000 tokens; ImagePrice is
// a flat USD-per-image price used instead of token pricing for image
// generation. A zero price field means the operation is free, not unpriced:
// see Registry.HasPrice for the "no price configured" distinction the spec's
// cost-limit open question depends on.
type Descriptor struct {
	// ID is the model identifier as presented by clients (e.g. "gpt-4o-mini").
	ID string

	// Provider is the upstream family tag (e.g. "openai", "anthropic", "gemini",
	// "bedrock", "deepseek", "togetherai", "xai").
	Provider string

	// UpstreamModel is the model name sent to the upstream API, when it differs
	// from ID (Bedrock model ARNs, provider-prefixed Gemini names, etc.).
	UpstreamModel string

	// Endpoint optionally overrides the provider's default base URL.
	Endpoint string

	InputPricePer1K  float64
	OutputPricePer1K float64
	ImagePrice       float64

	// PricingSet records whether a price was explicitly configured, as opposed
	// to defaulting to zero. Used to decide whether embeddings/image requests
	// count toward cost limits.
	PricingSet bool

	Capabilities map[Capability]bool
}

// HasCapability reports whether the descriptor declares cap.
func (d Descriptor) HasCapability(cap Capability) bool {
	return d.Capabilities[cap]
}

// Registry is an immutable, case-sensitive lookup table of Descriptors keyed
// by model id. Build once at startup via New; safe for concurrent read-only
// use from every request goroutine thereafter.
type Registry struct {
	byID map[string]Descriptor
}

// ErrModelNotFound is returned by Lookup when no descriptor matches.
type ErrModelNotFound struct {
	Model string
}

func (e *ErrModelNotFound) Error() string {
	return fmt.Sprintf("registry: model %q not found", e.Model)
}

// New builds a Registry from the given descriptors. Later entries with a
// duplicate ID overwrite earlier ones, mirroring YAML-map-merge semantics.
func New(descriptors []Descriptor) *Registry {
	byID := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		byID[d.ID] = d
	}
	return &Registry{byID: byID}
}

// Lookup returns the descriptor for model, matched case-sensitively and
// exactly per the spec's C9 model-selection rule.
func (r *Registry) Lookup(model string) (Descriptor, error) {
	d, ok := r.byID[model]
	if !ok {
		return Descriptor{}, &ErrModelNotFound{Model: model}
	}
	return d, nil
}

// List returns all descriptors for GET /v1/models, in no particular order;
// callers sort if a stable order is required.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	return out
}
