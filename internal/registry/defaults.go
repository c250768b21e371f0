package registry

// chatCaps is the capability set shared by every plain chat model in the
// default catalog: chat, tool use, and streaming. Vision and embeddings are
// added per descriptor where the upstream model actually supports them.
func chatCaps(extra ...Capability) map[Capability]bool {
	caps := map[Capability]bool{CapabilityChat: true, CapabilityTools: true, CapabilityStreaming: true}
	for _, c := range extra {
		caps[c] = true
	}
	return caps
}

// Defaults returns the gateway's built-in model catalog: one Descriptor per
// model the dispatcher knows how to route, spanning every provider family
// named in the external interfaces (OpenAI, Anthropic, Gemini, DeepSeek,
// TogetherAI, XAI, and Bedrock-hosted Meta/Cohere/Mistral). Prices are USD
// per 1,000 tokens, taken from each provider's public list pricing at the
// time this catalog was written. The gateway's configuration has no model
// section, so this list is the whole catalog; changing it means editing it.
func Defaults() []Descriptor {
	return []Descriptor{
		{
			ID: "gpt-4o-mini", Provider: "openai", UpstreamModel: "gpt-4o-mini",
			InputPricePer1K: 0.00015, OutputPricePer1K: 0.0006, PricingSet: true,
			Capabilities: chatCaps(CapabilityVision),
		},
		{
			ID: "gpt-4o", Provider: "openai", UpstreamModel: "gpt-4o",
			InputPricePer1K: 0.0025, OutputPricePer1K: 0.01, PricingSet: true,
			Capabilities: chatCaps(CapabilityVision),
		},
		{
			ID: "text-embedding-3-small", Provider: "openai", UpstreamModel: "text-embedding-3-small",
			InputPricePer1K: 0.00002, PricingSet: true,
			Capabilities: map[Capability]bool{CapabilityEmbeddings: true},
		},
		{
			ID: "dall-e-3", Provider: "openai", UpstreamModel: "dall-e-3",
			ImagePrice: 0.04, PricingSet: true,
			Capabilities: map[Capability]bool{CapabilityImage: true},
		},
		{
			ID: "claude-3-5-sonnet-latest", Provider: "anthropic", UpstreamModel: "claude-3-5-sonnet-latest",
			InputPricePer1K: 0.003, OutputPricePer1K: 0.015, PricingSet: true,
			Capabilities: chatCaps(CapabilityVision),
		},
		{
			ID: "claude-3-5-haiku-latest", Provider: "anthropic", UpstreamModel: "claude-3-5-haiku-latest",
			InputPricePer1K: 0.0008, OutputPricePer1K: 0.004, PricingSet: true,
			Capabilities: chatCaps(),
		},
		{
			ID: "gemini-2.0-flash", Provider: "gemini", UpstreamModel: "gemini-2.0-flash",
			InputPricePer1K: 0.0001, OutputPricePer1K: 0.0004, PricingSet: true,
			Capabilities: chatCaps(CapabilityVision),
		},
		{
			ID: "gemini-1.5-pro", Provider: "gemini", UpstreamModel: "gemini-1.5-pro",
			InputPricePer1K: 0.00125, OutputPricePer1K: 0.005, PricingSet: true,
			Capabilities: chatCaps(CapabilityVision),
		},
		{
			ID: "deepseek-chat", Provider: "deepseek", UpstreamModel: "deepseek-chat", Endpoint: "https://api.deepseek.com/v1",
			InputPricePer1K: 0.00027, OutputPricePer1K: 0.0011, PricingSet: true,
			Capabilities: chatCaps(),
		},
		{
			ID: "meta-llama/Llama-3.3-70B-Instruct-Turbo", Provider: "togetherai", UpstreamModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo", Endpoint: "https://api.together.xyz/v1",
			InputPricePer1K: 0.00088, OutputPricePer1K: 0.00088, PricingSet: true,
			Capabilities: chatCaps(),
		},
		{
			ID: "grok-2-latest", Provider: "xai", UpstreamModel: "grok-2-latest", Endpoint: "https://api.x.ai/v1",
			InputPricePer1K: 0.002, OutputPricePer1K: 0.01, PricingSet: true,
			Capabilities: chatCaps(),
		},
		{
			ID: "bedrock-llama3-70b", Provider: "bedrock", UpstreamModel: "meta.llama3-70b-instruct-v1:0",
			InputPricePer1K: 0.00265, OutputPricePer1K: 0.0035, PricingSet: true,
			Capabilities: chatCaps(),
		},
		{
			ID: "bedrock-command-r-plus", Provider: "bedrock", UpstreamModel: "cohere.command-r-plus-v1:0",
			InputPricePer1K: 0.003, OutputPricePer1K: 0.015, PricingSet: true,
			Capabilities: chatCaps(),
		},
		{
			ID: "bedrock-mistral-large", Provider: "bedrock", UpstreamModel: "mistral.mistral-large-2407-v1:0",
			InputPricePer1K: 0.003, OutputPricePer1K: 0.009, PricingSet: true,
			Capabilities: chatCaps(),
		},
	}
}
