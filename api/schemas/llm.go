// api/schemas/llm.go
package schemas

import "context"

// ModelTier selects between the cheap/fast model and the expensive/capable
// one when routing a generation request.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tunes a single generation call.
type GenerationOptions struct {
	Temperature     float32
	ForceJSONFormat bool
	MaxOutputTokens int
}

// GenerationRequest is the single operation contract of the reasoning
// service. Screenshot, when present, is a PNG of the current page used to
// ground the decision visually.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Screenshot   []byte
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient abstracts the reasoning-service provider. Implementations retry
// transient transport failures internally; a returned error is final for the
// caller.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
