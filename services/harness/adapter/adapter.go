// Package adapter normalizes the two provider protocol variants into a
// single generate capability. The variant is selected once at startup;
// sampling parameters come from the suite spec and pass through
// unmodified on every call.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evalforge/evalforge/services/harness/transport"
)

const (
	// VariantResponses is the structured multi-part input/output protocol.
	VariantResponses = "responses"
	// VariantChat is the single-message exchange protocol.
	VariantChat = "chat"
)

// FixedParams are the suite-level sampling parameters. There is no
// per-case override.
type FixedParams struct {
	Temperature     float32 `yaml:"temperature" json:"temperature"`
	TopP            float32 `yaml:"top_p" json:"top_p"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`
}

// Usage is the normalized token accounting for one call.
type Usage struct {
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Result is the uniform (text, usage, raw) outcome of one generation.
type Result struct {
	Text  string          `json:"text"`
	Usage Usage           `json:"usage"`
	Raw   json.RawMessage `json:"raw"`
}

// Generator is the uniform generate capability exposed by both variants.
type Generator interface {
	// Name returns the interface variant identifier.
	Name() string

	// Generate sends prompt to the model and returns the normalized result.
	Generate(ctx context.Context, prompt string) (*Result, error)
}

// New selects the tagged generator for the given interface variant.
func New(variant string, client *transport.Client, model, apiKey string, params FixedParams) (Generator, error) {
	switch variant {
	case VariantResponses:
		return newResponsesGenerator(client, responsesURL, model, apiKey, params), nil
	case VariantChat:
		return newChatGenerator(client, chatURL, model, apiKey, params), nil
	default:
		return nil, fmt.Errorf("unknown interface variant %q (want %q or %q)", variant, VariantResponses, VariantChat)
	}
}

func authHeaders(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}
