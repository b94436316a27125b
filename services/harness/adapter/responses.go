package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/evalforge/evalforge/services/harness/transport"
)

const responsesURL = "https://api.openai.com/v1/responses"

type responsesRequest struct {
	Model           string          `json:"model"`
	Input           []responseInput `json:"input"`
	Temperature     float32         `json:"temperature"`
	TopP            float32         `json:"top_p"`
	MaxOutputTokens int             `json:"max_output_tokens"`
}

type responseInput struct {
	Role    string            `json:"role"`
	Content []responseContent `json:"content"`
}

type responseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesReply struct {
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// responsesGenerator speaks the structured multi-part protocol. Output
// text is the concatenation of every textual content fragment.
type responsesGenerator struct {
	client *transport.Client
	url    string
	model  string
	apiKey string
	params FixedParams
}

func newResponsesGenerator(client *transport.Client, url, model, apiKey string, params FixedParams) *responsesGenerator {
	return &responsesGenerator{
		client: client,
		url:    url,
		model:  model,
		apiKey: apiKey,
		params: params,
	}
}

func (g *responsesGenerator) Name() string { return VariantResponses }

func (g *responsesGenerator) Generate(ctx context.Context, prompt string) (*Result, error) {
	payload := responsesRequest{
		Model: g.model,
		Input: []responseInput{
			{Role: "user", Content: []responseContent{{Type: "input_text", Text: prompt}}},
		},
		Temperature:     g.params.Temperature,
		TopP:            g.params.TopP,
		MaxOutputTokens: g.params.MaxOutputTokens,
	}

	resp, err := g.client.Post(ctx, g.url, authHeaders(g.apiKey), payload)
	if err != nil {
		return nil, err
	}

	var reply responsesReply
	if err := resp.JSON(&reply); err != nil {
		return nil, fmt.Errorf("parsing responses reply: %w", err)
	}

	var parts []string
	for _, item := range reply.Output {
		for _, c := range item.Content {
			if c.Type == "output_text" || c.Type == "text" {
				parts = append(parts, c.Text)
			}
		}
	}

	return &Result{
		Text: strings.TrimSpace(strings.Join(parts, "")),
		Usage: Usage{
			TokensIn:  reply.Usage.InputTokens,
			TokensOut: reply.Usage.OutputTokens,
		},
		Raw: resp.Body,
	}, nil
}
