package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/evalforge/evalforge/services/harness/transport"
)

const chatURL = "https://api.openai.com/v1/chat/completions"

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	TopP        float32       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReply struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// chatGenerator speaks the single-message exchange protocol. Output text
// is the first choice's message content, or the empty string when the
// provider returns no choices.
type chatGenerator struct {
	client *transport.Client
	url    string
	model  string
	apiKey string
	params FixedParams
}

func newChatGenerator(client *transport.Client, url, model, apiKey string, params FixedParams) *chatGenerator {
	return &chatGenerator{
		client: client,
		url:    url,
		model:  model,
		apiKey: apiKey,
		params: params,
	}
}

func (g *chatGenerator) Name() string { return VariantChat }

func (g *chatGenerator) Generate(ctx context.Context, prompt string) (*Result, error) {
	payload := chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: g.params.Temperature,
		TopP:        g.params.TopP,
		MaxTokens:   g.params.MaxOutputTokens,
	}

	resp, err := g.client.Post(ctx, g.url, authHeaders(g.apiKey), payload)
	if err != nil {
		return nil, err
	}

	var reply chatReply
	if err := resp.JSON(&reply); err != nil {
		return nil, fmt.Errorf("parsing chat reply: %w", err)
	}

	text := ""
	if len(reply.Choices) > 0 {
		text = reply.Choices[0].Message.Content
	}

	return &Result{
		Text: strings.TrimSpace(text),
		Usage: Usage{
			TokensIn:  reply.Usage.PromptTokens,
			TokensOut: reply.Usage.CompletionTokens,
		},
		Raw: resp.Body,
	}, nil
}
