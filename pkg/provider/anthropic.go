package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const summarizeSystemPrompt = `You summarize documents for a local memory index.
Reply with a single short sentence (at most 30 words) capturing what the document is about.
Reply with the summary only, no preamble.`

// AnthropicProvider implements LLMProvider and SummarizationProvider
// using Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Complete makes a single completion call and returns the text output
func (p *AnthropicProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to call Anthropic API: %w", err)
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(b.Text)
		}
	}

	return sb.String(), nil
}

const describeSystemPrompt = `You describe media files for a local memory index.
Reply with one or two sentences describing what the image shows.
Reply with the description only, no preamble.`

// Describe generates a textual description of an image file. Media types
// without vision support return an empty description, which callers treat
// as "no description available".
func (p *AnthropicProvider) Describe(ctx context.Context, path, contentType string) (string, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read media file: %w", err)
	}

	response, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: describeSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(contentType, base64.StdEncoding.EncodeToString(data)),
				anthropic.NewTextBlock("Describe this image."),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to call Anthropic API: %w", err)
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(b.Text)
		}
	}

	return strings.TrimSpace(sb.String()), nil
}

// Summarize produces a one-sentence summary of content
func (p *AnthropicProvider) Summarize(ctx context.Context, content string) (string, error) {
	const maxInput = 8000
	if len(content) > maxInput {
		content = content[:maxInput]
	}

	summary, err := p.Complete(ctx, summarizeSystemPrompt, content)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(summary), nil
}
