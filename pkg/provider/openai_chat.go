package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIChat implements LLMProvider and SummarizationProvider using the
// OpenAI chat completions API
type OpenAIChat struct {
	client openai.Client
	model  string
}

// NewOpenAIChat creates a new OpenAI chat provider
func NewOpenAIChat(apiKey, model string) *OpenAIChat {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIChat{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Provider returns the provider name
func (p *OpenAIChat) Provider() string {
	return "openai"
}

// Complete makes a single completion call and returns the text output
func (p *OpenAIChat) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	response, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("failed to call OpenAI API: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}

	return response.Choices[0].Message.Content, nil
}

// Summarize produces a one-sentence summary of content
func (p *OpenAIChat) Summarize(ctx context.Context, content string) (string, error) {
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
